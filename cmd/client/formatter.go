package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/natssync/mstress/pkg/types"
)

type OutputFormatter interface {
	FormatClients(c types.ClientCollection)
	FormatEcho(r types.TestResult)
	FormatFlood(results []types.TestResult)
	FormatThroughput(r types.ThroughputResult)
	FormatStats(s types.StatsCollection)
	FormatError(err error)
}

type JSONFormatter struct {
	writer io.Writer
	errw   io.Writer
}

func (f *JSONFormatter) encode(v interface{}) {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(f.errw, "mstress client: error: encode output: %v\n", err)
	}
}

func (f *JSONFormatter) FormatClients(c types.ClientCollection) {
	f.encode(c)
}

func (f *JSONFormatter) FormatEcho(r types.TestResult) {
	f.encode(r)
}

func (f *JSONFormatter) FormatFlood(results []types.TestResult) {
	f.encode(results)
}

func (f *JSONFormatter) FormatThroughput(r types.ThroughputResult) {
	f.encode(r)
}

func (f *JSONFormatter) FormatStats(s types.StatsCollection) {
	f.encode(s)
}

func (f *JSONFormatter) FormatError(err error) {
	f.encode(map[string]string{"error": err.Error()})
}

// PlainFormatter prints key=value lines for scripts.
type PlainFormatter struct {
	writer io.Writer
	errw   io.Writer
}

func (f *PlainFormatter) FormatClients(c types.ClientCollection) {
	fmt.Fprintf(f.writer, "count=%d\n", c.Count)
	for _, client := range c.Clients {
		fmt.Fprintf(f.writer, "client=%s\n", client)
	}
}

func (f *PlainFormatter) FormatEcho(r types.TestResult) {
	fmt.Fprintf(f.writer, "client=%s success=%t response_count=%d\n", r.Client, r.Success, r.ResponseCount)
}

func (f *PlainFormatter) FormatFlood(results []types.TestResult) {
	for _, r := range results {
		f.FormatEcho(r)
	}
}

func (f *PlainFormatter) FormatThroughput(r types.ThroughputResult) {
	fmt.Fprintf(f.writer, "client=%s count=%d mps=%.2f\n", r.Client, r.Count, r.MPS)
}

func (f *PlainFormatter) FormatStats(s types.StatsCollection) {
	for _, r := range s.Results {
		f.FormatThroughput(r)
	}
	fmt.Fprintf(f.writer, "min=%.2f\n", s.Min)
	fmt.Fprintf(f.writer, "max=%.2f\n", s.Max)
	fmt.Fprintf(f.writer, "average=%.2f\n", s.Average)
}

func (f *PlainFormatter) FormatError(err error) {
	fmt.Fprintf(f.errw, "mstress client: error: %v\n", err)
}

type InteractiveFormatter struct {
	writer  io.Writer
	errw    io.Writer
	verbose bool
	noColor bool
}

func NewInteractiveFormatter(w, errw io.Writer, verbose, noColor bool) *InteractiveFormatter {
	return &InteractiveFormatter{writer: w, errw: errw, verbose: verbose, noColor: noColor}
}

func (f *InteractiveFormatter) paint(code, s string) string {
	if f.noColor {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *InteractiveFormatter) status(ok bool) string {
	if ok {
		return f.paint("32", "ok  ")
	}
	return f.paint("31", "FAIL")
}

func (f *InteractiveFormatter) FormatClients(c types.ClientCollection) {
	fmt.Fprintf(f.writer, "%s client(s) registered\n", humanize.Comma(int64(c.Count)))
	for _, client := range c.Clients {
		fmt.Fprintf(f.writer, "  %s\n", client)
	}
}

func (f *InteractiveFormatter) FormatEcho(r types.TestResult) {
	fmt.Fprintf(f.writer, " %s %-24s %s response(s)\n", f.status(r.Success), r.Client, humanize.Comma(int64(r.ResponseCount)))
}

func (f *InteractiveFormatter) FormatFlood(results []types.TestResult) {
	passed := 0
	for _, r := range results {
		if r.Success {
			passed++
		}
		if f.verbose || !r.Success {
			f.FormatEcho(r)
		}
	}
	summary := fmt.Sprintf("%d/%d clients answered every request", passed, len(results))
	if passed == len(results) {
		summary = f.paint("32", summary)
	} else {
		summary = f.paint("33", summary)
	}
	fmt.Fprintln(f.writer, summary)
}

func (f *InteractiveFormatter) FormatThroughput(r types.ThroughputResult) {
	fmt.Fprintf(f.writer, " %-24s %s msg/s (%s round trips)\n",
		r.Client, f.paint("36", humanize.CommafWithDigits(r.MPS, 1)), humanize.Comma(int64(r.Count)))
}

func (f *InteractiveFormatter) FormatStats(s types.StatsCollection) {
	fmt.Fprintln(f.writer, "\nThroughput:")
	for _, r := range s.Results {
		f.FormatThroughput(r)
	}
	fmt.Fprintf(f.writer, "\n %s %s msg/s\n", f.paint("33", "min:"), humanize.CommafWithDigits(s.Min, 1))
	fmt.Fprintf(f.writer, " %s %s msg/s\n", f.paint("33", "max:"), humanize.CommafWithDigits(s.Max, 1))
	fmt.Fprintf(f.writer, " %s %s msg/s\n", f.paint("33", "avg:"), humanize.CommafWithDigits(s.Average, 1))
}

func (f *InteractiveFormatter) FormatError(err error) {
	fmt.Fprintf(f.errw, "%s %v\n", f.paint("31", "error:"), err)
}

// quietFormatter only reports errors.
type quietFormatter struct {
	OutputFormatter
}

func (quietFormatter) FormatClients(types.ClientCollection)    {}
func (quietFormatter) FormatEcho(types.TestResult)             {}
func (quietFormatter) FormatFlood([]types.TestResult)          {}
func (quietFormatter) FormatThroughput(types.ThroughputResult) {}
func (quietFormatter) FormatStats(types.StatsCollection)       {}

func createFormatter(config *Config, stdout, stderr io.Writer) OutputFormatter {
	if config.Quiet {
		return quietFormatter{&PlainFormatter{writer: io.Discard, errw: stderr}}
	}
	if config.JSON {
		return &JSONFormatter{writer: stdout, errw: stderr}
	}
	if config.Plain {
		return &PlainFormatter{writer: stdout, errw: stderr}
	}
	return NewInteractiveFormatter(stdout, stderr, config.Verbose, config.NoColor)
}
