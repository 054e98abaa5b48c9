// Package check implements the `mstress check` subcommand: a one-shot
// liveness sweep that floods every directory client with a single message
// and reports who stayed silent.
package check

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/natssync/mstress/pkg/client"
)

var (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

const (
	minTimeoutSeconds = 1
	maxTimeoutSeconds = 300
	defaultBatchSize  = 100
)

// CheckResult is the structured output of mstress check.
type CheckResult struct {
	SchemaVersion string   `json:"schema_version"`
	Status        string   `json:"status"`
	ServerURL     string   `json:"server_url"`
	Clients       int      `json:"clients"`
	Responding    int      `json:"responding"`
	Silent        []string `json:"silent"`
	DurationMs    int64    `json:"duration_ms"`
}

var runCheckFn = runCheck

func Run(args []string, version string) int {
	return run(args, os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	flagSet := flag.NewFlagSet("mstress check", flag.ContinueOnError)
	flagSet.SetOutput(stderr)

	var (
		serverURL string
		jsonOut   bool
		timeout   int
		batchSize int
		apiKey    string
	)
	flagSet.StringVar(&serverURL, "server-url", "http://localhost:8080", "Server URL")
	flagSet.StringVar(&serverURL, "S", "http://localhost:8080", "Server URL (short)")
	flagSet.BoolVar(&jsonOut, "json", false, "Output as JSON")
	flagSet.IntVar(&timeout, "timeout", 30, "Overall timeout in seconds")
	flagSet.IntVar(&batchSize, "batch", defaultBatchSize, "Clients per flood request")
	flagSet.StringVar(&apiKey, "api-key", "", "API key")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		return exitUsage
	}
	if *help {
		printUsage(stdout)
		return exitSuccess
	}
	if timeout < minTimeoutSeconds || timeout > maxTimeoutSeconds {
		fmt.Fprintf(stderr, "mstress check: timeout must be between %d and %d seconds\n", minTimeoutSeconds, maxTimeoutSeconds)
		return exitUsage
	}
	if batchSize < 1 {
		fmt.Fprintln(stderr, "mstress check: batch must be positive")
		return exitUsage
	}

	rest := flagSet.Args()
	if len(rest) > 1 {
		fmt.Fprintln(stderr, "mstress check: too many positional arguments")
		return exitUsage
	}
	if len(rest) > 0 {
		serverURL = rest[0]
	}
	if !isValidServerURL(serverURL) {
		fmt.Fprintf(stderr, "mstress check: invalid server URL: %q\n", serverURL)
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := runCheckFn(ctx, serverURL, apiKey, batchSize)
	if err != nil {
		if jsonOut {
			errResp := map[string]interface{}{
				"schema_version": "1.0",
				"error":          true,
				"code":           "check_failed",
				"message":        err.Error(),
			}
			if encErr := json.NewEncoder(stdout).Encode(errResp); encErr != nil {
				fmt.Fprintf(stderr, "mstress check: json encode error: %v\n", encErr)
			}
		} else {
			fmt.Fprintf(stderr, "mstress check: error: %v\n", err)
		}
		return exitFailure
	}
	if result.DurationMs == 0 {
		result.DurationMs = time.Since(start).Milliseconds()
	}

	if jsonOut {
		if encErr := json.NewEncoder(stdout).Encode(result); encErr != nil {
			fmt.Fprintf(stderr, "mstress check: json encode error: %v\n", encErr)
			return exitFailure
		}
	} else {
		printHuman(stdout, result)
	}

	if result.Status != "ok" {
		return exitFailure
	}
	return exitSuccess
}

func runCheck(ctx context.Context, serverURL, apiKey string, batchSize int) (*CheckResult, error) {
	var opts []client.Option
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	c := client.New(serverURL, opts...)
	if err := c.Healthy(ctx); err != nil {
		return nil, err
	}
	dir, err := c.Clients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}

	result := &CheckResult{
		SchemaVersion: "1.0",
		Status:        "ok",
		ServerURL:     c.ServerURL(),
		Clients:       len(dir.Clients),
		Silent:        []string{},
	}
	for start := 0; start < len(dir.Clients); start += batchSize {
		end := min(start+batchSize, len(dir.Clients))
		batch, err := c.Flood(ctx, dir.Clients[start:end], 1)
		if err != nil {
			return nil, fmt.Errorf("flood: %w", err)
		}
		for _, r := range batch {
			if r.Success {
				result.Responding++
			} else {
				result.Silent = append(result.Silent, r.Client)
			}
		}
	}
	if len(result.Silent) > 0 {
		result.Status = "degraded"
	}
	return result, nil
}

func printHuman(w io.Writer, r *CheckResult) {
	fmt.Fprintf(w, "Status: %s (%s)\n", r.Status, r.ServerURL)
	fmt.Fprintf(w, "  Clients:    %d\n", r.Clients)
	fmt.Fprintf(w, "  Responding: %d\n", r.Responding)
	if len(r.Silent) > 0 {
		fmt.Fprintf(w, "  Silent:     %s\n", strings.Join(r.Silent, ", "))
	}
	fmt.Fprintf(w, "  Took:       %d ms\n", r.DurationMs)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: mstress check [flags] [server-url]

Liveness sweep: sends one echo to every directory client in batches and
lists the ones that did not answer.

Flags:
  -h, --help              Show help
  -S, --server-url string Server URL (default: http://localhost:8080)
  --json                  Output as JSON
  --timeout int           Overall timeout in seconds (default: 30)
  --batch int             Clients per flood request (default: 100)
  --api-key string        API key for authentication

Exit codes:
  0   Every client answered
  1   Some clients silent, or error
  2   Usage error
`)
}

func isValidServerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if port := u.Port(); port != "" {
		var n int
		if _, err := fmt.Sscanf(port, "%d", &n); err != nil || n < 1 || n > 65535 {
			return false
		}
	}
	return u.Hostname() != ""
}
