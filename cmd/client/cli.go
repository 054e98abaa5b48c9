// Package client implements the `mstress client` subcommand, a thin CLI over
// the control-plane HTTP API.
package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

const (
	exitSuccess   = 0
	exitFailure   = 1
	exitUsage     = 2
	exitInterrupt = 130
)

const (
	defaultServerURL = "http://localhost:8080"
	defaultTimeout   = 60
)

// Run parses args, runs one command and returns the process exit code.
func Run(args []string, version string) int {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	return run(args, version, os.Stdout, os.Stderr, isTTY, getConfigPath())
}

func run(args []string, version string, stdout, stderr io.Writer, isTTY bool, configPath string) int {
	warn := func(format string, a ...interface{}) {
		fmt.Fprintf(stderr, "mstress client: warning: "+format+"\n", a...)
	}

	flagConfig, flagsSet, rest, code, err := parseFlags(args, version, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "mstress client: error: %v\n", err)
		return code
	}
	if flagConfig == nil {
		return code
	}

	configFile, err := loadConfigFile(configPath)
	if err != nil {
		warn("failed to load config file: %v", err)
	}
	config := mergeConfig(flagConfig, configFile, flagsSet, warn)
	if err := validateServerURL(config.ServerURL); err != nil {
		fmt.Fprintf(stderr, "mstress client: error: %v\n", err)
		return exitUsage
	}
	if !config.JSON && !config.Plain && !isTTY {
		config.Plain = true
	}

	cmd, err := parseCommand(rest)
	if err != nil {
		fmt.Fprintf(stderr, "mstress client: error: %v\n\nSee: mstress client --help\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(config.Timeout)*time.Second)
	defer cancel()

	formatter := createFormatter(config, stdout, stderr)
	if err := execute(ctx, config, cmd, formatter); err != nil {
		if errors.Is(err, errProbeFailed) {
			return exitFailure
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return exitInterrupt
		}
		formatter.FormatError(err)
		return exitFailure
	}
	return exitSuccess
}

func parseFlags(args []string, version string, stdout io.Writer) (*Config, map[string]bool, []string, int, error) {
	config := &Config{}
	flagsSet := make(map[string]bool)

	flagSet := flag.NewFlagSet("mstress client", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&config.Server, "server", "", "Server alias or URL")
	flagSet.StringVar(&config.Server, "S", "", "Server alias or URL (short)")
	flagSet.StringVar(&config.ServerURL, "server-url", "", "Server URL (override)")
	flagSet.StringVar(&config.APIKey, "api-key", "", "Bearer token for authentication")
	flagSet.IntVar(&config.Timeout, "timeout", 0, "Overall timeout in seconds")
	flagSet.BoolVar(&config.JSON, "json", false, "Output results as JSON")
	flagSet.BoolVar(&config.Plain, "plain", false, "Plain key=value output")
	flagSet.BoolVar(&config.Verbose, "verbose", false, "Verbose output")
	flagSet.BoolVar(&config.Verbose, "v", false, "Verbose output (short)")
	flagSet.BoolVar(&config.Quiet, "quiet", false, "Quiet mode (errors only)")
	flagSet.BoolVar(&config.Quiet, "q", false, "Quiet mode (errors only) (short)")
	flagSet.BoolVar(&config.NoColor, "no-color", false, "Disable color output")

	versionFlag := flagSet.Bool("version", false, "Print version")
	help := flagSet.Bool("help", false, "Show help")
	flagSet.BoolVar(help, "h", false, "Show help (short)")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stdout)
			return nil, nil, nil, exitSuccess, nil
		}
		return nil, nil, nil, exitUsage, err
	}

	flagSet.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
		switch f.Name {
		case "S":
			flagsSet["server"] = true
		case "v":
			flagsSet["verbose"] = true
		case "q":
			flagsSet["quiet"] = true
		}
	})

	if *versionFlag {
		fmt.Fprintf(stdout, "mstress %s\n", version)
		return nil, nil, nil, exitSuccess, nil
	}
	if *help {
		printUsage(stdout)
		return nil, nil, nil, exitSuccess, nil
	}
	if config.ServerURL != "" {
		if err := validateServerURL(config.ServerURL); err != nil {
			return nil, nil, nil, exitUsage, err
		}
	}
	if strings.HasPrefix(config.Server, "http://") || strings.HasPrefix(config.Server, "https://") {
		if err := validateServerURL(config.Server); err != nil {
			return nil, nil, nil, exitUsage, err
		}
	}

	return config, flagsSet, flagSet.Args(), exitSuccess, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: mstress client [flags] <command> [args]

Drive the mstress control plane.

Commands:
  clients                   List clients in the directory
  echo <client>             Single round-trip probe
  flood [-n N] <client>...  Send N requests to every client (default N: 10)
  mps [client]              Throughput of one client, or of every client

Flags:
  -h, --help              Show help
  --version               Print version
  -S, --server string     Server alias (from config) or URL
  --server-url string     Override server URL
  --api-key string        Bearer token for authentication
  --timeout int           Overall timeout in seconds (default: 60)
  --json                  Output results as JSON
  --plain                 Plain key=value output (default when not a terminal)
  -v, --verbose           Verbose output
  -q, --quiet             Quiet mode (errors only)
  --no-color              Disable color output

Configuration file: ~/.config/mstress/config.yaml

Environment:
  MSTRESS_SERVER_URL      Server URL
  MSTRESS_API_KEY         Bearer token
  MSTRESS_TIMEOUT         Overall timeout in seconds
  NO_COLOR                Disable colors (standard convention)

Examples:
  mstress client clients
  mstress client echo alice
  mstress client flood -n 500 alice bob
  mstress client --json mps
`)
}
