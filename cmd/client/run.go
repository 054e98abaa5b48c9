package client

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	sdk "github.com/natssync/mstress/pkg/client"
)

// errProbeFailed marks a completed run in which some client did not answer.
// The result has already been printed.
var errProbeFailed = errors.New("probe failed")

const defaultFloodCount = 10

type command struct {
	name    string
	clients []string
	count   int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, fmt.Errorf("missing command")
	}
	cmd := command{name: args[0]}
	rest := args[1:]

	switch cmd.name {
	case "clients":
		if len(rest) != 0 {
			return cmd, fmt.Errorf("clients takes no arguments")
		}
	case "echo":
		if len(rest) != 1 {
			return cmd, fmt.Errorf("echo takes exactly one client")
		}
		cmd.clients = rest
	case "flood":
		fs := flag.NewFlagSet("flood", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.IntVar(&cmd.count, "n", defaultFloodCount, "requests per client")
		if err := fs.Parse(rest); err != nil {
			return cmd, fmt.Errorf("flood: %w", err)
		}
		if cmd.count < 1 {
			return cmd, fmt.Errorf("flood: -n must be at least 1")
		}
		cmd.clients = fs.Args()
		if len(cmd.clients) == 0 {
			return cmd, fmt.Errorf("flood needs at least one client")
		}
	case "mps":
		if len(rest) > 1 {
			return cmd, fmt.Errorf("mps takes at most one client")
		}
		cmd.clients = rest
	default:
		return cmd, fmt.Errorf("unknown command %q", cmd.name)
	}
	return cmd, nil
}

func newSDK(config *Config) *sdk.Client {
	var opts []sdk.Option
	if config.APIKey != "" {
		opts = append(opts, sdk.WithAPIKey(config.APIKey))
	}
	return sdk.New(config.ServerURL, opts...)
}

func execute(ctx context.Context, config *Config, cmd command, formatter OutputFormatter) error {
	c := newSDK(config)

	switch cmd.name {
	case "clients":
		list, err := c.Clients(ctx)
		if err != nil {
			return troubleshoot(config, err)
		}
		formatter.FormatClients(list)

	case "echo":
		res, err := c.Echo(ctx, cmd.clients[0])
		if err != nil {
			return troubleshoot(config, err)
		}
		formatter.FormatEcho(res)
		if !res.Success {
			return errProbeFailed
		}

	case "flood":
		results, err := c.Flood(ctx, cmd.clients, cmd.count)
		if err != nil {
			return troubleshoot(config, err)
		}
		formatter.FormatFlood(results)
		for _, r := range results {
			if !r.Success {
				return errProbeFailed
			}
		}

	case "mps":
		if len(cmd.clients) == 1 {
			res, err := c.Throughput(ctx, cmd.clients[0])
			if err != nil {
				return troubleshoot(config, err)
			}
			formatter.FormatThroughput(res)
			return nil
		}
		stats, err := c.ThroughputAll(ctx)
		if err != nil {
			return troubleshoot(config, err)
		}
		formatter.FormatStats(stats)
	}
	return nil
}

func troubleshoot(config *Config, err error) error {
	var se *sdk.StatusError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w\n\nThe run did not finish within %ds; raise it with --timeout", err, config.Timeout)
	}
	return fmt.Errorf("%w\n\n"+
		"Troubleshooting:\n"+
		"  - Check server is running: curl %s/health\n"+
		"  - Verify server URL: mstress client --server-url %s", err, config.ServerURL, config.ServerURL)
}
