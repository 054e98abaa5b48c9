// Package echolet implements the `mstress echolet` subcommand, a reference
// echo responder for exercising the control plane without real sync clients.
package echolet

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

	"github.com/natssync/mstress/internal/config"
	"github.com/natssync/mstress/internal/echolet"
	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/natsconn"
)

type options struct {
	natsURL string
	clients []string
	drop    []string
}

func splitFlagList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOptions(args []string, stderr io.Writer) (*options, int, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, 1, err
	}

	var clients, drop string
	fs := flag.NewFlagSet("mstress echolet", flag.ContinueOnError)
	fs.SetOutput(stderr)
	natsURL := fs.String("nats-url", cfg.NATSURL, "NATS server URL")
	fs.StringVar(&clients, "clients", strings.Join(cfg.EcholetClients, ","), "Comma-separated clients to answer for (empty: every client)")
	fs.StringVar(&drop, "drop", "", "Comma-separated clients to stay silent for")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, nil
		}
		return nil, 2, err
	}
	if fs.NArg() > 0 {
		return nil, 2, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	logging.Init(cfg.LogLevel)
	return &options{
		natsURL: *natsURL,
		clients: splitFlagList(clients),
		drop:    splitFlagList(drop),
	}, 0, nil
}

// Run answers echo requests until SIGINT/SIGTERM.
func Run(args []string, version string) int {
	opts, code, err := parseOptions(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mstress echolet: %v\n", err)
		return code
	}
	if opts == nil {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger("echolet")
	nc, err := natsconn.Connect(ctx, natsconn.Options{
		URL:    opts.natsURL,
		Name:   "mstress-echolet",
		Logger: logger,
	})
	if err != nil {
		logger.Error("connect failed", logging.F("error", err))
		return 1
	}
	defer nc.Close()

	responder := echolet.New(nc, opts.clients, logger)
	responder.SetDropClients(opts.drop...)
	if err := responder.Start(); err != nil {
		logger.Error("start failed", logging.F("error", err))
		return 1
	}
	logger.Info("echolet ready",
		logging.F("clients", opts.clients),
		logging.F("drop", opts.drop),
		logging.F("version", version))

	<-ctx.Done()
	responder.Stop()
	logger.Info("echolet stopped",
		logging.F("echoed", responder.Echoed()),
		logging.F("dropped", responder.Dropped()))
	return 0
}
