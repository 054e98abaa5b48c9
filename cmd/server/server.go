// Package server implements the `mstress server` subcommand: the control
// plane that probes echo responders over NATS.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/natssync/mstress/internal/api"
	"github.com/natssync/mstress/internal/config"
	"github.com/natssync/mstress/internal/directory"
	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/metrics"
	"github.com/natssync/mstress/internal/natsconn"
	"github.com/natssync/mstress/internal/probe"
	"github.com/natssync/mstress/internal/websocket"
)

type serverFlagValues struct {
	port           string
	bind           string
	natsURL        string
	directory      string
	allowedOrigins string
	echoTimeout    string
	mpsDuration    string
	logLevel       string
	metrics        bool
}

func buildServerFlagSet(cfg *config.Config) (*flag.FlagSet, *serverFlagValues) {
	fv := &serverFlagValues{}
	fs := flag.NewFlagSet("mstress server", flag.ContinueOnError)
	fs.StringVar(&fv.port, "port", cfg.Port, "HTTP port")
	fs.StringVar(&fv.bind, "bind", cfg.BindAddress, "HTTP bind address")
	fs.StringVar(&fv.natsURL, "nats-url", cfg.NATSURL, "NATS server URL")
	fs.StringVar(&fv.directory, "directory", cfg.DirectoryBackend, "Client directory backend: mongo, sqlite, static")
	fs.StringVar(&fv.allowedOrigins, "allowed-origins", strings.Join(cfg.AllowedOrigins, ","), "Comma-separated CORS / WebSocket origins")
	fs.StringVar(&fv.echoTimeout, "echo-timeout", cfg.EchoTimeout.String(), "Echo probe timeout")
	fs.StringVar(&fv.mpsDuration, "mps-duration", cfg.MPSDuration.String(), "Throughput probe duration")
	fs.StringVar(&fv.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&fv.metrics, "metrics", cfg.MetricsEnabled, "Serve Prometheus metrics on /metrics")
	return fs, fv
}

// applyServerFlagOverrides copies explicitly set flags onto cfg. Flags win
// over the environment.
func applyServerFlagOverrides(cfg *config.Config, fs *flag.FlagSet, fv *serverFlagValues) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "port":
			cfg.Port = fv.port
		case "bind":
			cfg.BindAddress = fv.bind
		case "nats-url":
			cfg.NATSURL = fv.natsURL
		case "directory":
			cfg.DirectoryBackend = strings.ToLower(strings.TrimSpace(fv.directory))
		case "allowed-origins":
			var origins []string
			for _, o := range strings.Split(fv.allowedOrigins, ",") {
				if o = strings.TrimSpace(o); o != "" {
					origins = append(origins, o)
				}
			}
			cfg.AllowedOrigins = origins
		case "echo-timeout":
			cfg.EchoTimeout, err = parseFlagDuration("echo-timeout", fv.echoTimeout)
		case "mps-duration":
			cfg.MPSDuration, err = parseFlagDuration("mps-duration", fv.mpsDuration)
		case "log-level":
			level, ok := logging.ParseLevel(fv.logLevel)
			if !ok {
				err = fmt.Errorf("invalid --log-level %q", fv.logLevel)
				return
			}
			cfg.LogLevel = level
		case "metrics":
			cfg.MetricsEnabled = fv.metrics
		}
	})
	return err
}

func parseFlagDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid --%s %q: must be a positive duration", name, raw)
	}
	return d, nil
}

func loadConfig(args []string, stderr io.Writer) (*config.Config, int, error) {
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, 1, fmt.Errorf("load config: %w", err)
	}
	fs, fv := buildServerFlagSet(cfg)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, nil
		}
		return nil, 2, err
	}
	if fs.NArg() > 0 {
		return nil, 2, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := applyServerFlagOverrides(cfg, fs, fv); err != nil {
		return nil, 2, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, 1, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, 0, nil
}

// Run starts the control plane and blocks until SIGINT/SIGTERM.
func Run(args []string, version string) int {
	cfg, code, err := loadConfig(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mstress server: %v\n", err)
		return code
	}
	if cfg == nil {
		return code
	}
	logging.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, version); err != nil {
		logging.Error("Server failed", logging.F("error", err))
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, version string) error {
	pprofServer := startPprofServer(cfg)
	defer shutdownPprofServer(pprofServer, 5*time.Second)
	startRuntimeStatsLogger(ctx, cfg)

	recorder := metrics.NewRecorder()

	nc, err := natsconn.Connect(ctx, natsconn.Options{
		URL:           cfg.NATSURL,
		Name:          cfg.NATSName,
		RetryWait:     cfg.NATSConnectRetryWait,
		ReconnectWait: cfg.NATSReconnectWait,
		Logger:        logging.NewLogger("nats"),
		Observer:      recorder,
	})
	if err != nil {
		return err
	}
	bus := natsconn.NewClient(nc, cfg.NATSPendingMsgs, cfg.NATSPendingBytes)
	defer bus.Close()

	engine := probe.NewEngine(bus, probe.Options{
		EchoTimeout:         cfg.EchoTimeout,
		CollectTimeout:      cfg.CollectTimeout,
		ThroughputDuration:  cfg.MPSDuration,
		PublishConcurrency:  cfg.PublishConcurrency,
		MaxConcurrentProbes: cfg.MaxConcurrentProbes,
	}, probe.WithRecorder(recorder))

	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	wsServer := websocket.NewServer()
	wsServer.SetAllowedOrigins(cfg.AllowedOrigins)
	wsServer.SetPingInterval(cfg.WebSocketPingInterval)
	wsServer.SetGauge(recorder)
	defer wsServer.Close()

	apiHandler := api.NewHandler(engine, dir)
	apiHandler.SetEventSink(wsServer)
	apiHandler.SetConnChecker(bus)
	apiHandler.SetVersion(version)
	apiHandler.SetLimits(api.Limits{
		MaxTestCount:    cfg.MaxTestCount,
		MaxBatchClients: cfg.MaxBatchClients,
	})

	router := api.NewRouter(apiHandler)
	router.SetRateLimiter(cfg)
	router.SetClientIPResolver(api.NewClientIPResolver(cfg))
	router.SetAllowedOrigins(cfg.AllowedOrigins)
	router.SetEventsHandler(wsServer)
	if cfg.MetricsEnabled {
		router.SetMetricsHandler(recorder.Handler())
		router.SetRequestObserver(recorder)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server starting",
			logging.F("address", cfg.ListenAddress()),
			logging.F("nats", nc.ConnectedUrlRedacted()),
			logging.F("directory", cfg.DirectoryBackend),
			logging.F("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown error", logging.F("error", err))
	}
	logging.Info("Server stopped")
	return nil
}

// openDirectory builds the configured backend, wrapped in a TTL cache when
// DIRECTORY_CACHE_TTL is set. The returned func releases it.
func openDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, func(), error) {
	var (
		dir     directory.Directory
		release = func() {}
	)

	switch cfg.DirectoryBackend {
	case config.DirectoryMongo:
		m, err := directory.NewMongo(ctx, directory.MongoOptions{
			URL:        cfg.MongoURL,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := m.Ping(ctx); err != nil {
			logging.Warn("mongo directory not reachable yet", logging.F("error", err))
		}
		dir = m
		release = func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.Close(closeCtx); err != nil {
				logging.Warn("mongo disconnect failed", logging.F("error", err))
			}
		}
	case config.DirectorySQLite:
		path := cfg.DirectoryDBPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		s, err := directory.NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		dir = s
		release = s.Close
	case config.DirectoryStatic:
		var (
			s   *directory.Static
			err error
		)
		if cfg.DirectoryFile != "" {
			s, err = directory.LoadStaticFile(cfg.DirectoryFile)
		} else {
			s, err = directory.NewStatic(cfg.DirectoryClients)
		}
		if err != nil {
			return nil, nil, err
		}
		dir = s
	default:
		return nil, nil, fmt.Errorf("unknown directory backend %q", cfg.DirectoryBackend)
	}

	if cfg.DirectoryCacheTTL > 0 {
		cached := directory.NewCached(dir, cfg.DirectoryCacheTTL, cfg.DirectoryCacheTTL)
		cached.Start()
		inner := release
		release = func() {
			cached.Stop()
			inner()
		}
		dir = cached
	}
	return dir, release, nil
}
