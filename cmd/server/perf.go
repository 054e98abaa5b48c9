package server

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"

	"github.com/natssync/mstress/internal/config"
	"github.com/natssync/mstress/internal/logging"
)

func startPprofServer(cfg *config.Config) *http.Server {
	if cfg == nil || !cfg.PprofEnabled {
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.PprofAddress,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("pprof server starting", logging.F("address", cfg.PprofAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("pprof server failed", logging.F("error", err))
		}
	}()

	return srv
}

func shutdownPprofServer(srv *http.Server, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("pprof server shutdown error", logging.F("error", err))
	}
}

// startRuntimeStatsLogger logs heap and goroutine counts every
// PERF_STATS_INTERVAL until ctx is done.
func startRuntimeStatsLogger(ctx context.Context, cfg *config.Config) {
	if cfg == nil || cfg.PerfStatsInterval <= 0 {
		return
	}

	interval := cfg.PerfStatsInterval
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var mem runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			runtime.ReadMemStats(&mem)
			logging.Info("runtime stats",
				logging.F("goroutines", runtime.NumGoroutine()),
				logging.F("heap_alloc_bytes", mem.HeapAlloc),
				logging.F("heap_inuse_bytes", mem.HeapInuse),
				logging.F("stack_inuse_bytes", mem.StackInuse),
				logging.F("gc_count", mem.NumGC),
				logging.F("gc_pause_total_ns", mem.PauseTotalNs),
			)
		}
	}()
}
