// Package natsconn owns the NATS connection lifecycle and adapts nats.go to
// the probe engine.
package natsconn

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/natssync/mstress/internal/logging"
)

// StateObserver is told about connection transitions.
type StateObserver interface {
	SetConnected(up bool)
	IncReconnects()
}

type Options struct {
	URL           string
	Name          string
	RetryWait     time.Duration
	ReconnectWait time.Duration
	Logger        *logging.Logger
	Observer      StateObserver
}

// Connect dials opts.URL until it succeeds or ctx is done, waiting
// RetryWait between attempts. The returned connection reconnects forever.
func Connect(ctx context.Context, opts Options) (*nats.Conn, error) {
	if opts.RetryWait <= 0 {
		opts.RetryWait = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("nats")
	}
	log := opts.Logger

	natsOpts := []nats.Option{
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", logging.F("error", err))
			if opts.Observer != nil {
				opts.Observer.SetConnected(false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logging.F("url", nc.ConnectedUrlRedacted()))
			if opts.Observer != nil {
				opts.Observer.SetConnected(true)
				opts.Observer.IncReconnects()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Warn("nats connection closed")
			if opts.Observer != nil {
				opts.Observer.SetConnected(false)
			}
		}),
	}

	for attempt := 1; ; attempt++ {
		nc, err := nats.Connect(opts.URL, natsOpts...)
		if err == nil {
			log.Info("connected to nats",
				logging.F("url", nc.ConnectedUrlRedacted()),
				logging.F("attempt", attempt))
			if opts.Observer != nil {
				opts.Observer.SetConnected(true)
			}
			return nc, nil
		}
		log.Warn("nats connect failed, retrying",
			logging.F("url", opts.URL),
			logging.F("attempt", attempt),
			logging.F("retry_in", opts.RetryWait),
			logging.F("error", err))

		timer := time.NewTimer(opts.RetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("connect to %s: %w", opts.URL, ctx.Err())
		case <-timer.C:
		}
	}
}

func isClosure(err error) bool {
	return stdErrors.Is(err, nats.ErrBadSubscription) ||
		stdErrors.Is(err, nats.ErrConnectionClosed)
}
