// Package probe runs echo, batch flood and throughput tests against remote
// echo responders over a shared publish/subscribe connection.
//
// Every probe mints its own reply token, so any number of probes may share
// one Conn concurrently.
package probe

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/natssync/mstress/internal/logging"
)

// ErrSubscriptionClosed is returned by Subscription.NextMsg once the
// transport has closed the subscription.
var ErrSubscriptionClosed = stdErrors.New("probe: subscription closed")

// ErrMessagesDropped is returned by Subscription.NextMsg when the transport
// discarded messages for a subscriber that fell behind. The subscription
// stays usable.
var ErrMessagesDropped = stdErrors.New("probe: messages dropped")

type Msg struct {
	Subject string
	Reply   string
	Data    []byte
}

// Subscription is a synchronous message source. NextMsg blocks until a
// message arrives, ctx is done, or the subscription is closed.
type Subscription interface {
	NextMsg(ctx context.Context) (*Msg, error)
	Unsubscribe() error
}

// Conn is the part of the messaging connection the probes need. It must be
// safe for concurrent use.
type Conn interface {
	Subscribe(subject string) (Subscription, error)
	PublishRequest(subject, reply string, data []byte) error
	// Flush blocks until everything published so far was accepted by the server.
	Flush(ctx context.Context) error
}

// Recorder receives probe outcomes for instrumentation.
type Recorder interface {
	ObserveProbe(kind, outcome string, elapsed time.Duration)
	AddFloodMessages(direction string, n int)
	ObserveThroughput(mps float64)
}

const (
	KindEcho       = "echo"
	KindFlood      = "flood"
	KindThroughput = "throughput"

	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

type Options struct {
	EchoTimeout         time.Duration
	CollectTimeout      time.Duration
	ThroughputDuration  time.Duration
	PublishConcurrency  int
	MaxConcurrentProbes int
}

func DefaultOptions() Options {
	return Options{
		EchoTimeout:         5 * time.Second,
		CollectTimeout:      5 * time.Second,
		ThroughputDuration:  10 * time.Second,
		PublishConcurrency:  64,
		MaxConcurrentProbes: 0,
	}
}

type Engine struct {
	conn     Conn
	opts     Options
	logger   *logging.Logger
	recorder Recorder
	newToken func() string
}

type Option func(*Engine)

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTokenSource replaces the reply token generator. Tokens must be unique
// per invocation.
func WithTokenSource(fn func() string) Option {
	return func(e *Engine) { e.newToken = fn }
}

func NewEngine(conn Conn, opts Options, options ...Option) *Engine {
	defaults := DefaultOptions()
	if opts.EchoTimeout <= 0 {
		opts.EchoTimeout = defaults.EchoTimeout
	}
	if opts.CollectTimeout <= 0 {
		opts.CollectTimeout = defaults.CollectTimeout
	}
	if opts.ThroughputDuration <= 0 {
		opts.ThroughputDuration = defaults.ThroughputDuration
	}
	if opts.PublishConcurrency <= 0 {
		opts.PublishConcurrency = defaults.PublishConcurrency
	}

	e := &Engine{
		conn:     conn,
		opts:     opts,
		recorder: nopRecorder{},
		newToken: uuid.NewString,
	}
	for _, o := range options {
		o(e)
	}
	if e.logger == nil {
		e.logger = logging.NewLogger("probe")
	}
	return e
}

func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) unsubscribe(sub Subscription, client string) {
	if err := sub.Unsubscribe(); err != nil && !stdErrors.Is(err, ErrSubscriptionClosed) {
		e.logger.Debug("unsubscribe failed",
			logging.F("client", client),
			logging.F("error", err))
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveProbe(string, string, time.Duration) {}
func (nopRecorder) AddFloodMessages(string, int)               {}
func (nopRecorder) ObserveThroughput(float64)                  {}
