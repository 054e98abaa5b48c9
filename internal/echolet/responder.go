// Package echolet is the reference echo responder. It answers every request
// on natssyncmsg.<client>.echo by republishing the payload to
// <reply>.echolet.
package echolet

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/types"
)

type Responder struct {
	nc      *nats.Conn
	clients []string
	logger  *logging.Logger

	mu   sync.RWMutex
	drop map[string]bool
	subs []*nats.Subscription

	echoed  atomic.Int64
	dropped atomic.Int64
}

// New returns a responder for clients. With no clients it answers for every
// client through a wildcard subscription.
func New(nc *nats.Conn, clients []string, logger *logging.Logger) *Responder {
	if logger == nil {
		logger = logging.NewLogger("echolet")
	}
	return &Responder{
		nc:      nc,
		clients: clients,
		logger:  logger,
		drop:    make(map[string]bool),
	}
}

func (r *Responder) Start() error {
	subjects := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		if err := subject.ValidateClient(c); err != nil {
			return err
		}
		subjects = append(subjects, subject.Request(c))
	}
	if len(subjects) == 0 {
		subjects = append(subjects, subject.Request("*"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subj := range subjects {
		sub, err := r.nc.Subscribe(subj, r.handle)
		if err != nil {
			r.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", subj, err)
		}
		r.subs = append(r.subs, sub)
		r.logger.Info("echolet listening", logging.F("subject", subj))
	}
	return r.nc.Flush()
}

func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked()
}

func (r *Responder) unsubscribeLocked() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

// SetDropClients makes the responder ignore requests for the given clients,
// replacing any earlier set.
func (r *Responder) SetDropClients(clients ...string) {
	drop := make(map[string]bool, len(clients))
	for _, c := range clients {
		drop[c] = true
	}
	r.mu.Lock()
	r.drop = drop
	r.mu.Unlock()
}

func (r *Responder) Echoed() int64  { return r.echoed.Load() }
func (r *Responder) Dropped() int64 { return r.dropped.Load() }

func (r *Responder) handle(msg *nats.Msg) {
	if msg.Reply == "" {
		r.dropped.Add(1)
		r.logger.Debug("request without reply subject", logging.F("subject", msg.Subject))
		return
	}

	client := clientOf(msg.Subject)
	r.mu.RLock()
	skip := r.drop[client]
	r.mu.RUnlock()
	if skip {
		r.dropped.Add(1)
		return
	}

	// The payload goes back verbatim even when it does not decode.
	if payload, err := types.DecodeEchoPayload(msg.Data); err != nil {
		r.logger.Debug("echoing undecodable payload",
			logging.F("client", client),
			logging.F("error", err))
	} else if payload.Client != client {
		r.logger.Debug("payload names another client",
			logging.F("subject_client", client),
			logging.F("payload_client", payload.Client))
	}

	if err := r.nc.Publish(subject.Subscription(msg.Reply), msg.Data); err != nil {
		r.logger.Warn("echo publish failed",
			logging.F("client", client),
			logging.F("error", err))
		return
	}
	r.echoed.Add(1)
}

func clientOf(subj string) string {
	parts := strings.Split(subj, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
