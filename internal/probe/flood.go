package probe

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/errors"
	"github.com/natssync/mstress/pkg/types"
)

type request struct {
	subject string
	data    []byte
}

// ValidateStressTest rejects tests that must not touch the network.
func ValidateStressTest(test types.StressTest) error {
	if len(test.Clients) == 0 {
		return errors.ErrInvalidTest("No clients provided to test")
	}
	if test.Count < 1 {
		return errors.ErrInvalidTest("test count must be at least 1")
	}
	return nil
}

// Flood sends test.Count requests to every client and counts the echoed
// replies per client.
//
// All requests share one reply subject derived from the first client; which
// client a reply belongs to is read from the echoed payload, never from the
// subject. The shared subscription is opened before anything is published.
// A non-nil error is returned only for an invalid test; clients that do not
// answer simply keep success=false with whatever count accrued.
func (e *Engine) Flood(ctx context.Context, test types.StressTest) ([]types.TestResult, error) {
	if err := ValidateStressTest(test); err != nil {
		return nil, err
	}
	start := time.Now()
	acc := newAccumulator(test.Clients, test.Count)

	reply := subject.Response(test.Clients[0], e.newToken())
	sub, err := e.conn.Subscribe(subject.Subscription(reply))
	if err != nil {
		e.logger.Error("flood subscribe failed",
			logging.F("test_id", test.ID),
			logging.F("error", err))
		e.recorder.ObserveProbe(KindFlood, OutcomeFailure, time.Since(start))
		return acc.snapshot(), nil
	}
	defer e.unsubscribe(sub, test.Clients[0])

	requests, err := buildRequests(test.Clients, test.Count)
	if err != nil {
		e.logger.Error("flood encode failed",
			logging.F("test_id", test.ID),
			logging.F("error", err))
		e.recorder.ObserveProbe(KindFlood, OutcomeFailure, time.Since(start))
		return acc.snapshot(), nil
	}

	done := make(chan []types.TestResult, 1)
	go e.collect(ctx, sub, acc, done)

	e.logger.Info("sending flood requests",
		logging.F("test_id", test.ID),
		logging.F("clients", len(test.Clients)),
		logging.F("messages", len(requests)))
	sent := e.publishAll(ctx, reply, requests)
	e.recorder.AddFloodMessages("sent", sent)
	e.logger.Info("finished sending flood requests",
		logging.F("test_id", test.ID),
		logging.F("sent", sent),
		logging.F("failed", len(requests)-sent))

	results := <-done

	received := 0
	outcome := OutcomeSuccess
	for _, r := range results {
		received += r.ResponseCount
		if !r.Success {
			outcome = OutcomePartial
		}
	}
	if received == 0 {
		outcome = OutcomeFailure
	}
	e.recorder.AddFloodMessages("received", received)
	e.recorder.ObserveProbe(KindFlood, outcome, time.Since(start))
	e.logger.Debug("flood results",
		logging.F("test_id", test.ID),
		logging.F("received", received),
		logging.F("outcome", outcome))

	return results, nil
}

// buildRequests lays out count payloads (ids 1..count) for each client,
// client after client.
func buildRequests(clients []string, count int) ([]request, error) {
	requests := make([]request, 0, len(clients)*count)
	for _, client := range clients {
		reqSubject := subject.Request(client)
		for id := 1; id <= count; id++ {
			data, err := types.NewEchoPayload(id, client).Encode()
			if err != nil {
				return nil, err
			}
			requests = append(requests, request{subject: reqSubject, data: data})
		}
	}
	return requests, nil
}

// publishAll issues every request and waits for the server to accept them.
// It returns how many publishes succeeded; it does not wait for replies.
func (e *Engine) publishAll(ctx context.Context, reply string, requests []request) int {
	var sent atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.opts.PublishConcurrency)

	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := e.conn.PublishRequest(req.subject, reply, req.data); err != nil {
				e.logger.Warn("flood publish failed",
					logging.F("subject", req.subject),
					logging.F("error", err))
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := e.conn.Flush(ctx); err != nil {
		e.logger.Warn("flood flush failed", logging.F("error", err))
	}
	return int(sent.Load())
}

// collect owns acc until it hands the final snapshot to done. It stops when
// every expected reply arrived, CollectTimeout elapsed since it started, or
// the subscription closed. Dropped-message notices do not stop it.
func (e *Engine) collect(ctx context.Context, sub Subscription, acc *accumulator, done chan<- []types.TestResult) {
	collectCtx, cancel := context.WithTimeout(ctx, e.opts.CollectTimeout)
	defer cancel()

	for !acc.complete() {
		msg, err := sub.NextMsg(collectCtx)
		if err != nil {
			if stdErrors.Is(err, ErrMessagesDropped) {
				e.logger.Warn("flood replies dropped by slow subscriber", logging.F("error", err))
				continue
			}
			if stdErrors.Is(err, ErrSubscriptionClosed) {
				e.logger.Error("flood subscription closed")
			} else if !errors.IsContextError(err) {
				e.logger.Warn("flood collection stopped", logging.F("error", err))
			}
			break
		}

		payload, err := types.DecodeEchoPayload(msg.Data)
		if err != nil {
			e.logger.Warn("discarding flood reply",
				logging.F("error", errors.ErrDecode("", err)))
			continue
		}
		if !acc.record(payload.Client) {
			e.logger.Warn("discarding flood reply for unknown client",
				logging.F("client", payload.Client))
		}
	}

	done <- acc.snapshot()
}

type accumulator struct {
	order    []string
	results  map[string]*types.TestResult
	count    int
	expected int
	total    int
	pending  int
}

func newAccumulator(clients []string, count int) *accumulator {
	acc := &accumulator{
		results:  make(map[string]*types.TestResult, len(clients)),
		count:    count,
		expected: len(clients) * count,
	}
	for _, c := range clients {
		if _, ok := acc.results[c]; ok {
			continue
		}
		acc.order = append(acc.order, c)
		acc.results[c] = &types.TestResult{Client: c}
	}
	acc.pending = len(acc.order)
	return acc
}

// record counts one reply for client. It reports false for clients that
// are not part of the test.
func (a *accumulator) record(client string) bool {
	r, ok := a.results[client]
	if !ok {
		return false
	}
	r.ResponseCount++
	a.total++
	if !r.Success && r.ResponseCount >= a.count {
		r.Success = true
		a.pending--
	}
	return true
}

func (a *accumulator) complete() bool {
	return a.total >= a.expected && a.pending == 0
}

func (a *accumulator) snapshot() []types.TestResult {
	out := make([]types.TestResult, 0, len(a.order))
	for _, c := range a.order {
		out = append(out, *a.results[c])
	}
	return out
}
