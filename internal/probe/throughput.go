package probe

import (
	"context"
	stdErrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/types"
)

// Throughput runs a strict request/reply loop against client for
// ThroughputDuration and reports the completed round trips per second.
//
// Each iteration waits for its reply without a timeout of its own; only the
// overall budget bounds the loop. When the budget expires the outstanding
// request is abandoned and its late reply is never read.
func (e *Engine) Throughput(ctx context.Context, client string) types.ThroughputResult {
	start := time.Now()
	result := types.ThroughputResult{Client: client}
	budget := e.opts.ThroughputDuration

	reply := subject.Response(client, e.newToken())
	sub, err := e.conn.Subscribe(subject.Subscription(reply))
	if err != nil {
		e.logger.Error("throughput subscribe failed",
			logging.F("client", client),
			logging.F("error", err))
		e.recorder.ObserveProbe(KindThroughput, OutcomeFailure, time.Since(start))
		return result
	}
	defer e.unsubscribe(sub, client)

	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result.Count = e.sendReceiveLoop(budgetCtx, sub, client, reply)
	result.MPS = float64(result.Count) / budget.Seconds()

	outcome := OutcomeSuccess
	if result.Count == 0 {
		outcome = OutcomeFailure
	}
	e.recorder.ObserveProbe(KindThroughput, outcome, time.Since(start))
	e.recorder.ObserveThroughput(result.MPS)
	e.logger.Info("throughput probe finished",
		logging.F("client", client),
		logging.F("count", result.Count),
		logging.F("mps", result.MPS))
	return result
}

func (e *Engine) sendReceiveLoop(ctx context.Context, sub Subscription, client, reply string) int {
	request := subject.Request(client)
	count := 0
	for id := 0; ctx.Err() == nil; id++ {
		data, err := types.NewEchoPayload(id, client).Encode()
		if err != nil {
			return count
		}
		if err := e.conn.PublishRequest(request, reply, data); err != nil {
			e.logger.Error("throughput publish failed",
				logging.F("client", client),
				logging.F("id", id),
				logging.F("error", err))
			return count
		}
		if err := nextReply(ctx, sub); err != nil {
			return count
		}
		count++
	}
	return count
}

// ThroughputAll probes every client concurrently. Results keep the order of
// clients.
func (e *Engine) ThroughputAll(ctx context.Context, clients []string) []types.ThroughputResult {
	results := make([]types.ThroughputResult, len(clients))
	var g errgroup.Group
	if e.opts.MaxConcurrentProbes > 0 {
		g.SetLimit(e.opts.MaxConcurrentProbes)
	}
	for i, client := range clients {
		g.Go(func() error {
			results[i] = e.Throughput(ctx, client)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// nextReply waits for one message, skipping dropped-message notices.
func nextReply(ctx context.Context, sub Subscription) error {
	for {
		_, err := sub.NextMsg(ctx)
		if !stdErrors.Is(err, ErrMessagesDropped) {
			return err
		}
	}
}
