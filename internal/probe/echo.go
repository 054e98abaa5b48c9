package probe

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/natssync/mstress/internal/logging"
	"github.com/natssync/mstress/internal/subject"
	"github.com/natssync/mstress/pkg/errors"
	"github.com/natssync/mstress/pkg/types"
)

// Echo sends a single request to client and waits up to EchoTimeout for the
// echoed reply. The returned TestResult is always populated; the error, if
// any, explains a failed result and is never a reason to discard it.
func (e *Engine) Echo(ctx context.Context, client string) (types.TestResult, error) {
	start := time.Now()
	result := types.TestResult{Client: client}

	err := e.echo(ctx, client)
	if err == nil {
		result.Success = true
		result.ResponseCount = 1
		e.recorder.ObserveProbe(KindEcho, OutcomeSuccess, time.Since(start))
		e.logger.Info("echo response received",
			logging.F("client", client),
			logging.F("elapsed", time.Since(start)))
		return result, nil
	}

	e.recorder.ObserveProbe(KindEcho, OutcomeFailure, time.Since(start))
	e.logger.Warn("echo probe failed",
		logging.F("client", client),
		logging.F("error", err))
	return result, err
}

func (e *Engine) echo(ctx context.Context, client string) error {
	reply := subject.Response(client, e.newToken())
	sub, err := e.conn.Subscribe(subject.Subscription(reply))
	if err != nil {
		return errors.ErrTransport(client, "subscribe", err)
	}
	defer e.unsubscribe(sub, client)

	data, err := types.NewEchoPayload(1, client).Encode()
	if err != nil {
		return errors.ErrTransport(client, "encode request", err)
	}
	if err := e.conn.PublishRequest(subject.Request(client), reply, data); err != nil {
		return errors.ErrTransport(client, "publish request", err)
	}
	e.logger.Debug("echo request published",
		logging.F("client", client),
		logging.F("reply", reply))

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.EchoTimeout)
	defer cancel()

	if err := nextReply(waitCtx, sub); err != nil {
		return classifyWaitError(client, err)
	}
	return nil
}

func classifyWaitError(client string, err error) error {
	switch {
	case stdErrors.Is(err, ErrSubscriptionClosed):
		return errors.ErrChannelClosed(client)
	case errors.IsContextError(err):
		return errors.ErrDeadlineExceeded(client, err)
	default:
		return errors.ErrTransport(client, "await reply", err)
	}
}
