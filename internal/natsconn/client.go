package natsconn

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/natssync/mstress/internal/probe"
)

// Client is a probe.Conn backed by a shared *nats.Conn.
type Client struct {
	nc           *nats.Conn
	pendingMsgs  int
	pendingBytes int
}

// NewClient wraps nc. Positive pending limits are applied to every
// subscription so that a flood does not trip the slow-consumer guard.
func NewClient(nc *nats.Conn, pendingMsgs, pendingBytes int) *Client {
	return &Client{nc: nc, pendingMsgs: pendingMsgs, pendingBytes: pendingBytes}
}

func (c *Client) Subscribe(subj string) (probe.Subscription, error) {
	sub, err := c.nc.SubscribeSync(subj)
	if err != nil {
		return nil, err
	}
	if c.pendingMsgs > 0 || c.pendingBytes > 0 {
		msgs, bytes := c.pendingMsgs, c.pendingBytes
		if msgs <= 0 {
			msgs = nats.DefaultSubPendingMsgsLimit
		}
		if bytes <= 0 {
			bytes = nats.DefaultSubPendingBytesLimit
		}
		if err := sub.SetPendingLimits(msgs, bytes); err != nil {
			_ = sub.Unsubscribe()
			return nil, err
		}
	}
	return &subscription{sub: sub}, nil
}

func (c *Client) PublishRequest(subj, reply string, data []byte) error {
	return c.nc.PublishRequest(subj, reply, data)
}

func (c *Client) Flush(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close closes the connection without draining. In-flight probes see their
// subscriptions close.
func (c *Client) Close() {
	c.nc.Close()
}

type subscription struct {
	sub *nats.Subscription
}

func (s *subscription) NextMsg(ctx context.Context) (*probe.Msg, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if isClosure(err) {
			return nil, probe.ErrSubscriptionClosed
		}
		if stdErrors.Is(err, nats.ErrSlowConsumer) {
			return nil, fmt.Errorf("%w: %v", probe.ErrMessagesDropped, err)
		}
		return nil, err
	}
	return &probe.Msg{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data}, nil
}

func (s *subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		if isClosure(err) {
			return probe.ErrSubscriptionClosed
		}
		return err
	}
	return nil
}
