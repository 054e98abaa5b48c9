package probe

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"time"
)

// fakeBus is an in-memory Conn with echo responders behind it. By default
// every client echoes each request once to <reply>.echolet.
type fakeBus struct {
	mu          sync.Mutex
	subs        map[string][]*fakeSub
	silent      map[string]bool
	closers     map[string]bool
	garbage     bool
	strangers   bool
	replyDelay  time.Duration
	publishErr  error
	subErr      error
	events      []string
	published   []publishedMsg
	publishes   int
	activeSubs  int
	flushCalled int
	// dropNotices is the number of ErrMessagesDropped results NextMsg
	// returns before delivering messages again.
	dropNotices int
}

// maxRecorded bounds the event and publish logs; throughput loops publish
// far more than any test inspects.
const maxRecorded = 4096

type publishedMsg struct {
	subject string
	reply   string
	data    []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:    make(map[string][]*fakeSub),
		silent:  make(map[string]bool),
		closers: make(map[string]bool),
	}
}

func (b *fakeBus) Subscribe(subj string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	sub := &fakeSub{
		bus:     b,
		subject: subj,
		ch:      make(chan *Msg, 1<<14),
		closed:  make(chan struct{}),
	}
	b.subs[subj] = append(b.subs[subj], sub)
	b.activeSubs++
	b.events = append(b.events, "sub:"+subj)
	return sub, nil
}

func (b *fakeBus) PublishRequest(subj, reply string, data []byte) error {
	b.mu.Lock()
	if len(b.events) < maxRecorded {
		b.events = append(b.events, "pub:"+subj)
	}
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.publishes++
	if len(b.published) < maxRecorded {
		b.published = append(b.published, publishedMsg{subject: subj, reply: reply, data: data})
	}
	client := clientFromRequest(subj)
	silent := b.silent[client]
	closer := b.closers[client]
	garbage := b.garbage
	strangers := b.strangers
	delay := b.replyDelay
	b.mu.Unlock()

	target := reply + ".echolet"
	switch {
	case closer:
		b.closeSubs(target)
	case silent:
	default:
		deliver := func() {
			if garbage {
				b.deliver(target, []byte("not json"))
			}
			if strangers {
				b.deliver(target, []byte(`{"id":1,"client":"stranger"}`))
			}
			b.deliver(target, data)
		}
		if delay > 0 {
			time.AfterFunc(delay, deliver)
		} else {
			deliver()
		}
	}
	return nil
}

func (b *fakeBus) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushCalled++
	return ctx.Err()
}

func (b *fakeBus) deliver(subj string, data []byte) {
	b.mu.Lock()
	subs := append([]*fakeSub(nil), b.subs[subj]...)
	b.mu.Unlock()
	for _, s := range subs {
		select {
		case <-s.closed:
		case s.ch <- &Msg{Subject: subj, Data: data}:
		default:
		}
	}
}

func (b *fakeBus) closeSubs(subj string) {
	b.mu.Lock()
	subs := append([]*fakeSub(nil), b.subs[subj]...)
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (b *fakeBus) remove(s *fakeSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[s.subject]
	for i, candidate := range subs {
		if candidate == s {
			b.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			b.activeSubs--
			break
		}
	}
}

func (b *fakeBus) setSilent(client string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silent[client] = true
}

func (b *fakeBus) setCloser(client string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers[client] = true
}

func (b *fakeBus) snapshotEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBus) snapshotPublished() []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMsg(nil), b.published...)
}

func (b *fakeBus) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishes
}

func (b *fakeBus) active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeSubs
}

func clientFromRequest(subj string) string {
	parts := strings.Split(subj, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

type fakeSub struct {
	bus       *fakeBus
	subject   string
	ch        chan *Msg
	closed    chan struct{}
	closeOnce sync.Once
	unsubOnce sync.Once
}

func (s *fakeSub) NextMsg(ctx context.Context) (*Msg, error) {
	s.bus.mu.Lock()
	if s.bus.dropNotices > 0 {
		s.bus.dropNotices--
		s.bus.mu.Unlock()
		return nil, ErrMessagesDropped
	}
	s.bus.mu.Unlock()
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.closed:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSub) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *fakeSub) Unsubscribe() error {
	var err error
	s.unsubOnce.Do(func() {
		select {
		case <-s.closed:
			err = ErrSubscriptionClosed
		default:
		}
		s.close()
		s.bus.remove(s)
	})
	return err
}

var errPublish = stdErrors.New("fake: publish rejected")

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
	messages map[string]int
	mps      []float64
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		outcomes: make(map[string]string),
		messages: make(map[string]int),
	}
}

func (r *recordingRecorder) ObserveProbe(kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[kind] = outcome
}

func (r *recordingRecorder) AddFloodMessages(direction string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[direction] += n
}

func (r *recordingRecorder) ObserveThroughput(mps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mps = append(r.mps, mps)
}
