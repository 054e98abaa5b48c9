package directory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultFetchTimeout bounds a shared backend query once it no longer
// follows the context of the caller that started it.
const defaultFetchTimeout = 10 * time.Second

// Cached keeps the last client list of another Directory for a TTL.
// Concurrent misses share one backend query. A caller that gives up does not
// cancel the query for the others, and a query that straddles Invalidate is
// never stored.
type Cached struct {
	inner        Directory
	ttl          time.Duration
	cleanupInt   time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	clients   []string
	expiresAt time.Time
	gen       uint64

	group     singleflight.Group
	stopCh    chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	startOnce sync.Once
}

func NewCached(inner Directory, ttl, cleanupInterval time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}
	return &Cached{
		inner:        inner,
		ttl:          ttl,
		cleanupInt:   cleanupInterval,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

func (c *Cached) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.cleanupLoop()
	})
}

func (c *Cached) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

func (c *Cached) Clients(ctx context.Context) ([]string, error) {
	clients, gen, ok := c.cached()
	if ok {
		return clients, nil
	}

	// Callers after an Invalidate must not join a query that started before it.
	key := "clients:" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fetch(ctx, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		fetched := res.Val.([]string)
		out := make([]string, len(fetched))
		copy(out, fetched)
		return out, nil
	}
}

func (c *Cached) fetch(ctx context.Context, gen uint64) ([]string, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	clients, err := c.inner.Clients(fetchCtx)
	if err != nil {
		return nil, err
	}
	if clients == nil {
		clients = []string{}
	}
	c.mu.Lock()
	if c.gen == gen {
		c.clients = clients
		c.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Unlock()
	return clients, nil
}

func (c *Cached) cached() ([]string, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.clients == nil || !c.now().Before(c.expiresAt) {
		return nil, c.gen, false
	}
	out := make([]string, len(c.clients))
	copy(out, c.clients)
	return out, c.gen, true
}

// Invalidate drops the cached list so the next call queries the backend.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = nil
	c.expiresAt = time.Time{}
	c.gen++
}

func (c *Cached) Add(ctx context.Context, client string) error {
	w, ok := c.inner.(Writable)
	if !ok {
		return ErrReadOnly
	}
	if err := w.Add(ctx, client); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (c *Cached) Remove(ctx context.Context, client string) (bool, error) {
	w, ok := c.inner.(Writable)
	if !ok {
		return false, ErrReadOnly
	}
	removed, err := w.Remove(ctx, client)
	if err != nil {
		return false, err
	}
	c.Invalidate()
	return removed, nil
}

func (c *Cached) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cleanupInt)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cached) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients != nil && !c.now().Before(c.expiresAt) {
		c.clients = nil
	}
}
