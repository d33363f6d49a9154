package storage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/triad/internal/model"
)

// DefaultHealthTTL is how long a health snapshot is reused.
const DefaultHealthTTL = 30 * time.Second

type healthEntry struct {
	status  model.HealthStatus
	fetched time.Time
}

// HealthCache memoises provider health checks for a TTL window. Concurrent
// callers inside a window share one in-flight check.
type HealthCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]healthEntry
}

// NewHealthCache creates a cache; ttl <= 0 selects DefaultHealthTTL.
func NewHealthCache(ttl time.Duration, now func() time.Time) *HealthCache {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	if now == nil {
		now = time.Now
	}
	return &HealthCache{ttl: ttl, now: now, entries: make(map[string]healthEntry)}
}

// TTL returns the configured window.
func (c *HealthCache) TTL() time.Duration {
	return c.ttl
}

// Check returns the cached snapshot for p if it is fresh, otherwise runs
// p.HealthCheck once for all concurrent callers.
//
// The shared check is detached from the caller's cancellation, so one
// caller going away cannot cache a false unhealthy snapshot. Providers bound
// their own checks with a timeout. A caller whose ctx ends first gets an
// uncached unhealthy status while the check completes for everyone else.
func (c *HealthCache) Check(ctx context.Context, p Provider) model.HealthStatus {
	name := p.Name()
	if st, ok := c.fresh(name); ok {
		return st
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(name, func() (any, error) {
		if st, ok := c.fresh(name); ok {
			return st, nil
		}
		st := p.HealthCheck(detached)
		if st.Store == "" {
			st.Store = name
		}
		c.mu.Lock()
		c.entries[name] = healthEntry{status: st, fetched: c.now()}
		c.mu.Unlock()
		return st, nil
	})

	select {
	case res := <-ch:
		return res.Val.(model.HealthStatus)
	case <-ctx.Done():
		return model.HealthStatus{
			Store:     name,
			Status:    model.Unhealthy,
			CheckedAt: c.now(),
			Detail:    ctx.Err().Error(),
		}
	}
}

// Invalidate drops the snapshot for name so the next Check re-probes.
func (c *HealthCache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *HealthCache) fresh(name string) (model.HealthStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || c.now().Sub(e.fetched) >= c.ttl {
		return model.HealthStatus{}, false
	}
	return e.status, true
}
