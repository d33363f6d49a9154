package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/model"
)

type countingProvider struct {
	calls   atomic.Int32
	status  model.HealthState
	release chan struct{}
}

func (p *countingProvider) Name() string              { return "counting" }
func (p *countingProvider) Config() map[string]string { return nil }
func (p *countingProvider) HealthCheck(context.Context) model.HealthStatus {
	p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	return model.HealthStatus{Status: p.status}
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestHealthCacheReusesWithinTTL(t *testing.T) {
	clock := &manualClock{t: time.Unix(1_700_000_000, 0)}
	p := &countingProvider{status: model.Healthy}
	cache := NewHealthCache(30*time.Second, clock.Now)

	st := cache.Check(context.Background(), p)
	assert.Equal(t, model.Healthy, st.Status)
	assert.Equal(t, "counting", st.Store, "store name filled in")

	clock.Advance(29 * time.Second)
	cache.Check(context.Background(), p)
	assert.Equal(t, int32(1), p.calls.Load())

	clock.Advance(time.Second)
	p.status = model.Degraded
	st = cache.Check(context.Background(), p)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.Equal(t, model.Degraded, st.Status)
}

func TestHealthCacheInvalidate(t *testing.T) {
	p := &countingProvider{status: model.Healthy}
	cache := NewHealthCache(0, nil)
	assert.Equal(t, DefaultHealthTTL, cache.TTL())

	cache.Check(context.Background(), p)
	cache.Invalidate("counting")
	cache.Check(context.Background(), p)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestHealthCacheSingleFlight(t *testing.T) {
	p := &countingProvider{status: model.Healthy, release: make(chan struct{})}
	cache := NewHealthCache(time.Minute, nil)

	var wg sync.WaitGroup
	results := make([]model.HealthStatus, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Check(context.Background(), p)
		}(i)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.release)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, r := range results {
		assert.Equal(t, model.Healthy, r.Status)
	}
}

func TestProbeClassifies(t *testing.T) {
	ctx := context.Background()

	st := Probe(ctx, "db", time.Second, 0, nil, func(context.Context) error { return nil })
	assert.Equal(t, model.Healthy, st.Status)
	assert.Equal(t, "db", st.Store)

	st = Probe(ctx, "db", time.Second, 0, nil, func(context.Context) error { return errors.New("refused") })
	assert.Equal(t, model.Unhealthy, st.Status)
	assert.Equal(t, "refused", st.Detail)

	clock := &manualClock{t: time.Unix(0, 0)}
	st = Probe(ctx, "db", time.Second, 100*time.Millisecond, clock.Now, func(context.Context) error {
		clock.Advance(200 * time.Millisecond)
		return nil
	})
	assert.Equal(t, model.Degraded, st.Status)
	assert.Equal(t, 200*time.Millisecond, st.ResponseTime)
}

func TestProbeHonoursTimeout(t *testing.T) {
	st := Probe(context.Background(), "slow", 10*time.Millisecond, 0, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, model.Unhealthy, st.Status)
	assert.Contains(t, st.Detail, "deadline exceeded")
}

// ctxProvider reports unhealthy when its check context is already done.
type ctxProvider struct{ calls atomic.Int32 }

func (p *ctxProvider) Name() string              { return "ctx" }
func (p *ctxProvider) Config() map[string]string { return nil }
func (p *ctxProvider) HealthCheck(ctx context.Context) model.HealthStatus {
	p.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return model.HealthStatus{Status: model.Unhealthy, Detail: err.Error()}
	}
	return model.HealthStatus{Status: model.Healthy}
}

func TestHealthCacheIgnoresCancelledCaller(t *testing.T) {
	p := &ctxProvider{}
	cache := NewHealthCache(time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cache.Check(ctx, p)

	st := cache.Check(context.Background(), p)
	assert.Equal(t, model.Healthy, st.Status, "detail: %s", st.Detail)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestHealthCacheCancelledCallerDoesNotWait(t *testing.T) {
	p := &countingProvider{status: model.Healthy, release: make(chan struct{})}
	cache := NewHealthCache(time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan model.HealthStatus, 1)
	go func() { done <- cache.Check(ctx, p) }()

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case st := <-done:
		assert.Equal(t, model.Unhealthy, st.Status)
		assert.Contains(t, st.Detail, "canceled")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller blocked on the shared check")
	}

	close(p.release)
	st := cache.Check(context.Background(), p)
	assert.Equal(t, model.Healthy, st.Status)
	assert.Equal(t, int32(1), p.calls.Load())
}
