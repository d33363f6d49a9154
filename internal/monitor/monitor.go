// Package monitor aggregates store health, keeps rolling per-store
// performance metrics, raises threshold alerts and schedules the
// reconciliation sweeps.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/saga"
	"github.com/roach88/triad/internal/storage"
)

// Defaults for Options fields left at zero.
const (
	DefaultSweepInterval    = 15 * time.Minute
	DefaultPollInterval     = 30 * time.Second
	DefaultLatencyThreshold = 2 * time.Second
	DefaultErrorRate        = 0.2
	DefaultMinSamples       = 10
	DefaultAlertCooldown    = 5 * time.Minute
)

// Sweeper is the maintenance surface a sweep drives. *saga.Orchestrator
// implements it.
type Sweeper interface {
	ResumeRollbacks(ctx context.Context) (int, error)
	ExpireStaleOperations(ctx context.Context) (int, error)
	SyncAll(ctx context.Context) saga.SyncSummary
	CleanupOrphans(ctx context.Context) saga.CleanupSummary
}

// Thresholds trigger alerts. A store is only judged once it has
// MinSamples outcomes.
type Thresholds struct {
	Latency    time.Duration
	ErrorRate  float64
	MinSamples int64
	Cooldown   time.Duration
}

// Options configures a Monitor.
type Options struct {
	SweepInterval time.Duration
	// PollInterval is how often Run asks IsSweepDue.
	PollInterval time.Duration
	Thresholds   Thresholds
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.PollInterval > o.SweepInterval {
		o.PollInterval = o.SweepInterval
	}
	t := &o.Thresholds
	if t.Latency <= 0 {
		t.Latency = DefaultLatencyThreshold
	}
	if t.ErrorRate <= 0 {
		t.ErrorRate = DefaultErrorRate
	}
	if t.MinSamples <= 0 {
		t.MinSamples = DefaultMinSamples
	}
	if t.Cooldown <= 0 {
		t.Cooldown = DefaultAlertCooldown
	}
	return o
}

// Report is an aggregated health snapshot.
type Report struct {
	Status    model.HealthState    `json:"status"`
	Stores    []model.HealthStatus `json:"stores"`
	CheckedAt time.Time            `json:"checked_at"`
}

// SweepReport summarises one maintenance sweep.
type SweepReport struct {
	Started  time.Time           `json:"started"`
	Resumed  int                 `json:"resumed"`
	Expired  int                 `json:"expired"`
	Sync     saga.SyncSummary    `json:"sync"`
	Cleanup  saga.CleanupSummary `json:"cleanup"`
	Errors   []string            `json:"errors,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// Monitor watches the stores and drives scheduled sweeps.
//
// Thread-safety: RecordOutcome, Metrics, Aggregate and IsSweepDue are safe
// for concurrent use. Sweeps never overlap.
type Monitor struct {
	stores  []storage.Provider
	health  *storage.HealthCache
	sweeper Sweeper
	sinks   []Sink
	opts    Options
	now     func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	metrics   map[string]*storeMetrics
	lastSweep time.Time

	sweepMu sync.Mutex
	alerts  sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Monitor)

// WithSinks adds alert sinks.
func WithSinks(sinks ...Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

// WithSweeper sets what Sweep and Run drive.
func WithSweeper(s Sweeper) Option {
	return func(m *Monitor) { m.sweeper = s }
}

// SetSweeper attaches the sweeper after construction, for when the sweeper
// itself observes this monitor. Call it before Sweep or Run.
func (m *Monitor) SetSweeper(s Sweeper) {
	m.sweeper = s
}

// WithHealthCache shares a health cache with the orchestrator.
func WithHealthCache(c *storage.HealthCache) Option {
	return func(m *Monitor) { m.health = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// New creates a Monitor over stores.
func New(stores []storage.Provider, opts Options, options ...Option) *Monitor {
	m := &Monitor{
		stores:  stores,
		opts:    opts.withDefaults(),
		now:     time.Now,
		log:     logging.Component("monitor"),
		metrics: make(map[string]*storeMetrics),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.health == nil {
		m.health = storage.NewHealthCache(storage.DefaultHealthTTL, m.now)
	}
	return m
}

// Aggregate checks every store in parallel and reports the worst state.
func (m *Monitor) Aggregate(ctx context.Context) Report {
	statuses := make([]model.HealthStatus, len(m.stores))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range m.stores {
		i, p := i, p
		g.Go(func() error {
			statuses[i] = m.health.Check(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Status:    Worst(statuses),
		Stores:    statuses,
		CheckedAt: m.now(),
	}
}

// Worst folds statuses with worst-of semantics. No statuses is healthy.
func Worst(statuses []model.HealthStatus) model.HealthState {
	state := model.Healthy
	for _, st := range statuses {
		state = model.Worse(state, st.Status)
	}
	return state
}

// RecordOutcome adds one store call to the rolling metrics and raises
// alerts for thresholds it crosses.
func (m *Monitor) RecordOutcome(store string, d time.Duration, ok bool) {
	now := m.now()
	m.mu.Lock()
	sm, found := m.metrics[store]
	if !found {
		sm = newStoreMetrics()
		m.metrics[store] = sm
	}
	sm.record(d, ok)
	alerts := m.evaluate(store, sm, now)
	m.mu.Unlock()

	for _, a := range alerts {
		m.dispatch(a)
	}
}

// evaluate returns alerts that are due; callers hold m.mu.
func (m *Monitor) evaluate(store string, sm *storeMetrics, now time.Time) []Alert {
	t := m.opts.Thresholds
	if sm.operations < t.MinSamples {
		return nil
	}
	var out []Alert
	due := func(kind AlertKind) bool {
		last, ok := sm.lastAlert[kind]
		if ok && now.Sub(last) < t.Cooldown {
			return false
		}
		sm.lastAlert[kind] = now
		return true
	}
	if avg := sm.avgLatency(); avg > t.Latency && due(AlertLatency) {
		out = append(out, Alert{
			Store:     store,
			Kind:      AlertLatency,
			Value:     float64(avg) / float64(time.Millisecond),
			Threshold: float64(t.Latency) / float64(time.Millisecond),
			Message:   fmt.Sprintf("%s average latency %s exceeds %s", store, avg.Round(time.Millisecond), t.Latency),
			At:        now,
		})
	}
	if rate := sm.errorRate(); rate > t.ErrorRate && due(AlertErrorRate) {
		out = append(out, Alert{
			Store:     store,
			Kind:      AlertErrorRate,
			Value:     rate,
			Threshold: t.ErrorRate,
			Message:   fmt.Sprintf("%s error rate %.0f%% exceeds %.0f%%", store, rate*100, t.ErrorRate*100),
			At:        now,
		})
	}
	return out
}

// dispatch sends a to every sink off the caller's path.
func (m *Monitor) dispatch(a Alert) {
	for _, s := range m.sinks {
		s := s
		m.alerts.Add(1)
		go func() {
			defer m.alerts.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Send(ctx, a); err != nil {
				m.log.Error("alert delivery failed", "store", a.Store, "kind", a.Kind, "error", err)
			}
		}()
	}
}

// Flush waits for in-flight alert deliveries.
func (m *Monitor) Flush() {
	m.alerts.Wait()
}

// Metrics returns a snapshot per store, sorted by store name.
func (m *Monitor) Metrics() []StoreMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoreMetrics, 0, len(m.metrics))
	for name, sm := range m.metrics {
		out = append(out, sm.snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Store < out[j].Store })
	return out
}

// IsSweepDue reports whether a sweep has never run or the last one started
// at least SweepInterval ago.
func (m *Monitor) IsSweepDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep.IsZero() || m.now().Sub(m.lastSweep) >= m.opts.SweepInterval
}

// Sweep finishes interrupted rollbacks, expires stale operations, syncs
// every record and cleans up orphans.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	if m.sweeper == nil {
		return SweepReport{}, fmt.Errorf("monitor: no sweeper configured")
	}
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	start := m.now()
	m.mu.Lock()
	m.lastSweep = start
	m.mu.Unlock()

	rep := SweepReport{Started: start}
	var err error
	if rep.Resumed, err = m.sweeper.ResumeRollbacks(ctx); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("resume rollbacks: %v", err))
	}
	if rep.Expired, err = m.sweeper.ExpireStaleOperations(ctx); err != nil {
		rep.Errors = append(rep.Errors, fmt.Sprintf("expire operations: %v", err))
	}
	rep.Sync = m.sweeper.SyncAll(ctx)
	rep.Cleanup = m.sweeper.CleanupOrphans(ctx)
	rep.Duration = m.now().Sub(start)

	m.log.Info("sweep finished",
		"resumed", rep.Resumed,
		"expired", rep.Expired,
		"synced", rep.Sync.Synced,
		"repaired", rep.Sync.Repaired,
		"sync_failed", rep.Sync.Failed,
		"orphans_removed", rep.Cleanup.Removed,
		"duration", rep.Duration)
	return rep, nil
}

// Run sweeps whenever one is due until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if m.sweeper == nil {
		return fmt.Errorf("monitor: no sweeper configured")
	}
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		if m.IsSweepDue() {
			if _, err := m.Sweep(ctx); err != nil {
				return err
			}
			if report := m.Aggregate(ctx); report.Status != model.Healthy {
				m.log.Warn("stores not healthy", "status", report.Status)
			}
		}
		select {
		case <-ctx.Done():
			m.Flush()
			return nil
		case <-ticker.C:
		}
	}
}
