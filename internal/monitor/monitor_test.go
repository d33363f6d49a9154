package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cebinding "github.com/cloudevents/sdk-go/v2/binding"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/triad/internal/logging"
	"github.com/roach88/triad/internal/model"
	"github.com/roach88/triad/internal/saga"
	"github.com/roach88/triad/internal/storage"
	"github.com/roach88/triad/internal/testutil"
)

var _ saga.Observer = (*Monitor)(nil)

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingSink) kinds() []AlertKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AlertKind, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type countingSweeper struct {
	sweeps atomic.Int32
}

func (s *countingSweeper) ResumeRollbacks(context.Context) (int, error) {
	s.sweeps.Add(1)
	return 1, nil
}

func (s *countingSweeper) ExpireStaleOperations(context.Context) (int, error) {
	return 0, errors.New("ops store offline")
}

func (s *countingSweeper) SyncAll(context.Context) saga.SyncSummary {
	return saga.SyncSummary{Total: 4, Synced: 3, Repaired: 1}
}

func (s *countingSweeper) CleanupOrphans(context.Context) saga.CleanupSummary {
	return saga.CleanupSummary{Processed: 1, Removed: 1}
}

func fakeStores() (*testutil.FakeLedger, *testutil.FakeCache, *testutil.FakeMedia) {
	j := testutil.NewJournal()
	now := testutil.NewClock(time.Time{}).Now
	return testutil.NewFakeLedger(j, now), testutil.NewFakeCache(j, now), testutil.NewFakeMedia(j)
}

func TestAggregateReportsWorstState(t *testing.T) {
	tests := []struct {
		name   string
		states [3]model.HealthState
		want   model.HealthState
	}{
		{"all healthy", [3]model.HealthState{model.Healthy, model.Healthy, model.Healthy}, model.Healthy},
		{"one degraded", [3]model.HealthState{model.Healthy, model.Degraded, model.Healthy}, model.Degraded},
		{"one unhealthy", [3]model.HealthState{model.Healthy, model.Unhealthy, model.Healthy}, model.Unhealthy},
		{"unhealthy beats degraded", [3]model.HealthState{model.Degraded, model.Healthy, model.Unhealthy}, model.Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, c, m := fakeStores()
			l.SetHealth(tt.states[0])
			c.SetHealth(tt.states[1])
			m.SetHealth(tt.states[2])

			mon := New([]storage.Provider{l, c, m}, Options{}, WithLogger(logging.Discard()))
			report := mon.Aggregate(context.Background())
			assert.Equal(t, tt.want, report.Status)
			require.Len(t, report.Stores, 3)
			assert.Equal(t, model.StoreLedger, report.Stores[0].Store)
			assert.Equal(t, model.StoreCache, report.Stores[1].Store)
			assert.Equal(t, model.StoreMedia, report.Stores[2].Store)
		})
	}
}

func TestWorstOfNothingIsHealthy(t *testing.T) {
	assert.Equal(t, model.Healthy, Worst(nil))
}

func TestMetricsTrackMovingAverage(t *testing.T) {
	mon := New(nil, Options{}, WithLogger(logging.Discard()))
	mon.RecordOutcome(model.StoreLedger, 100*time.Millisecond, true)
	mon.RecordOutcome(model.StoreLedger, 200*time.Millisecond, false)
	mon.RecordOutcome(model.StoreCache, 5*time.Millisecond, true)

	metrics := mon.Metrics()
	require.Len(t, metrics, 2)
	assert.Equal(t, model.StoreCache, metrics[0].Store)

	ledger := metrics[1]
	assert.Equal(t, int64(2), ledger.Operations)
	assert.Equal(t, int64(1), ledger.Errors)
	assert.InDelta(t, 0.5, ledger.ErrorRate, 1e-9)
	// 0.2*200 + 0.8*100
	assert.InDelta(t, float64(120*time.Millisecond), float64(ledger.AvgLatency), float64(time.Microsecond))
}

func TestMetricsQuantiles(t *testing.T) {
	mon := New(nil, Options{}, WithLogger(logging.Discard()))
	for i := 1; i <= 100; i++ {
		mon.RecordOutcome(model.StoreMedia, time.Duration(i)*time.Millisecond, true)
	}

	m := mon.Metrics()[0]
	assert.InEpsilon(t, float64(50*time.Millisecond), float64(m.P50), 0.03)
	assert.InEpsilon(t, float64(95*time.Millisecond), float64(m.P95), 0.03)
	assert.InEpsilon(t, float64(99*time.Millisecond), float64(m.P99), 0.03)
}

func TestAlertsRespectMinSamplesAndCooldown(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	sink := &recordingSink{}
	mon := New(nil, Options{Thresholds: Thresholds{
		Latency:    100 * time.Millisecond,
		MinSamples: 3,
		Cooldown:   time.Minute,
	}}, WithSinks(sink), WithClock(clock.Now), WithLogger(logging.Discard()))

	mon.RecordOutcome(model.StoreLedger, time.Second, true)
	mon.RecordOutcome(model.StoreLedger, time.Second, true)
	mon.Flush()
	assert.Empty(t, sink.kinds(), "below min samples")

	mon.RecordOutcome(model.StoreLedger, time.Second, true)
	mon.RecordOutcome(model.StoreLedger, time.Second, true)
	mon.Flush()
	assert.Equal(t, []AlertKind{AlertLatency}, sink.kinds())

	clock.Advance(2 * time.Minute)
	mon.RecordOutcome(model.StoreLedger, time.Second, true)
	mon.Flush()
	assert.Equal(t, []AlertKind{AlertLatency, AlertLatency}, sink.kinds())
}

func TestErrorRateAlert(t *testing.T) {
	sink := &recordingSink{}
	mon := New(nil, Options{Thresholds: Thresholds{MinSamples: 4, ErrorRate: 0.25}},
		WithSinks(sink), WithLogger(logging.Discard()))

	for _, ok := range []bool{true, false, false, true} {
		mon.RecordOutcome(model.StoreCache, time.Millisecond, ok)
	}
	mon.Flush()

	require.Len(t, sink.alerts, 1)
	a := sink.alerts[0]
	assert.Equal(t, AlertErrorRate, a.Kind)
	assert.Equal(t, model.StoreCache, a.Store)
	assert.InDelta(t, 0.5, a.Value, 1e-9)
	assert.Contains(t, a.Message, "error rate 50%")
}

func TestErrorRateFollowsRecentOutcomes(t *testing.T) {
	sink := &recordingSink{}
	mon := New(nil, Options{Thresholds: Thresholds{MinSamples: 10, ErrorRate: 0.2, Cooldown: time.Hour}},
		WithSinks(sink), WithLogger(logging.Discard()))

	for i := 0; i < 10000; i++ {
		mon.RecordOutcome(model.StoreCache, time.Millisecond, true)
	}
	mon.Flush()
	assert.NotContains(t, sink.kinds(), AlertErrorRate)

	for i := 0; i < 30; i++ {
		mon.RecordOutcome(model.StoreCache, time.Millisecond, false)
	}
	mon.Flush()
	assert.Equal(t, []AlertKind{AlertErrorRate}, sink.kinds())

	m := mon.Metrics()[0]
	assert.Equal(t, int64(10030), m.Operations)
	assert.Equal(t, int64(30), m.Errors)
	assert.InDelta(t, 0.3, m.ErrorRate, 1e-9)

	// Recovery drains the window.
	for i := 0; i < 100; i++ {
		mon.RecordOutcome(model.StoreCache, time.Millisecond, true)
	}
	assert.Zero(t, mon.Metrics()[0].ErrorRate)
}

func TestCloudEventSinkPostsStructuredEvent(t *testing.T) {
	got := make(chan Alert, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/cloudevents+json", r.Header.Get("Content-Type"))
		msg := cehttp.NewMessageFromHttpRequest(r)
		e, err := cebinding.ToEvent(r.Context(), msg)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, AlertEventType, e.Type())
		assert.Equal(t, "triad-test", e.Source())
		assert.Equal(t, model.StoreMedia, e.Subject())

		var a Alert
		assert.NoError(t, e.DataAs(&a))
		got <- a
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewCloudEventSink(srv.URL, "triad-test", srv.Client())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = sink.Send(context.Background(), Alert{
		Store: model.StoreMedia, Kind: AlertLatency, Value: 2500, Threshold: 2000,
		Message: "media slow", At: at,
	})
	require.NoError(t, err)

	a := <-got
	assert.Equal(t, AlertLatency, a.Kind)
	assert.Equal(t, 2500.0, a.Value)
	assert.True(t, at.Equal(a.At))
}

func TestCloudEventSinkReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink, err := NewCloudEventSink(srv.URL, "", nil)
	require.NoError(t, err)
	err = sink.Send(context.Background(), Alert{Store: model.StoreCache, Kind: AlertErrorRate, At: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewCloudEventSinkRequiresURL(t *testing.T) {
	_, err := NewCloudEventSink("", "", nil)
	assert.Error(t, err)
}

func TestSweepSchedule(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	sw := &countingSweeper{}
	mon := New(nil, Options{SweepInterval: 10 * time.Minute},
		WithSweeper(sw), WithClock(clock.Now), WithLogger(logging.Discard()))

	assert.True(t, mon.IsSweepDue(), "never swept")

	rep, err := mon.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Resumed)
	assert.Equal(t, saga.SyncSummary{Total: 4, Synced: 3, Repaired: 1}, rep.Sync)
	assert.Equal(t, 1, rep.Cleanup.Removed)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "ops store offline")

	assert.False(t, mon.IsSweepDue())
	clock.Advance(9 * time.Minute)
	assert.False(t, mon.IsSweepDue())
	clock.Advance(time.Minute)
	assert.True(t, mon.IsSweepDue())
}

func TestSweepWithoutSweeper(t *testing.T) {
	mon := New(nil, Options{}, WithLogger(logging.Discard()))
	_, err := mon.Sweep(context.Background())
	assert.Error(t, err)
	assert.Error(t, mon.Run(context.Background()))
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	clock := testutil.NewClock(time.Time{})
	sw := &countingSweeper{}
	l, c, m := fakeStores()
	mon := New([]storage.Provider{l, c, m}, Options{SweepInterval: time.Hour, PollInterval: time.Millisecond},
		WithSweeper(sw), WithClock(clock.Now), WithLogger(logging.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	assert.Eventually(t, func() bool { return sw.sweeps.Load() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return sw.sweeps.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
