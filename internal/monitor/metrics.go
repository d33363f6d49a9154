package monitor

import (
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// emaAlpha weights the newest latency sample in the moving average.
const emaAlpha = 0.2

// errorWindow is how many recent outcomes the error rate covers.
const errorWindow = 100

// sketchAccuracy is the relative accuracy of latency quantiles.
const sketchAccuracy = 0.01

// StoreMetrics is a snapshot of one store's rolling performance.
type StoreMetrics struct {
	Store      string        `json:"store"`
	Operations int64         `json:"operations"`
	Errors     int64         `json:"errors"`
	ErrorRate  float64       `json:"error_rate"`
	AvgLatency time.Duration `json:"avg_latency"`
	P50        time.Duration `json:"p50"`
	P95        time.Duration `json:"p95"`
	P99        time.Duration `json:"p99"`
}

// storeMetrics accumulates outcomes for one store. Callers hold the
// monitor's lock.
type storeMetrics struct {
	operations int64
	errors     int64
	emaMillis  float64

	// window is a ring of the latest outcomes, true for a failure.
	window   [errorWindow]bool
	next     int
	filled   int
	failures int

	// sketch is nil if the sketch could not be created; quantiles then
	// read as zero.
	sketch *ddsketch.DDSketch

	lastAlert map[AlertKind]time.Time
}

func newStoreMetrics() *storeMetrics {
	m := &storeMetrics{lastAlert: make(map[AlertKind]time.Time)}
	if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
		m.sketch = sketch
	}
	return m
}

func (m *storeMetrics) record(d time.Duration, ok bool) {
	ms := float64(d) / float64(time.Millisecond)
	if m.operations == 0 {
		m.emaMillis = ms
	} else {
		m.emaMillis = emaAlpha*ms + (1-emaAlpha)*m.emaMillis
	}
	m.operations++
	if !ok {
		m.errors++
	}
	if m.filled == errorWindow {
		if m.window[m.next] {
			m.failures--
		}
	} else {
		m.filled++
	}
	m.window[m.next] = !ok
	if !ok {
		m.failures++
	}
	m.next = (m.next + 1) % errorWindow
	// DDSketch rejects negative values.
	if m.sketch != nil && ms >= 0 {
		_ = m.sketch.Add(ms)
	}
}

// errorRate is the failure share of the latest errorWindow outcomes.
func (m *storeMetrics) errorRate() float64 {
	if m.filled == 0 {
		return 0
	}
	return float64(m.failures) / float64(m.filled)
}

func (m *storeMetrics) avgLatency() time.Duration {
	return millis(m.emaMillis)
}

func (m *storeMetrics) quantile(q float64) time.Duration {
	if m.sketch == nil || m.sketch.IsEmpty() {
		return 0
	}
	v, err := m.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return millis(v)
}

func (m *storeMetrics) snapshot(store string) StoreMetrics {
	return StoreMetrics{
		Store:      store,
		Operations: m.operations,
		Errors:     m.errors,
		ErrorRate:  m.errorRate(),
		AvgLatency: m.avgLatency(),
		P50:        m.quantile(0.50),
		P95:        m.quantile(0.95),
		P99:        m.quantile(0.99),
	}
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
