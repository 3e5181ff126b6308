package impactlog

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricSignInSuccess counts sign-ins that populated the session.
	MetricSignInSuccess MetricID = iota
	// MetricSignInFailure counts sign-ins rejected by the backend or transport.
	MetricSignInFailure
	// MetricSignUpSuccess counts sign-ups that populated the session.
	MetricSignUpSuccess
	// MetricSignUpFailure counts failed sign-ups.
	MetricSignUpFailure
	// MetricSignOut counts SignOut calls.
	MetricSignOut
	// MetricValidationRejected counts inputs refused before any network call.
	MetricValidationRejected
	// MetricHydrateSkipped counts bootstraps that found no stored token.
	MetricHydrateSkipped
	// MetricHydrateSuccess counts hydrations that populated the session.
	MetricHydrateSuccess
	// MetricHydrateRejected counts hydrations the backend refused; the session was cleared.
	MetricHydrateRejected
	// MetricHydrateRetained counts transient hydration failures that kept the token.
	MetricHydrateRetained
	// MetricHydrateStaleDiscarded counts hydration results dropped because
	// the session changed while the call was in flight.
	MetricHydrateStaleDiscarded
	// MetricSessionInvalidated counts sessions cleared by a 401.
	MetricSessionInvalidated
	// MetricRequestFailure counts backend calls answered with a non-2xx status.
	MetricRequestFailure
	// MetricRequestNetworkError counts backend calls that got no answer.
	MetricRequestNetworkError
	// MetricRequestLatency is the latency histogram of backend calls.
	MetricRequestLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the request latency histogram.
// A nil or disabled Metrics ignores every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters. Histogram
// buckets are non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a Metrics set according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of id. Only MetricRequestLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricRequestLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRequestLatency].buckets[i])
		}
		s.Histograms[MetricRequestLatency] = buckets
	}

	return s
}

// Bucket upper bounds: 25ms, 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
