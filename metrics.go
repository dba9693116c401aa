package tokenguard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	// MetricIssueSuccess counts tokens issued and registered.
	MetricIssueSuccess MetricID = iota
	// MetricIssueFailure counts issuance attempts that failed to sign or register.
	MetricIssueFailure
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess
	// MetricLoginFailure counts logins rejected by the credential verifier.
	MetricLoginFailure
	// MetricRefreshSuccess counts successful refresh rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts refresh attempts with unknown, expired, or unusable tokens.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts replays of already rotated refresh tokens.
	MetricRefreshReuseDetected
	// MetricValidateSuccess counts accepted access tokens.
	MetricValidateSuccess
	// MetricValidateMalformed counts rejected tokens that failed signature or parsing.
	MetricValidateMalformed
	// MetricValidateExpired counts rejected tokens past expiry.
	MetricValidateExpired
	// MetricValidateRevoked counts rejected tokens with no active record.
	MetricValidateRevoked
	// MetricValidateStoreUnavailable counts rejections caused by an unreachable store.
	MetricValidateStoreUnavailable
	// MetricRevoke counts single token revocations.
	MetricRevoke
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts logout-everywhere and forced invalidations.
	MetricLogoutAll
	// MetricStoreError counts store faults surfaced to callers.
	MetricStoreError
	// MetricReconcileRemoved counts stale index entries removed by reconcile.
	MetricReconcileRemoved
	// MetricValidateLatency is the only histogram.
	MetricValidateLatency
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

// Metrics holds lock-free counters. Counters are padded to a cache line so
// hot paths on different cores do not contend.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters gated by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments id. It is a no-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add increments id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in the histogram of id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Disabled metrics return empty maps.
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
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
