package tokenguard

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricValidateLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricValidateLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}

	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("expected MetricLoginSuccess=1 got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 2 {
		t.Fatalf("expected MetricLoginFailure=2 got %d", snap.Counters[MetricLoginFailure])
	}
	if len(snap.Histograms[MetricValidateLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricValidateLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricValidateLatency][0])
	}
}

func TestMetricsAddAndNilSafety(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Add(MetricReconcileRemoved, 5)
	m.Add(MetricReconcileRemoved, 2)
	if got := m.Value(MetricReconcileRemoved); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	nilMetrics.Add(MetricStoreError, 3)
	if got := nilMetrics.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0 from nil metrics, got %d", got)
	}
}

func TestEngineRecordsValidateLatency(t *testing.T) {
	env := newTestEnv(t)
	engine := buildTestEngine(t, env, func(cfg *Config) {
		cfg.Metrics.EnableLatencyHistograms = true
	})
	ctx := context.Background()

	token, err := engine.Issue(ctx, "u1", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := engine.Validate(ctx, token); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricValidateSuccess] != 3 {
		t.Fatalf("expected 3 validate successes, got %d", snap.Counters[MetricValidateSuccess])
	}
	var total uint64
	for _, v := range snap.Histograms[MetricValidateLatency] {
		total += v
	}
	if total != 3 {
		t.Fatalf("expected 3 latency observations, got %d", total)
	}
}
