package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/tokenguard"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot tokenguard.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tokenguard.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: tokenguard.MetricsSnapshot{
			Counters: map[tokenguard.MetricID]uint64{
				tokenguard.MetricLoginSuccess:    7,
				tokenguard.MetricValidateRevoked: 3,
			},
			Histograms: map[tokenguard.MetricID][]uint64{
				tokenguard.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollectorFromSource(sampleSource())

	expected := `
# HELP tokenguard_login_success_total Successful logins.
# TYPE tokenguard_login_success_total counter
tokenguard_login_success_total 7
# HELP tokenguard_validate_revoked_total Rejected tokens with no active record.
# TYPE tokenguard_validate_revoked_total counter
tokenguard_validate_revoked_total 3
# HELP tokenguard_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE tokenguard_audit_dropped_total counter
tokenguard_audit_dropped_total 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"tokenguard_login_success_total",
		"tokenguard_validate_revoked_total",
		"tokenguard_audit_dropped_total",
	)
	if err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestCollectorSkipsDisabledHistogram(t *testing.T) {
	src := sampleSource()
	delete(src.snapshot.Histograms, tokenguard.MetricValidateLatency)
	c := NewCollectorFromSource(src)

	if n := testutil.CollectAndCount(c, "tokenguard_validate_latency_seconds"); n != 0 {
		t.Fatalf("expected no histogram when latency is disabled, got %d", n)
	}
}

func TestHandlerServesCumulativeHistogram(t *testing.T) {
	exp, err := NewExporterFromSource(sampleSource())
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	for _, want := range []string{
		`tokenguard_validate_latency_seconds_bucket{le="0.005"} 1`,
		`tokenguard_validate_latency_seconds_bucket{le="0.5"} 28`,
		`tokenguard_validate_latency_seconds_bucket{le="+Inf"} 36`,
		`tokenguard_validate_latency_seconds_count 36`,
		`tokenguard_login_success_total 7`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestExporterRegistryAcceptsExtraCollectors(t *testing.T) {
	exp, err := NewExporterFromSource(sampleSource())
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if err := exp.Registry().Register(NewCollectorFromSource(sampleSource())); err == nil {
		t.Fatal("expected duplicate collector registration to fail")
	}
}

func BenchmarkCollect(b *testing.B) {
	c := NewCollectorFromSource(sampleSource())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(c)
	}
}
