package internaldefs

import (
	"github.com/MrEthical07/tokenguard"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   tokenguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: tokenguard.MetricIssueSuccess, Name: "tokenguard_issue_success_total", Help: "Access tokens issued and registered."},
	{ID: tokenguard.MetricIssueFailure, Name: "tokenguard_issue_failure_total", Help: "Issuance attempts that failed to sign or register."},
	{ID: tokenguard.MetricLoginSuccess, Name: "tokenguard_login_success_total", Help: "Successful logins."},
	{ID: tokenguard.MetricLoginFailure, Name: "tokenguard_login_failure_total", Help: "Failed logins."},
	{ID: tokenguard.MetricRefreshSuccess, Name: "tokenguard_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: tokenguard.MetricRefreshFailure, Name: "tokenguard_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: tokenguard.MetricRefreshReuseDetected, Name: "tokenguard_refresh_reuse_detected_total", Help: "Replays of already rotated refresh tokens."},
	{ID: tokenguard.MetricValidateSuccess, Name: "tokenguard_validate_success_total", Help: "Accepted access tokens."},
	{ID: tokenguard.MetricValidateMalformed, Name: "tokenguard_validate_malformed_total", Help: "Rejected tokens that failed parsing or signature checks."},
	{ID: tokenguard.MetricValidateExpired, Name: "tokenguard_validate_expired_total", Help: "Rejected tokens past expiry."},
	{ID: tokenguard.MetricValidateRevoked, Name: "tokenguard_validate_revoked_total", Help: "Rejected tokens with no active record."},
	{ID: tokenguard.MetricValidateStoreUnavailable, Name: "tokenguard_validate_store_unavailable_total", Help: "Rejections caused by an unreachable revocation store."},
	{ID: tokenguard.MetricRevoke, Name: "tokenguard_revoke_total", Help: "Single token revocations."},
	{ID: tokenguard.MetricLogout, Name: "tokenguard_logout_total", Help: "Single-session logouts."},
	{ID: tokenguard.MetricLogoutAll, Name: "tokenguard_logout_all_total", Help: "Logout-everywhere and forced invalidations."},
	{ID: tokenguard.MetricStoreError, Name: "tokenguard_store_error_total", Help: "Store faults surfaced to callers."},
	{ID: tokenguard.MetricReconcileRemoved, Name: "tokenguard_reconcile_removed_total", Help: "Stale index entries removed by reconcile."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: tokenguard.MetricValidateLatency, Name: "tokenguard_validate_latency_seconds", Help: "Validate latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "tokenguard_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramUpperBounds are the bucket upper bounds in seconds. The last
// bucket is unbounded.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBounds are the le labels of the buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names the per-bucket gauges for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
