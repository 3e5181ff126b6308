package internaldefs

import (
	"github.com/impactlog/impactlog"
)

// CounterDef names one controller counter for export.
type CounterDef struct {
	ID   impactlog.MetricID
	Name string
	Help string
}

// HistogramDef names one controller histogram for export.
type HistogramDef struct {
	ID   impactlog.MetricID
	Name string
	Help string
}

// BucketCount is the number of latency buckets, +Inf included.
const BucketCount = 8

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: impactlog.MetricSignInSuccess, Name: "impactlog_sign_in_success_total", Help: "Sign-ins that populated the session."},
	{ID: impactlog.MetricSignInFailure, Name: "impactlog_sign_in_failure_total", Help: "Sign-ins rejected by the backend or transport."},
	{ID: impactlog.MetricSignUpSuccess, Name: "impactlog_sign_up_success_total", Help: "Sign-ups that populated the session."},
	{ID: impactlog.MetricSignUpFailure, Name: "impactlog_sign_up_failure_total", Help: "Failed sign-ups."},
	{ID: impactlog.MetricSignOut, Name: "impactlog_sign_out_total", Help: "Sign-out calls."},
	{ID: impactlog.MetricValidationRejected, Name: "impactlog_validation_rejected_total", Help: "Inputs refused before any network call."},
	{ID: impactlog.MetricHydrateSkipped, Name: "impactlog_hydrate_skipped_total", Help: "Bootstraps that found no stored token."},
	{ID: impactlog.MetricHydrateSuccess, Name: "impactlog_hydrate_success_total", Help: "Hydrations that populated the session."},
	{ID: impactlog.MetricHydrateRejected, Name: "impactlog_hydrate_rejected_total", Help: "Hydrations refused by the backend."},
	{ID: impactlog.MetricHydrateRetained, Name: "impactlog_hydrate_retained_total", Help: "Transient hydration failures that kept the token."},
	{ID: impactlog.MetricHydrateStaleDiscarded, Name: "impactlog_hydrate_stale_discarded_total", Help: "Hydration results dropped after a concurrent session change."},
	{ID: impactlog.MetricSessionInvalidated, Name: "impactlog_session_invalidated_total", Help: "Sessions cleared by a 401."},
	{ID: impactlog.MetricRequestFailure, Name: "impactlog_request_failure_total", Help: "Backend calls answered with a non-2xx status."},
	{ID: impactlog.MetricRequestNetworkError, Name: "impactlog_request_network_error_total", Help: "Backend calls that got no answer."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: impactlog.MetricRequestLatency, Name: "impactlog_request_latency_seconds", Help: "Backend request latency."},
}

// HistogramBounds are the le labels matching the controller's buckets.
var HistogramBounds = [BucketCount]string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix turns each bound into an instrument name suffix.
var HistogramBoundSuffix = [BucketCount]string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to BucketCount entries. A missing
// histogram yields zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals. The
// last entry is the sample count.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
