// Package prometheus renders a controller's counters and request latency
// histogram in the Prometheus text exposition format.
//
// [NewPrometheusExporter] wraps an [impactlog.Controller] and exposes an
// [http.Handler]. Counter names are impactlog_*_total; the histogram is
// impactlog_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry. Callers mount the Handler.
//   - Mutate controller state.
package prometheus
