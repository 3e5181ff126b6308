// Package otel publishes a controller's metrics through an OpenTelemetry
// meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per cumulative latency bucket. A single callback
// reads [impactlog.Controller.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate controller state.
package otel
