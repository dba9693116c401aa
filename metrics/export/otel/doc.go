// Package otel publishes tokenguard metrics through an OpenTelemetry Meter.
//
// [NewExporter] creates one Int64ObservableCounter per engine counter under
// the names shared with the Prometheus exporter. The validate latency
// histogram becomes a <name>_bucket gauge with an le attribute per bucket
// and a <name>_count gauge. One callback takes a single snapshot per
// collection, so every series in a cycle is consistent.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
