// Package prometheus exposes tokenguard metrics through the Prometheus client.
//
// [Collector] implements prometheus.Collector and reads
// [tokenguard.Engine.MetricsSnapshot] at scrape time. [Exporter] wraps a
// private registry and serves it through promhttp. Counter names are
// prefixed tokenguard_*_total; the single histogram is
// tokenguard_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
