package prometheus

import (
	"net/http"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() tokenguard.MetricsSnapshot
	AuditDropped() uint64
}

// Collector is a prometheus.Collector that reads engine counters at scrape
// time. Nothing is copied into the Prometheus client between scrapes.
type Collector struct {
	source       metricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prom.Desc
}

type counterDesc struct {
	id   tokenguard.MetricID
	desc *prom.Desc
}

type histogramDesc struct {
	id   tokenguard.MetricID
	desc *prom.Desc
}

// NewCollector creates a collector reading from engine.
func NewCollector(engine *tokenguard.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a collector from any snapshot source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counters:     make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms:   make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prom.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	for _, hd := range c.histograms {
		ch <- hd.desc
	}
	ch <- c.auditDropped
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, cd := range c.counters {
		ch <- prom.MustNewConstMetric(cd.desc, prom.CounterValue, float64(snapshot.Counters[cd.id]))
	}

	for _, hd := range c.histograms {
		raw, ok := snapshot.Histograms[hd.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, upper := range internaldefs.HistogramUpperBounds {
			buckets[upper] = cumulative[i]
		}
		// Sum is not tracked by the engine.
		ch <- prom.MustNewConstHistogram(hd.desc, cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prom.MustNewConstMetric(c.auditDropped, prom.CounterValue, float64(c.source.AuditDropped()))
}

// Exporter owns a private registry holding one [Collector].
type Exporter struct {
	registry *prom.Registry
}

// NewExporter registers a collector for engine in a fresh registry.
func NewExporter(engine *tokenguard.Engine) (*Exporter, error) {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource is NewExporter for any snapshot source.
func NewExporterFromSource(source metricsSource) (*Exporter, error) {
	registry := prom.NewRegistry()
	if err := registry.Register(NewCollectorFromSource(source)); err != nil {
		return nil, err
	}
	return &Exporter{registry: registry}, nil
}

// Registry exposes the registry so callers can add their own collectors.
func (e *Exporter) Registry() *prom.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
