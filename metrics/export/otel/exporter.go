package otel

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() tokenguard.MetricsSnapshot
	AuditDropped() uint64
}

// Option customizes an [Exporter].
type Option func(*options)

type options struct {
	attrs []attribute.KeyValue
}

// WithAttributes attaches attrs to every observation, e.g. an instance or
// deployment label when several engines share one MeterProvider.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// view is the state shared by every series during one collection.
type view struct {
	snapshot   tokenguard.MetricsSnapshot
	dropped    uint64
	cumulative map[tokenguard.MetricID][8]uint64
}

func (v *view) histogram(id tokenguard.MetricID) ([8]uint64, bool) {
	if c, ok := v.cumulative[id]; ok {
		return c, true
	}
	raw, ok := v.snapshot.Histograms[id]
	if !ok {
		return [8]uint64{}, false
	}
	c := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	v.cumulative[id] = c
	return c, true
}

// series is one observed data point: an instrument, its attribute set, and
// how to read the value from a view.
type series struct {
	instrument metric.Int64Observable
	attrs      metric.ObserveOption
	read       func(*view) (uint64, bool)
}

// Exporter publishes engine counters, the validate latency buckets, and the
// audit drop count through a caller-owned Meter. All values come from a
// single snapshot per collection cycle.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	series       []series
}

// NewExporter registers observable instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *tokenguard.Engine, opts ...Option) (*Exporter, error) {
	return NewExporterFromSource(meter, engine, opts...)
}

// NewExporterFromSource is NewExporter for any snapshot source.
func NewExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	base := metric.WithAttributeSet(attribute.NewSet(o.attrs...))

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+2*len(internaldefs.HistogramDefs)+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		id := def.ID
		e.series = append(e.series, series{
			instrument: ins,
			attrs:      base,
			read: func(v *view) (uint64, bool) {
				return v.snapshot.Counters[id], true
			},
		})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		added, err := e.addHistogram(meter, def, o.attrs, base)
		if err != nil {
			return nil, err
		}
		observables = append(observables, added...)
	}

	dropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.series = append(e.series, series{
		instrument: dropped,
		attrs:      base,
		read:       func(v *view) (uint64, bool) { return v.dropped, true },
	})
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

// addHistogram exports def as a bucket gauge labelled le, following the
// Prometheus convention, plus a sample count gauge.
func (e *Exporter) addHistogram(meter metric.Meter, def internaldefs.HistogramDef, attrs []attribute.KeyValue, base metric.ObserveOption) ([]metric.Observable, error) {
	bucketName := def.Name + "_bucket"
	buckets, err := meter.Int64ObservableGauge(bucketName, metric.WithDescription(def.Help+" Cumulative bucket counts."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", bucketName, err)
	}
	countName := def.Name + "_count"
	count, err := meter.Int64ObservableGauge(countName, metric.WithDescription(def.Help+" Sample count."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", countName, err)
	}

	id := def.ID
	for i, le := range internaldefs.HistogramBounds {
		bucket := i
		kv := make([]attribute.KeyValue, 0, len(attrs)+1)
		kv = append(kv, attrs...)
		kv = append(kv, attribute.String("le", le))
		e.series = append(e.series, series{
			instrument: buckets,
			attrs:      metric.WithAttributeSet(attribute.NewSet(kv...)),
			read: func(v *view) (uint64, bool) {
				c, ok := v.histogram(id)
				return c[bucket], ok
			},
		})
	}
	e.series = append(e.series, series{
		instrument: count,
		attrs:      base,
		read: func(v *view) (uint64, bool) {
			c, ok := v.histogram(id)
			return c[len(c)-1], ok
		},
	})
	return []metric.Observable{buckets, count}, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	v := &view{
		snapshot:   e.source.MetricsSnapshot(),
		dropped:    e.source.AuditDropped(),
		cumulative: make(map[tokenguard.MetricID][8]uint64, len(internaldefs.HistogramDefs)),
	}
	for _, s := range e.series {
		value, ok := s.read(v)
		if !ok {
			continue
		}
		observer.ObserveInt64(s.instrument, clampInt64(value), s.attrs)
	}
	return nil
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
