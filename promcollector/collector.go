package promcollector

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/mmvar"
)

// Collector is the Prometheus implementation of mmvar.MetricsCollector.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesWritten      *prometheus.CounterVec
	mappedBytes       prometheus.Gauge
	growsTotal        prometheus.Counter
	corruptionsTotal  prometheus.Counter
	snapshotsTotal    *prometheus.CounterVec
	snapshotDuration  prometheus.Histogram
	snapshotBytes     prometheus.Histogram
}

var _ mmvar.MetricsCollector = (*Collector)(nil)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// Option configures New.
type Option func(*options)

// WithNamespace prefixes every metric name. Default: "mmvar".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithConstLabels attaches labels to every metric, for example to tell
// several stores in one process apart.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// New creates a Collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
// It panics if the metrics are already registered.
func New(reg prometheus.Registerer, optFns ...Option) *Collector {
	o := options{namespace: "mmvar"}
	for _, fn := range optFns {
		fn(&o)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		operationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   o.namespace,
				Name:        "operations_total",
				Help:        "Total number of store operations by operation, type and status",
				ConstLabels: o.constLabels,
			},
			[]string{"operation", "type", "status"},
		),
		operationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   o.namespace,
				Name:        "operation_duration_seconds",
				Help:        "Duration of store operations in seconds",
				ConstLabels: o.constLabels,
				Buckets: []float64{
					0.000001, // 1µs - immediate reads
					0.00001,  // 10µs
					0.0001,   // 100µs - small indirect values
					0.001,    // 1ms
					0.01,     // 10ms - growth
					0.1,      // 100ms
					1,        // 1s
				},
			},
			[]string{"operation"},
		),
		bytesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   o.namespace,
				Name:        "written_bytes_total",
				Help:        "Total logical bytes written by variable type",
				ConstLabels: o.constLabels,
			},
			[]string{"type"},
		),
		mappedBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   o.namespace,
				Name:        "mapped_bytes",
				Help:        "Size of the mapping after the last growth",
				ConstLabels: o.constLabels,
			},
		),
		growsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace:   o.namespace,
				Name:        "grows_total",
				Help:        "Total number of times the file grew",
				ConstLabels: o.constLabels,
			},
		),
		corruptionsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace:   o.namespace,
				Name:        "corruptions_total",
				Help:        "Total number of stores marked broken by structural corruption",
				ConstLabels: o.constLabels,
			},
		),
		snapshotsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   o.namespace,
				Name:        "snapshots_total",
				Help:        "Total number of snapshot exports by status",
				ConstLabels: o.constLabels,
			},
			[]string{"status"},
		),
		snapshotDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   o.namespace,
				Name:        "snapshot_duration_seconds",
				Help:        "Duration of snapshot exports in seconds",
				ConstLabels: o.constLabels,
				Buckets:     prometheus.ExponentialBuckets(0.01, 4, 7),
			},
		),
		snapshotBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   o.namespace,
				Name:        "snapshot_stored_bytes",
				Help:        "Distribution of stored snapshot sizes",
				ConstLabels: o.constLabels,
				Buckets: []float64{
					65536,      // 64KB
					1048576,    // 1MB
					16777216,   // 16MB
					134217728,  // 128MB
					1073741824, // 1GB
				},
			},
		),
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, mmvar.ErrNotFound):
		return "not_found"
	case errors.Is(err, mmvar.ErrOutOfSpace):
		return "out_of_space"
	case errors.Is(err, mmvar.ErrCorruptHeap), errors.Is(err, mmvar.ErrCorruptHeader):
		return "corrupt"
	default:
		return "error"
	}
}

func (c *Collector) observe(op, typ string, d time.Duration, err error) {
	c.operationsTotal.WithLabelValues(op, typ, status(err)).Inc()
	c.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordDefine implements mmvar.MetricsCollector.
func (c *Collector) RecordDefine(typ mmvar.Type, d time.Duration, err error) {
	c.observe("define", typ.String(), d, err)
}

// RecordRead implements mmvar.MetricsCollector.
func (c *Collector) RecordRead(typ mmvar.Type, d time.Duration, err error) {
	c.observe("read", typ.String(), d, err)
}

// RecordWrite implements mmvar.MetricsCollector.
func (c *Collector) RecordWrite(typ mmvar.Type, bytes int, d time.Duration, err error) {
	c.observe("write", typ.String(), d, err)
	if err == nil && bytes > 0 {
		c.bytesWritten.WithLabelValues(typ.String()).Add(float64(bytes))
	}
}

// RecordRemove implements mmvar.MetricsCollector.
func (c *Collector) RecordRemove(d time.Duration, err error) {
	c.observe("remove", "", d, err)
}

// RecordFree implements mmvar.MetricsCollector.
func (c *Collector) RecordFree(d time.Duration, err error) {
	c.observe("free", "", d, err)
}

// RecordGrow implements mmvar.MetricsCollector.
func (c *Collector) RecordGrow(_, newSize uint64) {
	c.growsTotal.Inc()
	c.mappedBytes.Set(float64(newSize))
}

// RecordCorruption implements mmvar.MetricsCollector.
func (c *Collector) RecordCorruption(error) {
	c.corruptionsTotal.Inc()
}

// RecordSnapshot implements mmvar.MetricsCollector.
func (c *Collector) RecordSnapshot(storedBytes int64, d time.Duration, err error) {
	c.snapshotsTotal.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	c.snapshotDuration.Observe(d.Seconds())
	c.snapshotBytes.Observe(float64(storedBytes))
}
