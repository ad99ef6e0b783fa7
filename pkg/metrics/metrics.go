// Package metrics exposes prometheus metrics for pack runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// File outcomes.
const (
	FileIncluded = "included"
	FileOmitted  = "omitted"
	FileSkipped  = "skipped"
	FileFailed   = "failed"
	FileBinary   = "binary"
)

// Config configures a Recorder.
type Config struct {
	// Namespace is the metrics namespace (default: "sourcepack").
	Namespace string

	// Buckets are the histogram buckets for run duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures a Recorder.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Recorder records pack metrics. A nil *Recorder records nothing, so callers
// never need to check whether metrics are enabled.
type Recorder struct {
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	filesTotal   *prometheus.CounterVec
	bytesWritten prometheus.Counter
	activeRuns   prometheus.Gauge
}

// New registers the pack metrics and returns a Recorder for them.
func New(opts ...Option) *Recorder {
	config := Config{
		Namespace: "sourcepack",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Recorder{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "runs_total",
			Help:      "Total number of pack runs by format and outcome",
		}, []string{"format", "outcome"}),

		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "run_duration_seconds",
			Help:      "Pack run duration in seconds",
			Buckets:   config.Buckets,
		}, []string{"format"}),

		filesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "files_total",
			Help:      "Total number of files visited by outcome",
		}, []string{"outcome"}),

		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "document_bytes_total",
			Help:      "Total number of document bytes written",
		}),

		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_runs",
			Help:      "Number of pack runs in progress",
		}),
	}
}

// RunStarted marks a run as in progress.
func (r *Recorder) RunStarted() {
	if r == nil {
		return
	}
	r.activeRuns.Inc()
}

// RunFinished records the end of a run.
func (r *Recorder) RunFinished(format, outcome string, elapsed time.Duration, bytes int64) {
	if r == nil {
		return
	}
	r.activeRuns.Dec()
	r.runsTotal.WithLabelValues(format, outcome).Inc()
	r.runDuration.WithLabelValues(format).Observe(elapsed.Seconds())
	r.bytesWritten.Add(float64(bytes))
}

// File records the outcome of one visited file.
func (r *Recorder) File(outcome string) {
	if r == nil {
		return
	}
	r.filesTotal.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, for node-exporter style textfile collection.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
