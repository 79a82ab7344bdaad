// Package metrics counts record outcomes of a run with Prometheus
// collectors and exports them in the node exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidmreed/amaxa-sub000/internal/engine"
)

const namespace = "amaxa"

// Recorder is an engine.Observer backed by a private Prometheus registry.
type Recorder struct {
	registry  *prometheus.Registry
	extracted *prometheus.CounterVec
	loaded    *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.GaugeVec
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder with its collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		extracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Records written to extraction output.",
		}, []string{"sobject"}),
		loaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_loaded_total",
			Help:      "Records inserted into the target.",
		}, []string{"sobject"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Errors recorded, by object type and kind.",
		}, []string{"sobject", "kind"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.extracted, r.loaded, r.failed, r.duration)
	return r
}

// RecordExtracted implements engine.Observer.
func (r *Recorder) RecordExtracted(sobject string) {
	r.extracted.WithLabelValues(sobject).Inc()
}

// RecordLoaded implements engine.Observer.
func (r *Recorder) RecordLoaded(sobject string) {
	r.loaded.WithLabelValues(sobject).Inc()
}

// RecordFailed implements engine.Observer.
func (r *Recorder) RecordFailed(sobject string, kind engine.Kind) {
	r.failed.WithLabelValues(sobject, string(kind)).Inc()
}

// ObserveDuration sets the run duration of operation.
func (r *Recorder) ObserveDuration(operation string, d time.Duration) {
	r.duration.WithLabelValues(operation).Set(d.Seconds())
}

// Registry exposes the recorder's registry, for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values to path in the textfile
// collector format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
