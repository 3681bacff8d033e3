package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/reduce/internal/ir"
)

// StepObserver is notified after every primitive or recipe step finishes.
type StepObserver interface {
	ObserveStep(kind ir.PrimSetKind, step string, elapsed time.Duration, err error)
}

// RequestObserver is notified after every serviced request.
type RequestObserver interface {
	ObserveRequest(kind ir.RequestKind, err error)
}

// Metrics collects Prometheus metrics for reductions in its own registry.
type Metrics struct {
	registry *prometheus.Registry

	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	RequestsTotal *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
}

// NewMetrics creates metrics under namespace (default "reduce").
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reduce"
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "steps_total",
			Help:      "Total number of executed recipe steps",
		}, []string{"kind", "step", "status"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Duration of recipe steps in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "step"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Total number of serviced reduction requests",
		}, []string{"kind", "status"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "active_runs",
			Help:      "Number of reductions currently running",
		}),
	}

	reg.MustRegister(m.StepsTotal, m.StepDuration, m.RequestsTotal, m.ActiveRuns)
	return m
}

// ObserveStep implements StepObserver.
func (m *Metrics) ObserveStep(kind ir.PrimSetKind, step string, elapsed time.Duration, err error) {
	m.StepsTotal.WithLabelValues(string(kind), step, status(err)).Inc()
	m.StepDuration.WithLabelValues(string(kind), step).Observe(elapsed.Seconds())
}

// ObserveRequest implements RequestObserver.
func (m *Metrics) ObserveRequest(kind ir.RequestKind, err error) {
	m.RequestsTotal.WithLabelValues(string(kind), status(err)).Inc()
}

// Registry returns the registry the metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current metrics in the Prometheus text format,
// for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
