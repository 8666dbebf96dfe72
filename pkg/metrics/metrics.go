// Package metrics exposes Prometheus collectors for cluster lifecycle, provisioner
// latency and idle sweeps.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kadali"

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds every Kadali collector and the registry they are registered on.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions         *prometheus.CounterVec
	provisionerDuration *prometheus.HistogramVec
	reaperSweeps        prometheus.Counter
	reaperTerminations  *prometheus.CounterVec
	reaperLastSweep     prometheus.Gauge
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included so /metrics is useful on its own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cluster",
				Name:      "transitions_total",
				Help:      "Total number of cluster status transitions",
			},
			[]string{"from", "to"},
		),

		provisionerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provisioner",
				Name:      "duration_seconds",
				Help:      "Duration of container platform calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"op", "result"},
		),

		reaperSweeps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "sweeps_total",
				Help:      "Total number of idle sweeps run",
			},
		),

		reaperTerminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "terminations_total",
				Help:      "Total number of idle terminations attempted by result",
			},
			[]string{"result"},
		),

		reaperLastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "reaper",
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix time the last idle sweep finished",
			},
		),
	}

	m.registry.MustRegister(
		m.transitions,
		m.provisionerDuration,
		m.reaperSweeps,
		m.reaperTerminations,
		m.reaperLastSweep,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordTransition counts one status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveProvisioner records the latency of one platform call.
func (m *Metrics) ObserveProvisioner(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.provisionerDuration.WithLabelValues(op, result(err)).Observe(d.Seconds())
}

// RecordSweep records a finished idle sweep and its termination outcomes.
func (m *Metrics) RecordSweep(at time.Time, terminated, failed int) {
	if m == nil {
		return
	}
	m.reaperSweeps.Inc()
	m.reaperTerminations.WithLabelValues(ResultSuccess).Add(float64(terminated))
	m.reaperTerminations.WithLabelValues(ResultError).Add(float64(failed))
	m.reaperLastSweep.Set(float64(at.Unix()))
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
