package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	LifecycleOps     *prometheus.CounterVec
	BackendDuration  *prometheus.HistogramVec
	BackendErrors    *prometheus.CounterVec
	AuthAttempts     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method and status code.",
			},
			[]string{"method", "status"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		LifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "lifecycle_operations_total",
				Help:      "Total sandbox lifecycle operations by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),

		BackendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "backend_call_duration_seconds",
				Help:      "Duration of execution backend calls.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),

		BackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "backend_errors_total",
				Help:      "Total failed execution backend calls by operation.",
			},
			[]string{"operation"},
		),

		AuthAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "auth_attempts_total",
				Help:      "Total authentication attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestsInFlight,
		m.LifecycleOps,
		m.BackendDuration,
		m.BackendErrors,
		m.AuthAttempts,
	)

	return m
}

// RecordOp records a completed lifecycle operation.
func (m *Metrics) RecordOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LifecycleOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveBackendCall records the duration and outcome of a backend call.
func (m *Metrics) ObserveBackendCall(operation string, durationSec float64, err error) {
	m.BackendDuration.WithLabelValues(operation).Observe(durationSec)
	if err != nil {
		m.BackendErrors.WithLabelValues(operation).Inc()
	}
}

// RecordAuth records an authentication attempt.
func (m *Metrics) RecordAuth(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.AuthAttempts.WithLabelValues(outcome).Inc()
}
