// Package metrics exposes the security core's prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeThrottled = "throttled"
)

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Lockouts        prometheus.Counter
	ResetsSwept     prometheus.Counter
	SweepErrors     prometheus.Counter
	EmailsDelivered *prometheus.CounterVec
	RealtimeClients prometheus.Gauge
	AuditDrops      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry under namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_operations_total",
				Help:      "Authentication operations by name and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auth_operation_duration_seconds",
				Help:      "Authentication operation latency",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		Lockouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_lockouts_total",
				Help:      "Accounts locked after repeated failed sign-ins",
			},
		),
		ResetsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reset_credentials_swept_total",
				Help:      "Accounts whose expired reset credentials were cleared",
			},
		),
		SweepErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reset_sweep_errors_total",
				Help:      "Failed expiry sweeps",
			},
		),
		EmailsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "emails_total",
				Help:      "Notification emails by delivery outcome",
			},
			[]string{"outcome"},
		),
		RealtimeClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_clients",
				Help:      "Connected real-time channel clients",
			},
		),
		AuditDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_events_dropped_total",
				Help:      "Audit events discarded under back-pressure, by route",
			},
			[]string{"route"},
		),
	}
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Locked counts an account lockout.
func (m *Metrics) Locked() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// Swept records the result of one expiry sweep.
func (m *Metrics) Swept(n int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepErrors.Inc()
		return
	}
	m.ResetsSwept.Add(float64(n))
}

// Email records a delivery result.
func (m *Metrics) Email(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EmailsDelivered.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.EmailsDelivered.WithLabelValues(OutcomeSuccess).Inc()
}

// ClientConnected adjusts the real-time client gauge by delta.
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.RealtimeClients.Add(float64(delta))
}

// AuditDropped counts one audit event dropped on route.
func (m *Metrics) AuditDropped(route string) {
	if m == nil {
		return
	}
	m.AuditDrops.WithLabelValues(route).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
