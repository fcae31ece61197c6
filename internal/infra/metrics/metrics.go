// Package metrics holds the Prometheus collectors shared by the BFF components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	gateDecisions  *prometheus.CounterVec
	identityCalls  *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

// New creates collectors registered on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_gate_decisions_total",
			Help:      "Route authorization decisions by kind.",
		}, []string{"decision", "require_admin"}),
		identityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_api_calls_total",
			Help:      "Identity API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_gates_active",
			Help:      "Mounted per-tab session gates.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.gateDecisions,
		m.identityCalls,
		m.sessionsActive,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) ObserveHTTP(route, method, status string, seconds float64) {
	if m == nil {
		return
	}

	m.httpRequests.WithLabelValues(route, method, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(seconds)
}

func (m *Metrics) ObserveDecision(decision string, requireAdmin bool) {
	if m == nil {
		return
	}

	admin := "false"
	if requireAdmin {
		admin = "true"
	}

	m.gateDecisions.WithLabelValues(decision, admin).Inc()
}

func (m *Metrics) ObserveIdentityCall(operation, outcome string) {
	if m == nil {
		return
	}

	m.identityCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) GateMounted() {
	if m != nil {
		m.sessionsActive.Inc()
	}
}

func (m *Metrics) GateUnmounted() {
	if m != nil {
		m.sessionsActive.Dec()
	}
}
