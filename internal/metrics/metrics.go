// Package metrics holds the service's Prometheus collectors. All methods are
// safe on a nil *Metrics so callers without a registry can skip recording.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apx_claims"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	claims         *prometheus.CounterVec
	cacheFallbacks *prometheus.CounterVec
	streakResets   *prometheus.CounterVec
	ledgerErrors   *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by cadence and outcome.",
		}, []string{"cadence", "result"}),
		cacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallbacks_total",
			Help:      "Reads answered from the claim mirror because the ledger failed.",
		}, []string{"cadence"}),
		streakResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_resets_total",
			Help:      "Streaks reset to zero by the lapsed streak sweep.",
		}, []string{"cadence"}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Failed ledger operations.",
		}, []string{"operation"}),
	}

	registry.MustRegister(
		m.requests,
		m.durations,
		m.claims,
		m.cacheFallbacks,
		m.streakResets,
		m.ledgerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRequest(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.durations.WithLabelValues(route, method).Observe(seconds)
}

func (m *Metrics) ClaimRecorded(cadence, result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(cadence, result).Inc()
}

func (m *Metrics) CacheFallback(cadence string) {
	if m == nil {
		return
	}
	m.cacheFallbacks.WithLabelValues(cadence).Inc()
}

func (m *Metrics) StreaksReset(cadence string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.streakResets.WithLabelValues(cadence).Add(float64(n))
}

func (m *Metrics) LedgerError(operation string) {
	if m == nil {
		return
	}
	m.ledgerErrors.WithLabelValues(operation).Inc()
}
