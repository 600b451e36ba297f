// Package telemetry holds the auth service's Prometheus metrics and its
// OpenTelemetry tracer setup.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "academy_auth"

// Metrics is safe to use as a nil pointer; every method then does nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionOps   *prometheus.CounterVec
	sessionOpDur *prometheus.HistogramVec
	revocations  *prometheus.CounterVec
	rateLimited  *prometheus.CounterVec
	housekeeping prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Session manager operations by outcome.",
		}, []string{"op", "outcome"}),
		sessionOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_operation_duration_seconds",
			Help:      "Session manager operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_revocations_total",
			Help:      "Access tokens written to the blacklist, by cause.",
		}, []string{"cause"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		housekeeping: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_purged_entries_total",
			Help:      "Expired session store entries removed by housekeeping.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionOps,
		m.sessionOpDur,
		m.revocations,
		m.rateLimited,
		m.housekeeping,
	)
	return m
}

// ObserveSessionOp records one Login, Refresh, Logout or Authorize call.
func (m *Metrics) ObserveSessionOp(op, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.sessionOps.WithLabelValues(op, outcome).Inc()
	m.sessionOpDur.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) Revoked(cause string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(cause).Inc()
}

// RateLimited matches httpx.RejectHook.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}

func (m *Metrics) Purged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.housekeeping.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
