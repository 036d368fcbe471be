// Package metrics exports CSRF and session counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a registry and the service's metric vectors.
// It satisfies csrf.Recorder and session.Recorder.
type Collector struct {
	registry *prometheus.Registry

	csrfChecks       *prometheus.CounterVec
	tokensIssued     *prometheus.CounterVec
	sessionEvents    *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
}

// NewCollector creates a collector on a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		csrfChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrfguard_csrf_checks_total",
				Help: "CSRF verifications by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		tokensIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrfguard_csrf_tokens_issued_total",
				Help: "CSRF secrets generated by route",
			},
			[]string{"route"},
		),
		sessionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrfguard_sessions_total",
				Help: "Session lifecycle events",
			},
			[]string{"event"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "csrfguard_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDurations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "csrfguard_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// TokenIssued counts a generated CSRF secret.
func (c *Collector) TokenIssued(route string) {
	c.tokensIssued.WithLabelValues(route).Inc()
}

// CheckOutcome counts a CSRF verification result.
func (c *Collector) CheckOutcome(route, outcome string) {
	c.csrfChecks.WithLabelValues(route, outcome).Inc()
}

// SessionEvent counts a session lifecycle event.
func (c *Collector) SessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDurations.WithLabelValues(route).Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
