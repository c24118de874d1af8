// Package metrics provides the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the gateway emits on its request path.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	ProxyRequestsTotal   *prometheus.CounterVec
	ProxyRequestDuration *prometheus.HistogramVec
	ProxyActiveRequests  prometheus.Gauge

	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	RateLimitRejectionsTotal *prometheus.CounterVec
	RateLimitBucketsActive   prometheus.Gauge

	AuthFailuresTotal *prometheus.CounterVec

	RegistryServersTotal   *prometheus.GaugeVec
	RegistryProbeDuration  *prometheus.HistogramVec
	RegistryProbeFailures  *prometheus.CounterVec
}

// New registers and returns a Metrics instance bound to the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers and returns a Metrics instance bound to registerer.
// Passing a fresh prometheus.NewRegistry() keeps test suites isolated from the
// process-global default registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the public surface.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed.",
		}),

		ProxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests forwarded to backend MCP servers.",
		}, []string{"server_id", "transport", "status"}),

		ProxyRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "proxy",
			Name:      "request_duration_seconds",
			Help:      "Latency of requests forwarded to backend MCP servers.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"server_id", "transport"}),

		ProxyActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "proxy",
			Name:      "active_requests",
			Help:      "Number of proxy requests currently in flight across all servers.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current circuit breaker state per server (0=closed, 1=open, 2=half_open).",
		}, []string{"server_id"}),

		CircuitBreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Total number of circuit breaker state transitions.",
		}, []string{"server_id", "from", "to"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		}, []string{"tier"}),

		RateLimitBucketsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "buckets_active",
			Help:      "Number of in-process token buckets currently tracked.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication/authorization failures.",
		}, []string{"reason"}),

		RegistryServersTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "registry",
			Name:      "servers",
			Help:      "Number of registered servers by health status.",
		}, []string{"status"}),

		RegistryProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "registry",
			Name:      "probe_duration_seconds",
			Help:      "Health probe round-trip latency per server.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"server_id"}),

		RegistryProbeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "registry",
			Name:      "probe_failures_total",
			Help:      "Total number of failed health probes per server.",
		}, []string{"server_id"}),
	}

	collectors := []prometheus.Collector{
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight,
		m.ProxyRequestsTotal, m.ProxyRequestDuration, m.ProxyActiveRequests,
		m.CircuitBreakerState, m.CircuitBreakerTransitions,
		m.RateLimitRejectionsTotal, m.RateLimitBucketsActive,
		m.AuthFailuresTotal,
		m.RegistryServersTotal, m.RegistryProbeDuration, m.RegistryProbeFailures,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}
