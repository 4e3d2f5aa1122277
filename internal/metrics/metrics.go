// Package metrics holds the Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all gateway metrics
type Registry struct {
	// Request path
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Providers
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderFailures *prometheus.CounterVec
	FallbacksUsed    prometheus.Counter

	// Event stream
	EventsEmitted     *prometheus.CounterVec
	StreamSubscribers prometheus.Gauge

	// Alerts
	AlertsDelivered *prometheus.CounterVec
	AlertsFailed    *prometheus.CounterVec
	AlertsDropped   prometheus.Counter

	registry *prometheus.Registry
}

// NewRegistry creates and registers all gateway metrics
func NewRegistry() *Registry {
	r := &Registry{
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketgate_request_duration_seconds",
				Help:    "Duration of gateway search requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "depth", "result"},
		),
		RequestErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_request_errors_total",
				Help: "Total gateway request errors by endpoint and code",
			},
			[]string{"endpoint", "code"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_cache_hits_total",
				Help: "Total cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_cache_misses_total",
				Help: "Total cache misses by tier",
			},
			[]string{"tier"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_provider_requests_total",
				Help: "Total provider fetches by provider and data type",
			},
			[]string{"provider", "data_type"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketgate_provider_latency_seconds",
				Help:    "Provider fetch latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"provider"},
		),
		ProviderFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_provider_failures_total",
				Help: "Total provider failures by provider and error code",
			},
			[]string{"provider", "code"},
		),
		FallbacksUsed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketgate_fallbacks_used_total",
				Help: "Requests served by a fallback provider after the primary failed",
			},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_events_emitted_total",
				Help: "Watchdog events emitted by type and severity",
			},
			[]string{"type", "severity"},
		),
		StreamSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketgate_stream_subscribers",
				Help: "Current event stream subscriber count",
			},
		),
		AlertsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_alerts_delivered_total",
				Help: "Alert notifications delivered by method",
			},
			[]string{"method"},
		),
		AlertsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketgate_alerts_failed_total",
				Help: "Alert delivery failures by method",
			},
			[]string{"method"},
		),
		AlertsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marketgate_alerts_dropped_total",
				Help: "Alert notifications dropped due to a full delivery queue",
			},
		),
		registry: prometheus.NewRegistry(),
	}

	r.registry.MustRegister(
		r.RequestDuration,
		r.RequestErrors,
		r.CacheHits,
		r.CacheMisses,
		r.ProviderRequests,
		r.ProviderLatency,
		r.ProviderFailures,
		r.FallbacksUsed,
		r.EventsEmitted,
		r.StreamSubscribers,
		r.AlertsDelivered,
		r.AlertsFailed,
		r.AlertsDropped,
	)
	return r
}

// Handler serves the registry in Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
