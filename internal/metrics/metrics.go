// Package metrics holds the process-wide prometheus registry and the
// HTTP-level counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RequestCounter tracks handled HTTP requests by method, route and
	// status class.
	RequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "userhub_http_requests_total",
		Help: "Total number of handled HTTP requests",
	}, []string{"method", "route", "status"})
	// RequestDuration tracks request latency by route.
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "userhub_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	// EventClientsGauge reports the number of connected event-stream
	// clients.
	EventClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "userhub_event_clients",
		Help: "Current number of connected websocket event clients",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterHTTPMetrics registers the HTTP metrics on the provided registry.
func RegisterHTTPMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RequestCounter, RequestDuration, EventClientsGauge)
}
