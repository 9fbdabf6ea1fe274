package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/queryhub/qbridge/internal/counter"
)

// Prometheus registry wiring, grounded on the teacher's metrics.go
// (one *Vec per concern, registered once at startup). The bridge's
// counters are keyed by mode/status rather than the teacher's
// user/target, since the core has no notion of upstream "target".
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbridge_requests_total",
			Help: "Requests served, by mode and response status code.",
		},
		[]string{"mode", "status"},
	)

	backendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbridge_backend_errors_total",
			Help: "Executor failures, by mode.",
		},
		[]string{"mode"},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qbridge_query_cache_hits_total",
			Help: "DIRECT/MUTATION requests served from an already-live cached result.",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qbridge_query_cache_misses_total",
			Help: "DIRECT/MUTATION requests that executed against the backend.",
		},
	)
)

// activeStreams counts Response Writer drains in flight, using the same
// lightweight atomic counter the teacher reaches for instead of a full
// GaugeVec when a single process-wide number is all that's needed.
var activeStreams counter.Counter

func initMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(requestsTotal, backendErrorsTotal, cacheHitsTotal, cacheMissesTotal)
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "qbridge_active_streams",
			Help: "Response Writer drains currently in flight.",
		},
		func() float64 { return float64(activeStreams.Load()) },
	))
	return reg
}

func recordRequest(mode Mode, status int) {
	requestsTotal.WithLabelValues(string(mode), statusLabel(status)).Inc()
}

func recordBackendError(mode Mode) {
	backendErrorsTotal.WithLabelValues(string(mode)).Inc()
}

func statusLabel(status int) string {
	switch status {
	case 200:
		return "200"
	case 204:
		return "204"
	case 302:
		return "302"
	case 400:
		return "400"
	case 403:
		return "403"
	case 404:
		return "404"
	case 500:
		return "500"
	default:
		return "other"
	}
}
