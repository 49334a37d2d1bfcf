package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Dashboard routes include the full prediction chain.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate by upstream (weatherbit, nominatim, prediction, terrain) and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per request. Watch for: p95 > 2s on weatherbit.
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per upstream. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Query cache outcomes by query kind (current, forecast, reverse, search) and result (hit, miss, stale).
	CacheRequestsTotal *prometheus.CounterVec

	// Cache backend errors by operation.
	CacheErrorsTotal *prometheus.CounterVec

	// Callers that joined an in-flight upstream request instead of issuing their own.
	CoalescedRequestsTotal *prometheus.CounterVec

	// Cache misses that overlapped another miss for the same key.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Terrain lookups by outcome (match, no_match, unavailable, malformed).
	TerrainLookupsTotal *prometheus.CounterVec

	// Per-day prediction endpoint calls by outcome (success, error).
	PredictionCallsTotal *prometheus.CounterVec

	// Whole prediction chains by result (success or failure kind).
	PredictionChainsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Cache warming runs and their failures.
	CacheWarmingTotal       prometheus.Counter
	CacheWarmingErrorsTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream calls",
		},
		[]string{"upstream", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream latency in seconds (per request)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"upstream", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"upstream"},
	)
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheRequestsTotal",
			Help: "Query cache lookups by query kind and result (hit, miss, stale)",
		},
		[]string{"query", "result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CoalescedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Requests that waited on an identical in-flight upstream call",
		},
		[]string{"query"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses observed while another miss for the same key was in progress",
		},
		[]string{"query"},
	)
	TerrainLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrainLookupsTotal",
			Help: "Terrain spreadsheet lookups by outcome",
		},
		[]string{"outcome"},
	)
	PredictionCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionCallsTotal",
			Help: "Per-day prediction endpoint calls by outcome",
		},
		[]string{"outcome"},
	)
	PredictionChainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionChainsTotal",
			Help: "Prediction chains by result (success or failure kind)",
		},
		[]string{"result"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed coordinate",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheRequestsTotal, CacheErrorsTotal, CoalescedRequestsTotal, CacheStampedeDetectedTotal,
		TerrainLookupsTotal, PredictionCallsTotal, PredictionChainsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal,
	)
}

// RecordCircuitBreakerTransition updates the state gauge and transition counter.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// StatusLabel maps an HTTP status code to a low-cardinality metric label.
func StatusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
