// Package metrics defines the Prometheus metric collectors used by the
// root-finding services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SolvesTotal          *prometheus.CounterVec
	SolveDuration        *prometheus.HistogramVec
	SolveIterations      prometheus.Histogram
	SolveDegree          prometheus.Histogram
	SolveRestartsTotal   prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	JobsProcessedTotal   *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solves_total",
				Help: "Total solves by outcome (converged, not_converged, numerical_failure, degenerate, aborted, invalid).",
			},
			[]string{"outcome"},
		),
		SolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solve_duration_seconds",
				Help:    "Solver wall time in seconds by outcome.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"outcome"},
		),
		SolveIterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solve_iterations",
				Help:    "Aberth rounds needed per converged solve.",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500},
			},
		),
		SolveDegree: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solve_degree",
				Help:    "Degree of solved polynomials.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
			},
		),
		SolveRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "solve_restarts_total",
				Help: "Total restarts from perturbed starting points after numerical failures.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solve_jobs_processed_total",
				Help: "Total queued solve jobs processed by status.",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SolvesTotal,
		m.SolveDuration,
		m.SolveIterations,
		m.SolveDegree,
		m.SolveRestartsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.JobsProcessedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
