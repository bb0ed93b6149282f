// Package metrics exposes Prometheus collectors for the tiered crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tierAttemptsTotal          *prometheus.CounterVec
	tierDurationSeconds        *prometheus.HistogramVec
	fetchesTotal               *prometheus.CounterVec
	breakerShortCircuitsTotal  *prometheus.CounterVec
	breakerTripsTotal          *prometheus.CounterVec
	blocksTotal                *prometheus.CounterVec
	throttleWaitSeconds        *prometheus.HistogramVec
	activeFetches              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tierAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tier_attempts_total",
				Help: "Tier invocations, labeled by tier and outcome reason.",
			},
			[]string{"tier", "outcome"},
		)

		tierDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_tier_duration_seconds",
				Help:    "Histogram of tier latencies, labeled by tier.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"tier"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Completed fetch calls, labeled by producing tier and status.",
			},
			[]string{"tier", "status"},
		)

		breakerShortCircuitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_breaker_short_circuits_total",
				Help: "Fetch calls rejected because the domain breaker was open.",
			},
			[]string{"domain"},
		)

		breakerTripsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_breaker_trips_total",
				Help: "Times a domain breaker opened.",
			},
			[]string{"domain"},
		)

		blocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_blocks_total",
				Help: "Anti-bot blocks reported to the throttle, labeled by domain.",
			},
			[]string{"domain"},
		)

		throttleWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_throttle_wait_seconds",
				Help:    "Histogram of throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_fetches",
				Help: "Number of fetch calls currently in flight.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveTier records one tier invocation.
func ObserveTier(tier, outcome string, duration time.Duration) {
	Init()
	tierAttemptsTotal.WithLabelValues(tier, outcome).Inc()
	tierDurationSeconds.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObserveFetch records a completed fetch call.
func ObserveFetch(tier string, failed bool) {
	Init()
	status := "success"
	if failed {
		status = "failure"
	}
	fetchesTotal.WithLabelValues(tier, status).Inc()
}

// ObserveShortCircuit counts a fetch rejected by an open breaker.
func ObserveShortCircuit(domain string) {
	Init()
	breakerShortCircuitsTotal.WithLabelValues(domain).Inc()
}

// ObserveBreakerTrip counts a breaker opening.
func ObserveBreakerTrip(domain string) {
	Init()
	breakerTripsTotal.WithLabelValues(domain).Inc()
}

// ObserveBlocked counts a block report.
func ObserveBlocked(domain string) {
	Init()
	blocksTotal.WithLabelValues(domain).Inc()
}

// ObserveThrottleWait records the duration of a throttle wait.
func ObserveThrottleWait(domain string, duration time.Duration) {
	Init()
	throttleWaitSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveFetches increments the in-flight gauge.
func IncActiveFetches() {
	Init()
	activeFetches.Inc()
}

// DecActiveFetches decrements the in-flight gauge.
func DecActiveFetches() {
	Init()
	activeFetches.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
