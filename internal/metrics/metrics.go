// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total result pages attempted, labeled by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	crawlerResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_results_total",
			Help: "Total links extracted and broadcast, labeled by engine.",
		},
		[]string{"engine"},
	)

	crawlerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_tasks_total",
			Help: "Total tasks finished, labeled by terminal status.",
		},
		[]string{"status"},
	)

	crawlerActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_active_tasks",
			Help: "Number of crawl tasks currently running.",
		},
	)

	crawlerCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_commands_total",
			Help: "Total bus commands received, labeled by command.",
		},
		[]string{"cmd"},
	)

	crawlerRateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Page outcome labels.
const (
	PageOK             = "ok"
	PageHTTPError      = "http_error"
	PageTransportError = "transport_error"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given engine and outcome.
func ObservePage(engine, outcome string) {
	crawlerPagesTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveResults adds extracted link counts for the given engine.
func ObserveResults(engine string, count int) {
	if count > 0 {
		crawlerResultsTotal.WithLabelValues(engine).Add(float64(count))
	}
}

// ObserveTask increments the task counter for the given terminal status.
func ObserveTask(status string) {
	crawlerTasksTotal.WithLabelValues(status).Inc()
}

// ObserveCommand increments the command counter.
func ObserveCommand(cmd string) {
	crawlerCommandsTotal.WithLabelValues(cmd).Inc()
}

// IncActiveTasks increments the active tasks gauge.
func IncActiveTasks() {
	crawlerActiveTasks.Inc()
}

// DecActiveTasks decrements the active tasks gauge.
func DecActiveTasks() {
	crawlerActiveTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	crawlerRateLimitDelaySeconds.Observe(duration.Seconds())
}
