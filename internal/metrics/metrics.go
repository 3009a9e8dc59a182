// Package metrics exposes Prometheus collectors for the monitor service.
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
	cyclesTotal               *prometheus.CounterVec
	postingsFetchedTotal      *prometheus.CounterVec
	postingsNewTotal          prometheus.Counter
	notificationsSentTotal    prometheus.Counter
	notificationFailuresTotal prometheus.Counter
	parseErrorsTotal          prometheus.Counter
	cycleDurationSeconds      prometheus.Histogram
	cycleRunning              prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_cycles_total",
				Help: "Total number of monitor cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		postingsFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_postings_fetched_total",
				Help: "Total number of postings parsed from the portal, labeled by category.",
			},
			[]string{"category"},
		)

		postingsNewTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_postings_new_total",
				Help: "Total number of postings classified as new.",
			},
		)

		notificationsSentTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_notifications_sent_total",
				Help: "Total number of notifications delivered.",
			},
		)

		notificationFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_notification_failures_total",
				Help: "Total number of notifications that permanently failed.",
			},
		)

		parseErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_parse_errors_total",
				Help: "Total number of listing rows that could not be parsed.",
			},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_cycle_duration_seconds",
				Help:    "Histogram of end-to-end monitor cycle durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		cycleRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_cycle_running",
				Help: "1 while a monitor cycle is in flight, 0 otherwise.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records the terminal outcome and duration of one cycle.
func ObserveCycle(outcome string, duration time.Duration) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetched counts postings parsed from the portal by category.
func ObserveFetched(category string, count int) {
	if count > 0 {
		postingsFetchedTotal.WithLabelValues(category).Add(float64(count))
	}
}

// ObserveClassified counts postings classified as new.
func ObserveClassified(newCount int) {
	if newCount > 0 {
		postingsNewTotal.Add(float64(newCount))
	}
}

// ObserveDelivery counts delivered and permanently failed notifications.
func ObserveDelivery(delivered, failed int) {
	if delivered > 0 {
		notificationsSentTotal.Add(float64(delivered))
	}
	if failed > 0 {
		notificationFailuresTotal.Add(float64(failed))
	}
}

// ObserveParseErrors counts listing rows that could not be parsed.
func ObserveParseErrors(count int) {
	if count > 0 {
		parseErrorsTotal.Add(float64(count))
	}
}

// SetCycleRunning flips the in-flight gauge.
func SetCycleRunning(running bool) {
	if running {
		cycleRunning.Set(1)
		return
	}
	cycleRunning.Set(0)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
