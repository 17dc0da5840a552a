// Package metrics exposes Prometheus collectors for the capture service.
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
	rendersTotal          *prometheus.CounterVec
	renderDurationSeconds *prometheus.HistogramVec
	cacheLookupsTotal     *prometheus.CounterVec
	httpRequestsTotal     *prometheus.CounterVec
	httpDurationSeconds   *prometheus.HistogramVec
	poolTotalGauge        prometheus.Gauge
	poolAvailableGauge    prometheus.Gauge
	poolWaitingGauge      prometheus.Gauge
	queueRunningGauge     prometheus.Gauge
	queueQueuedGauge      prometheus.Gauge
	memoryCollectsTotal   prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rendersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_renders_total",
				Help: "Total number of render attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagelens_render_duration_seconds",
				Help:    "Histogram of full render durations, labeled by outcome.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_cache_lookups_total",
				Help: "Total cache lookups, labeled by result (hit/miss).",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagelens_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagelens_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"method", "route"},
		)

		poolTotalGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagelens_pool_instances",
			Help: "Browser instances currently owned by the pool.",
		})
		poolAvailableGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagelens_pool_available",
			Help: "Browser instances currently idle in the pool.",
		})
		poolWaitingGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagelens_pool_waiting",
			Help: "Acquire calls currently parked waiting for an instance.",
		})
		queueRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagelens_admission_running",
			Help: "Capture workflows currently admitted.",
		})
		queueQueuedGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagelens_admission_queued",
			Help: "Capture workflows currently queued for admission.",
		})
		memoryCollectsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pagelens_memory_collects_total",
			Help: "Total garbage-collection hints issued by the memory governor.",
		})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRender records one render attempt and its duration.
func ObserveRender(outcome string, duration time.Duration) {
	rendersTotal.WithLabelValues(outcome).Inc()
	renderDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetPoolStats publishes the current pool occupancy gauges.
func SetPoolStats(total, available, waiting int) {
	poolTotalGauge.Set(float64(total))
	poolAvailableGauge.Set(float64(available))
	poolWaitingGauge.Set(float64(waiting))
}

// SetQueueStats publishes the current admission occupancy gauges.
func SetQueueStats(running, queued int) {
	queueRunningGauge.Set(float64(running))
	queueQueuedGauge.Set(float64(queued))
}

// ObserveMemoryCollect counts one governor-triggered collection.
func ObserveMemoryCollect() {
	memoryCollectsTotal.Inc()
}
