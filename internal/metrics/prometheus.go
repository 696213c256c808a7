package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for fetch-engine metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	bundlesStartedTotal   prometheus.Counter
	bundlesCompletedTotal prometheus.Counter
	bundlesFailedTotal    prometheus.Counter
	retriesTotal          prometheus.Counter
	locatorStallsTotal    *prometheus.CounterVec
	poolRequestsTotal     *prometheus.CounterVec

	// Histograms
	bundleDuration  prometheus.Histogram
	poolAcquireWait *prometheus.HistogramVec

	// Gauges
	uptime     prometheus.GaugeFunc
	queueDepth prometheus.Gauge
}

// Default histogram buckets for bundle completion duration (milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		bundlesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_started_total",
			Help:      "Total number of bundles that entered the Open state",
		}),
		bundlesCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_completed_total",
			Help:      "Total number of bundles that completed successfully",
		}),
		bundlesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_failed_total",
			Help:      "Total number of bundles that failed",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retry attempts made by the retry engine",
		}),
		locatorStallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locator_stalls_total",
			Help:      "Total number of LocatorStalled events by locator id",
		}, []string{"locator"}),
		poolRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_requests_total",
			Help:      "Total requests made through a connection pool, by pool and status",
		}, []string{"pool", "status"}),

		bundleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_duration_milliseconds",
			Help:      "Duration from bundle start to completion/failure, in milliseconds",
			Buckets:   buckets,
		}),
		poolAcquireWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pool_acquire_wait_milliseconds",
			Help:      "Time spent waiting for a pool Acquire to return a client/connection",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"pool"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current persistent work queue depth (enqueued minus dequeued)",
		}),
	}

	pm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since the fetch-engine process started",
	}, func() float64 {
		return time.Since(StartTime()).Seconds()
	})

	registry.MustRegister(
		pm.bundlesStartedTotal,
		pm.bundlesCompletedTotal,
		pm.bundlesFailedTotal,
		pm.retriesTotal,
		pm.locatorStallsTotal,
		pm.poolRequestsTotal,
		pm.bundleDuration,
		pm.poolAcquireWait,
		pm.uptime,
		pm.queueDepth,
	)

	promMetrics = pm
}

// RecordPrometheusBundleStarted records a bundle entering the Open state.
func RecordPrometheusBundleStarted() {
	if promMetrics == nil {
		return
	}
	promMetrics.bundlesStartedTotal.Inc()
}

// RecordPrometheusBundleCompletion records a bundle's terminal outcome.
func RecordPrometheusBundleCompletion(durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	if success {
		promMetrics.bundlesCompletedTotal.Inc()
	} else {
		promMetrics.bundlesFailedTotal.Inc()
	}
	promMetrics.bundleDuration.Observe(float64(durationMs))
}

// RecordPrometheusRetry records one retry attempt.
func RecordPrometheusRetry() {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesTotal.Inc()
}

// RecordPrometheusLocatorStall records a locator surfacing LocatorStalled.
func RecordPrometheusLocatorStall(locatorID string) {
	if promMetrics == nil {
		return
	}
	promMetrics.locatorStallsTotal.WithLabelValues(locatorID).Inc()
}

// RecordPrometheusPoolAcquire records the wait time for one pool Acquire.
func RecordPrometheusPoolAcquire(poolName string, waitMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolAcquireWait.WithLabelValues(poolName).Observe(float64(waitMs))
}

// RecordPrometheusPoolRequest records one request through a pool.
func RecordPrometheusPoolRequest(poolName string, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.poolRequestsTotal.WithLabelValues(poolName, status).Inc()
}

// SetPrometheusQueueDepth sets the queue depth gauge.
func SetPrometheusQueueDepth(depth int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.Set(float64(depth))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
