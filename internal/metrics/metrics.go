// Package metrics collects and exposes fetch-engine runtime observability
// data: queue depth, pool acquire latency, retry counts, and bundle
// completion counts.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (atomic counters + a rolling time
//     series) for a lightweight JSON /status endpoint the CLI's health
//     server can expose without a Prometheus sidecar.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency — hot path
//
// RecordBundleCompletion and RecordPoolAcquire are called from the
// scheduler and connection pools on every bundle and every request; they
// use atomic increments for global counters and dispatch a lightweight
// event onto a buffered channel (tsChan) for the time-series worker to
// process asynchronously, avoiding any lock on the hot path.
//
// # Invariants
//
//   - BundlesCompleted + BundlesFailed never exceeds BundlesStarted.
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp        time.Time
	BundlesCompleted int64
	BundlesFailed    int64
	TotalLatencyMs   int64
	Count            int64 // for calculating avg
}

// Metrics collects and exposes fetch-engine runtime metrics.
type Metrics struct {
	// Bundle lifecycle counters.
	BundlesStarted   atomic.Int64
	BundlesCompleted atomic.Int64
	BundlesFailed    atomic.Int64

	// Latency metrics for bundle completion (in milliseconds).
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// Queue / retry / locator counters.
	RequestsEnqueued atomic.Int64
	RequestsDequeued atomic.Int64
	RetriesTotal     atomic.Int64
	LocatorStalls    atomic.Int64

	// Per-pool metrics
	poolMetrics sync.Map // poolName -> *PoolMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on
// the hot path.
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// PoolMetrics tracks acquire/request metrics for a single HTTP or SFTP pool.
type PoolMetrics struct {
	Acquires      atomic.Int64
	AcquireWaitMs atomic.Int64
	Requests      atomic.Int64
	Failures      atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics { return global }

// StartTime returns when the metrics system was initialized.
func StartTime() time.Time { return global.startTime }

// RecordBundleStarted counts a bundle entering the Open state.
func (m *Metrics) RecordBundleStarted() {
	m.BundlesStarted.Add(1)
	RecordPrometheusBundleStarted()
}

// RecordBundleCompletion records a bundle reaching Completed or Failed,
// along with the wall-clock duration from start to finish.
func (m *Metrics) RecordBundleCompletion(durationMs int64, success bool) {
	if success {
		m.BundlesCompleted.Add(1)
	} else {
		m.BundlesFailed.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	m.recordTimeSeries(durationMs, !success)
	RecordPrometheusBundleCompletion(durationMs, success)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot completion path.
func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (single goroutine only).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.TotalLatencyMs += durationMs
		bucket.Count++
		if isError {
			bucket.BundlesFailed++
		} else {
			bucket.BundlesCompleted++
		}
	}
}

// RecordEnqueue counts requests a locator emitted and the producer enqueued.
func (m *Metrics) RecordEnqueue(count int) {
	m.RequestsEnqueued.Add(int64(count))
	SetPrometheusQueueDepth(m.RequestsEnqueued.Load() - m.RequestsDequeued.Load())
}

// RecordDequeue counts requests a worker pulled off the queue.
func (m *Metrics) RecordDequeue(count int) {
	m.RequestsDequeued.Add(int64(count))
	SetPrometheusQueueDepth(m.RequestsEnqueued.Load() - m.RequestsDequeued.Load())
}

// RecordRetry counts one retry attempt made by the Retry Engine.
func (m *Metrics) RecordRetry() {
	m.RetriesTotal.Add(1)
	RecordPrometheusRetry()
}

// RecordLocatorStall counts a locator surfacing LocatorStalled after
// exhausting its retries.
func (m *Metrics) RecordLocatorStall(locatorID string) {
	m.LocatorStalls.Add(1)
	RecordPrometheusLocatorStall(locatorID)
}

// RecordPoolAcquire records one successful pool Acquire, including how long
// the caller waited for a client/connection to become available.
func (m *Metrics) RecordPoolAcquire(poolName string, waitMs int64) {
	pm := m.getPoolMetrics(poolName)
	pm.Acquires.Add(1)
	pm.AcquireWaitMs.Add(waitMs)
	RecordPrometheusPoolAcquire(poolName, waitMs)
}

// RecordPoolRequest records one request made through a pool, and whether it
// ultimately failed after all retries.
func (m *Metrics) RecordPoolRequest(poolName string, success bool) {
	pm := m.getPoolMetrics(poolName)
	pm.Requests.Add(1)
	if !success {
		pm.Failures.Add(1)
	}
	RecordPrometheusPoolRequest(poolName, success)
}

func (m *Metrics) getPoolMetrics(poolName string) *PoolMetrics {
	if v, ok := m.poolMetrics.Load(poolName); ok {
		return v.(*PoolMetrics)
	}
	pm := &PoolMetrics{}
	actual, _ := m.poolMetrics.LoadOrStore(poolName, pm)
	return actual.(*PoolMetrics)
}

// PoolStats returns a point-in-time snapshot of per-pool metrics.
func (m *Metrics) PoolStats() map[string]interface{} {
	result := make(map[string]interface{})
	m.poolMetrics.Range(func(key, value interface{}) bool {
		name := key.(string)
		pm := value.(*PoolMetrics)
		acquires := pm.Acquires.Load()
		avgWaitMs := float64(0)
		if acquires > 0 {
			avgWaitMs = float64(pm.AcquireWaitMs.Load()) / float64(acquires)
		}
		result[name] = map[string]interface{}{
			"acquires":        acquires,
			"avg_wait_ms":     avgWaitMs,
			"requests":        pm.Requests.Load(),
			"request_failures": pm.Failures.Load(),
		}
		return true
	})
	return result
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	completed := m.BundlesCompleted.Load()
	failed := m.BundlesFailed.Load()
	total := completed + failed
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"bundles": map[string]interface{}{
			"started":   m.BundlesStarted.Load(),
			"completed": completed,
			"failed":    failed,
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"queue": map[string]interface{}{
			"enqueued": m.RequestsEnqueued.Load(),
			"dequeued": m.RequestsDequeued.Load(),
			"depth":    m.RequestsEnqueued.Load() - m.RequestsDequeued.Load(),
		},
		"retries_total":     m.RetriesTotal.Load(),
		"locator_stalls":    m.LocatorStalls.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format,
// used by the CLI's `health` server at /status.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["pools"] = m.PoolStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatencyMs) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":         bucket.Timestamp.Format(time.RFC3339),
			"bundles_completed": bucket.BundlesCompleted,
			"bundles_failed":    bucket.BundlesFailed,
			"avg_duration_ms":   avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
