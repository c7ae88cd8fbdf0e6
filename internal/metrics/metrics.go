// Package metrics collects and exposes activity runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-activity-type counters + time
//     series) for a lightweight JSON endpoint (JSONHandler; cmd/actrtd
//     serves it at /debug/metrics.json).
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both lets a host inspect metrics without a Prometheus sidecar
// while still supporting enterprise monitoring stacks.
//
// # Concurrency — hot path
//
// RecordActivityRunFinished is called from every terminal activity
// transition and must be as fast as possible. It uses atomic increments
// for global counters and dispatches a lightweight event onto a buffered
// channel (tsChan) for the time-series worker to process asynchronously.
// This avoids holding any lock on the hot path.
//
// The per-activity-type ActivityMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-type entries is
// read-heavy and write-once-per-new-type, the ideal use case for sync.Map.
//
// # Invariants
//
//   - For runs started and finished in this process, TotalRuns ==
//     EndedRuns + DiscardedRuns + ErroredRuns + ActiveRuns:
//     RecordActivityRunStarted adds to TotalRuns and ActiveRuns, and
//     RecordActivityRunFinished moves the run from ActiveRuns to one
//     outcome counter.
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
	Timestamp    time.Time
	Runs         int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes activity runtime metrics.
type Metrics struct {
	// Run metrics
	TotalRuns      atomic.Int64
	EndedRuns      atomic.Int64
	DiscardedRuns  atomic.Int64
	ErroredRuns    atomic.Int64
	ActiveRuns     atomic.Int64
	RecoveredRuns  atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// Per-activity-type metrics
	typeMetrics sync.Map // activityType -> *ActivityMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// ActivityMetrics tracks metrics for a single activity type (e.g. userTask, exclusiveGateway).
type ActivityMetrics struct {
	Runs      atomic.Int64
	Ended     atomic.Int64
	Discarded atomic.Int64
	Errored   atomic.Int64
	TotalMs   atomic.Int64
	MinMs     atomic.Int64
	MaxMs     atomic.Int64
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
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
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordActivityRunStarted records the start of a run for activityType.
func RecordActivityRunStarted(activityType string) {
	global.TotalRuns.Add(1)
	global.ActiveRuns.Add(1)
	global.getActivityMetrics(activityType).Runs.Add(1)
	RecordPrometheusRunStarted(activityType)
}

// RecordActivityRunFinished records a terminal transition (end/discarded/error)
// for activityType, with its total duration.
func RecordActivityRunFinished(activityType, outcome string, durationMs int64) {
	global.ActiveRuns.Add(-1)
	global.TotalLatencyMs.Add(durationMs)
	updateMin(&global.MinLatencyMs, durationMs)
	updateMax(&global.MaxLatencyMs, durationMs)

	am := global.getActivityMetrics(activityType)
	am.TotalMs.Add(durationMs)
	updateMin(&am.MinMs, durationMs)
	updateMax(&am.MaxMs, durationMs)

	isError := outcome == "error"
	switch outcome {
	case "end":
		global.EndedRuns.Add(1)
		am.Ended.Add(1)
	case "discarded":
		global.DiscardedRuns.Add(1)
		am.Discarded.Add(1)
	case "error":
		global.ErroredRuns.Add(1)
		am.Errored.Add(1)
	}

	global.recordTimeSeries(durationMs, isError)
	RecordPrometheusRunFinished(activityType, outcome, durationMs)
}

// RecordRecovery records one RecoverySweeper-driven Recover+Resume.
func RecordRecovery(activityType string) {
	global.RecoveredRuns.Add(1)
	RecordPrometheusRecovery(activityType)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot transition path.
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

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
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
		bucket.Runs++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

func (m *Metrics) getActivityMetrics(activityType string) *ActivityMetrics {
	if v, ok := m.typeMetrics.Load(activityType); ok {
		return v.(*ActivityMetrics)
	}

	am := &ActivityMetrics{}
	am.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.typeMetrics.LoadOrStore(activityType, am)
	return actual.(*ActivityMetrics)
}

// GetActivityMetrics returns the metrics for a specific activity type (or nil if none recorded yet).
func (m *Metrics) GetActivityMetrics(activityType string) *ActivityMetrics {
	if v, ok := m.typeMetrics.Load(activityType); ok {
		return v.(*ActivityMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalRuns.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"runs": map[string]interface{}{
			"total":     total,
			"active":    m.ActiveRuns.Load(),
			"ended":     m.EndedRuns.Load(),
			"discarded": m.DiscardedRuns.Load(),
			"errored":   m.ErroredRuns.Load(),
			"recovered": m.RecoveredRuns.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}

	return result
}

// ActivityTypeStats returns per-activity-type metrics.
func (m *Metrics) ActivityTypeStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.typeMetrics.Range(func(key, value interface{}) bool {
		activityType := key.(string)
		am := value.(*ActivityMetrics)

		total := am.Runs.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(am.TotalMs.Load()) / float64(total)
		}

		minMs := am.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[activityType] = map[string]interface{}{
			"runs":      total,
			"ended":     am.Ended.Load(),
			"discarded": am.Discarded.Load(),
			"errored":   am.Errored.Load(),
			"avg_ms":    avgMs,
			"min_ms":    minMs,
			"max_ms":    am.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["activity_types"] = m.ActivityTypeStats()
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
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"runs":         bucket.Runs,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
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

// Helper functions

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
