package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps Prometheus collectors for the activity runtime.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	runsStartedTotal  *prometheus.CounterVec
	runsFinishedTotal *prometheus.CounterVec
	recoveriesTotal   *prometheus.CounterVec

	// Histograms
	runDuration *prometheus.HistogramVec

	// Gauges
	uptime     prometheus.GaugeFunc
	activeRuns prometheus.Gauge
}

// Default histogram buckets for run duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

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

		runsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_runs_started_total",
				Help:      "Total number of activity runs started",
			},
			[]string{"activity_type"},
		),

		runsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_runs_finished_total",
				Help:      "Total number of activity runs that reached a terminal state",
			},
			[]string{"activity_type", "outcome"},
		),

		recoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_recoveries_total",
				Help:      "Total number of activities recovered by the recovery sweeper",
			},
			[]string{"activity_type"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "activity_run_duration_ms",
				Help:      "Activity run duration in milliseconds, from run.enter to a terminal transition",
				Buckets:   buckets,
			},
			[]string{"activity_type", "outcome"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "activity_runs_active",
				Help:      "Number of activities currently mid-run",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started, in seconds",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.runsStartedTotal,
		pm.runsFinishedTotal,
		pm.recoveriesTotal,
		pm.runDuration,
		pm.activeRuns,
		pm.uptime,
	)

	promMetrics = pm
}

// RecordPrometheusRunStarted increments the started-runs counter.
func RecordPrometheusRunStarted(activityType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.runsStartedTotal.WithLabelValues(activityType).Inc()
	promMetrics.activeRuns.Inc()
}

// RecordPrometheusRunFinished increments the finished-runs counter and observes run duration.
func RecordPrometheusRunFinished(activityType, outcome string, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.runsFinishedTotal.WithLabelValues(activityType, outcome).Inc()
	promMetrics.runDuration.WithLabelValues(activityType, outcome).Observe(float64(durationMs))
	promMetrics.activeRuns.Dec()
}

// RecordPrometheusRecovery increments the recoveries counter.
func RecordPrometheusRecovery(activityType string) {
	if promMetrics == nil {
		return
	}
	promMetrics.recoveriesTotal.WithLabelValues(activityType).Inc()
}

// PrometheusHandler returns an http.Handler serving the Prometheus registry, or nil if not initialized.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, or nil if not initialized.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
