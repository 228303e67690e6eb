// Package observability provides the Prometheus metrics shared by both
// acquisition paths.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rainydays"

// Metrics holds the Prometheus counters, histograms, and gauges for a run.
type Metrics struct {
	StageOperations *prometheus.CounterVec   // labels: stage={fetch,decompress,clip,accumulate,average,aggregate}, outcome={success,error}
	StageDuration   *prometheus.HistogramVec // labels: stage
	CacheLookups    *prometheus.CounterVec   // labels: tier, result={hit,miss}
	FetchRetries    prometheus.Counter
	BytesDownloaded prometheus.Counter
	MonthsCompleted *prometheus.CounterVec // labels: source={local,remote}
	PipelineRunning prometheus.Gauge
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		StageOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_operations_total",
			Help:      help("Pipeline stage executions by stage and outcome."),
		}, []string{"stage", "outcome"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      help("Duration of a single stage execution."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      help("Stage cache lookups by tier and result."),
		}, []string{"tier", "result"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      help("HTTP attempts retried after a transient failure."),
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      help("Bytes of compressed daily rasters downloaded."),
		}),
		MonthsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "months_completed_total",
			Help:      help("Monthly averages published by acquisition path."),
		}, []string{"source"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 while a run is in progress, 0 otherwise."),
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.StageOperations,
		m.StageDuration,
		m.CacheLookups,
		m.FetchRetries,
		m.BytesDownloaded,
		m.MonthsCompleted,
		m.PipelineRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// CacheHit records a lookup for tier that found an artifact.
func (m *Metrics) CacheHit(tier string) { m.CacheLookups.WithLabelValues(tier, "hit").Inc() }

// CacheMiss records a lookup for tier that found nothing.
func (m *Metrics) CacheMiss(tier string) { m.CacheLookups.WithLabelValues(tier, "miss").Inc() }

// ObserveStage records one execution of stage.
func (m *Metrics) ObserveStage(stage string, seconds float64, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.StageOperations.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}
