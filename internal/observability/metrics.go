package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// flood mapping pipeline.
type Metrics struct {
	// Remote platform metrics.
	PlatformRequests *prometheus.CounterVec   // labels: operation={reduce,size,export,thumbnail}, outcome={success,error}
	PlatformDuration *prometheus.HistogramVec // labels: operation
	CatalogCache     *prometheus.CounterVec   // labels: result={hit,miss}

	// Detection metrics.
	FloodAreaKm2     *prometheus.GaugeVec // labels: method={sar,sar_refined,s2}
	ScenesSelected   *prometheus.CounterVec
	ExportsSubmitted prometheus.Counter
	ReportsPublished prometheus.Counter

	PipelineRunning  prometheus.Gauge
	PipelineDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PlatformRequests,
		m.PlatformDuration,
		m.CatalogCache,
		m.FloodAreaKm2,
		m.ScenesSelected,
		m.ExportsSubmitted,
		m.ReportsPublished,
		m.PipelineRunning,
		m.PipelineDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PlatformRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_mapper",
			Name:      "platform_requests_total",
			Help:      "Remote platform requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		PlatformDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flood_mapper",
			Name:      "platform_request_duration_seconds",
			Help:      "Remote platform request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_mapper",
			Name:      "catalog_cache_total",
			Help:      "Catalog lookup cache results.",
		}, []string{"result"}),
		FloodAreaKm2: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flood_mapper",
			Name:      "flood_area_km2",
			Help:      "Detected flood area in square kilometers by method.",
		}, []string{"method"}),
		ScenesSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flood_mapper",
			Name:      "scenes_selected_total",
			Help:      "Satellite scenes matched by collection queries, by sensor.",
		}, []string{"sensor"}),
		ExportsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_mapper",
			Name:      "exports_submitted_total",
			Help:      "Asset export jobs submitted to the platform.",
		}),
		ReportsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flood_mapper",
			Name:      "reports_published_total",
			Help:      "Flood reports published to the Kafka sink.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flood_mapper",
			Name:      "pipeline_running",
			Help:      "1 while a mapping run is active, 0 otherwise.",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flood_mapper",
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of a complete mapping run.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
}
