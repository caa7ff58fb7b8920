package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_insights"

// Metrics holds the Prometheus collectors for collection, ingestion,
// insight generation and export.
type Metrics struct {
	Collections        *prometheus.CounterVec // labels: outcome={success,error}
	CollectionDuration prometheus.Histogram
	ActiveLocations    prometheus.Gauge

	SamplesIngested  prometheus.Counter
	SamplesDuplicate prometheus.Counter
	SamplesDropped   *prometheus.CounterVec // labels: reason={queue_full,retries_exhausted,closed}
	QueueDepth       prometheus.Gauge

	InsightsGenerated *prometheus.CounterVec // labels: source={llm,fallback}
	ReportCache       *prometheus.CounterVec // labels: result={hit,miss}
	LLMDuration       prometheus.Histogram

	ExportRows     *prometheus.CounterVec // labels: format
	ExportFailures *prometheus.CounterVec // labels: format
}

func collectors() *Metrics {
	return &Metrics{
		Collections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "Provider collections by outcome.",
		}, []string{"outcome"}),
		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Duration of a provider call plus normalization.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ActiveLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_locations",
			Help:      "Locations with a running collection schedule.",
		}),
		SamplesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Samples written to the store.",
		}),
		SamplesDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_duplicate_total",
			Help:      "Samples skipped because they were already stored.",
		}),
		SamplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples lost before reaching the store, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingestion_queue_depth",
			Help:      "Samples waiting in the ingestion queue.",
		}),
		InsightsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_generated_total",
			Help:      "Insight reports generated by narrative source.",
		}, []string{"source"}),
		ReportCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cache_total",
			Help:      "Insight report cache lookups by result.",
		}, []string{"result"}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Language model narrative request duration.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		ExportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_rows_total",
			Help:      "Rows written to export files by format.",
		}, []string{"format"}),
		ExportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_failures_total",
			Help:      "Exports that ended with a partial marker row.",
		}, []string{"format"}),
	}
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	m := collectors()
	prometheus.MustRegister(
		m.Collections,
		m.CollectionDuration,
		m.ActiveLocations,
		m.SamplesIngested,
		m.SamplesDuplicate,
		m.SamplesDropped,
		m.QueueDepth,
		m.InsightsGenerated,
		m.ReportCache,
		m.LLMDuration,
		m.ExportRows,
		m.ExportFailures,
	)
	return m
}

// NewMetricsForTesting returns unregistered collectors so tests can build
// as many instances as they need.
func NewMetricsForTesting() *Metrics {
	return collectors()
}
