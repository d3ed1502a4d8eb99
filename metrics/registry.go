// Package metrics exposes pipeline counters, gauges, and histograms in
// Prometheus format, plus a per-run Collector that accumulates the numbers
// reported on the final PipelineRun.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// stageDurationBuckets are the histogram buckets for stage durations, in
// seconds. ETL stages run from seconds to an hour.
var stageDurationBuckets = []float64{10, 30, 60, 120, 300, 600, 1200, 3600}

// Registry holds the process-wide metric families. Create one at startup
// and share it across runs; all instruments are safe for concurrent use.
type Registry struct {
	registry *prometheus.Registry

	ExtractedRecords   *prometheus.CounterVec
	TransformedRecords *prometheus.CounterVec
	LoadedRecords      *prometheus.CounterVec
	FailedRecords      *prometheus.CounterVec
	PipelineRuns       *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	QualityScore       *prometheus.GaugeVec
	ActiveJobs         *prometheus.GaugeVec
}

// NewRegistry creates a Registry with all metric families registered on an
// independent Prometheus registry to avoid collector conflicts in tests.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,
		ExtractedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_extracted_records_total",
			Help: "Records extracted, by source system.",
		}, []string{"source"}),
		TransformedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_transformed_records_total",
			Help: "Records normalized, by transformer.",
		}, []string{"transformer"}),
		LoadedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_loaded_records_total",
			Help: "Records written, by destination.",
		}, []string{"destination"}),
		FailedRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_failed_records_total",
			Help: "Records dropped or rejected, by stage and reason.",
		}, []string{"stage", "reason"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_pipeline_runs_total",
			Help: "Completed pipeline runs, by terminal status and mode.",
		}, []string{"status", "mode"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_pipeline_duration_seconds",
			Help:    "Stage and run durations in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),
		QualityScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_data_quality_score",
			Help: "Latest batch quality score in [0,1], by dimension.",
		}, []string{"dimension"}),
		ActiveJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "etl_active_jobs",
			Help: "Currently running pipeline tasks, by type.",
		}, []string{"type"}),
	}
}

// Handler returns the Prometheus scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for test assertions.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
