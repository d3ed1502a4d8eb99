package metrics

import (
	"sync"
	"time"

	"github.com/opengovsl/landetl/types"
)

// Collector accumulates counters for a single pipeline run and mirrors
// every increment into the process-wide Registry when one is attached.
// Thread-safe; all methods are nil-receiver safe so stages can run
// uninstrumented in tests.
type Collector struct {
	registry *Registry

	mu          sync.Mutex
	extracted   int64
	transformed int64
	merged      int64
	loaded      int64
	updated     int64
	failed      int64
}

// NewCollector creates a run-scoped collector. registry may be nil.
func NewCollector(registry *Registry) *Collector {
	return &Collector{registry: registry}
}

// IncExtracted records n records extracted from a source.
func (c *Collector) IncExtracted(source string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.extracted += n
	c.mu.Unlock()
	if c.registry != nil {
		c.registry.ExtractedRecords.WithLabelValues(source).Add(float64(n))
	}
}

// IncTransformed records n records normalized by a transformer.
func (c *Collector) IncTransformed(transformer string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transformed += n
	c.mu.Unlock()
	if c.registry != nil {
		c.registry.TransformedRecords.WithLabelValues(transformer).Add(float64(n))
	}
}

// IncMerged records n unified records emitted by the merge stage.
func (c *Collector) IncMerged(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.merged += n
	c.mu.Unlock()
}

// IncLoaded records n new rows written to a destination.
func (c *Collector) IncLoaded(destination string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loaded += n
	c.mu.Unlock()
	if c.registry != nil {
		c.registry.LoadedRecords.WithLabelValues(destination).Add(float64(n))
	}
}

// IncUpdated records n existing rows updated at a destination. Updates
// count toward the loaded total on the run metrics.
func (c *Collector) IncUpdated(destination string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.updated += n
	c.mu.Unlock()
	if c.registry != nil {
		c.registry.LoadedRecords.WithLabelValues(destination).Add(float64(n))
	}
}

// IncFailed records n records rejected or dropped at a stage.
func (c *Collector) IncFailed(stage types.Stage, reason string, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failed += n
	c.mu.Unlock()
	if c.registry != nil {
		c.registry.FailedRecords.WithLabelValues(string(stage), reason).Add(float64(n))
	}
}

// ObserveStageDuration records how long a stage ran.
func (c *Collector) ObserveStageDuration(stage types.Stage, d time.Duration) {
	if c == nil || c.registry == nil {
		return
	}
	c.registry.PipelineDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// SetQuality publishes a quality dimension score in [0,1].
func (c *Collector) SetQuality(dimension string, score float64) {
	if c == nil || c.registry == nil {
		return
	}
	c.registry.QualityScore.WithLabelValues(dimension).Set(score)
}

// SetActiveJobs publishes the current task count for a job type.
func (c *Collector) SetActiveJobs(jobType string, n int) {
	if c == nil || c.registry == nil {
		return
	}
	c.registry.ActiveJobs.WithLabelValues(jobType).Set(float64(n))
}

// FinishRun records the run's terminal status and total duration.
func (c *Collector) FinishRun(status types.RunStatus, mode types.RunMode, d time.Duration) {
	if c == nil || c.registry == nil {
		return
	}
	c.registry.PipelineRuns.WithLabelValues(string(status), string(mode)).Inc()
	c.registry.PipelineDuration.WithLabelValues("run").Observe(d.Seconds())
}

// Snapshot assembles the run metrics from the accumulated counters.
func (c *Collector) Snapshot(duration time.Duration) types.RunMetrics {
	if c == nil {
		return types.RunMetrics{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := types.RunMetrics{
		RecordsExtracted:   c.extracted,
		RecordsTransformed: c.transformed,
		RecordsMerged:      c.merged,
		RecordsLoaded:      c.loaded,
		RecordsUpdated:     c.updated,
		RecordsFailed:      c.failed,
		Duration:           duration,
	}
	if secs := duration.Seconds(); secs > 0 {
		m.Throughput = float64(c.loaded+c.updated) / secs
	}
	return m
}
