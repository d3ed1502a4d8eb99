package types

import "time"

// RunMode selects the extraction boundary for a pipeline run.
type RunMode string

// Run mode constants. CDC is reserved; it currently behaves as INCREMENTAL
// with the watermark handed to the source as a change-feed boundary.
const (
	ModeFull        RunMode = "FULL"
	ModeIncremental RunMode = "INCREMENTAL"
	ModeCDC         RunMode = "CDC"
)

// Valid reports whether the mode is one of the supported run modes.
func (m RunMode) Valid() bool {
	switch m {
	case ModeFull, ModeIncremental, ModeCDC:
		return true
	}
	return false
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run status constants.
const (
	StatusIdle      RunStatus = "IDLE"
	StatusRunning   RunStatus = "RUNNING"
	StatusPaused    RunStatus = "PAUSED"
	StatusFailed    RunStatus = "FAILED"
	StatusCompleted RunStatus = "COMPLETED"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// Stage identifies the pipeline stage an error or metric belongs to.
type Stage string

// Stage constants.
const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageMerge     Stage = "merge"
	StageLoad      Stage = "load"
)

// RunMetrics summarizes one pipeline run.
type RunMetrics struct {
	RecordsExtracted   int64         `json:"records_extracted"`
	RecordsTransformed int64         `json:"records_transformed"`
	RecordsMerged      int64         `json:"records_merged"`
	RecordsLoaded      int64         `json:"records_loaded"`
	RecordsUpdated     int64         `json:"records_updated"`
	RecordsFailed      int64         `json:"records_failed"`
	Duration           time.Duration `json:"duration"`
	// Throughput is records loaded per second over the run duration.
	Throughput float64 `json:"throughput"`
}

// RecordError is a per-record failure captured in the run's error list.
// Per-record errors never abort a run.
type RecordError struct {
	Stage    Stage  `json:"stage"`
	Source   string `json:"source,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Message  string `json:"message"`
	// Retryable marks transient failures; validation rejects are permanent.
	Retryable bool `json:"retryable"`
}

func (e RecordError) Error() string {
	if e.Source != "" {
		return string(e.Stage) + " " + e.Source + ": " + e.Message
	}
	return string(e.Stage) + ": " + e.Message
}

// PipelineRun is the immutable record of one ETL pass, assembled by the
// orchestrator when the run reaches a terminal state.
type PipelineRun struct {
	RunID     string        `json:"run_id"`
	Mode      RunMode       `json:"mode"`
	Status    RunStatus     `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Metrics   RunMetrics    `json:"metrics"`
	Errors    []RecordError `json:"errors,omitempty"`
}
