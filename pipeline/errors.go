package pipeline

import (
	"errors"
	"fmt"

	"github.com/opengovsl/landetl/types"
)

// Orchestrator error sentinels. Use errors.Is for assertions.
var (
	// ErrAlreadyRunning is returned by Run when the pipeline is not idle.
	ErrAlreadyRunning = errors.New("pipeline is already running")

	// ErrInvalidMode is returned by Run for an unknown run mode.
	ErrInvalidMode = errors.New("invalid run mode")

	// ErrNotRunning is returned by Pause/Resume outside RUNNING/PAUSED.
	ErrNotRunning = errors.New("pipeline is not running")

	// ErrSourceUnavailable marks a source whose extraction stream failed
	// permanently (breaker open or retries exhausted).
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrDestinationUnavailable marks a destination whose loads failed
	// permanently.
	ErrDestinationUnavailable = errors.New("destination unavailable")

	// ErrAllSourcesFailed aborts a run with no healthy source left.
	ErrAllSourcesFailed = errors.New("all sources failed")

	// ErrAllDestinationsFailed aborts a run with no healthy destination
	// left.
	ErrAllDestinationsFailed = errors.New("all destinations failed")

	// ErrFatal marks unrecoverable failures (schema missing, invalid key
	// material). It aborts the run immediately.
	ErrFatal = errors.New("fatal pipeline error")
)

// StageError attributes a failure to one stage component.
type StageError struct {
	Stage types.Stage
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Name, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
