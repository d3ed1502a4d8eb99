package pipeline

import (
	"context"
	"sync"

	"github.com/opengovsl/landetl/types"
)

// runState is the orchestrator's lifecycle gate. Only IDLE admits a run;
// RUNNING and PAUSED flip cooperatively at record hand-off points.
type runState struct {
	mu     sync.Mutex
	status types.RunStatus
	resume chan struct{}
}

func newRunState() *runState {
	return &runState{status: types.StatusIdle}
}

// Status returns the current lifecycle state.
func (s *runState) Status() types.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// begin transitions IDLE to RUNNING.
func (s *runState) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != types.StatusIdle {
		return ErrAlreadyRunning
	}
	s.status = types.StatusRunning
	return nil
}

// finish publishes the terminal status and immediately resets to IDLE so
// the next Run is admitted.
func (s *runState) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
	s.status = types.StatusIdle
}

// pause transitions RUNNING to PAUSED.
func (s *runState) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != types.StatusRunning {
		return ErrNotRunning
	}
	s.status = types.StatusPaused
	s.resume = make(chan struct{})
	return nil
}

// unpause transitions PAUSED back to RUNNING and releases blocked stages.
func (s *runState) unpause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != types.StatusPaused {
		return ErrNotRunning
	}
	s.status = types.StatusRunning
	close(s.resume)
	s.resume = nil
	return nil
}

// gate blocks while the pipeline is paused. Stages call it before every
// record hand-off; cancellation wins over resumption.
func (s *runState) gate(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.status != types.StatusPaused {
			s.mu.Unlock()
			return ctx.Err()
		}
		resume := s.resume
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}
