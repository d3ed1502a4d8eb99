package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opengovsl/landetl/types"
)

func TestRunState_Transitions(t *testing.T) {
	s := newRunState()
	if got := s.Status(); got != types.StatusIdle {
		t.Fatalf("initial status = %s, want IDLE", got)
	}

	if err := s.begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.begin(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second begin err = %v, want ErrAlreadyRunning", err)
	}

	if err := s.unpause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("resume while running err = %v, want ErrNotRunning", err)
	}
	if err := s.pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second pause err = %v, want ErrNotRunning", err)
	}
	if err := s.unpause(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	s.finish()
	if got := s.Status(); got != types.StatusIdle {
		t.Errorf("status after finish = %s, want IDLE", got)
	}
	if err := s.begin(); err != nil {
		t.Errorf("begin after finish: %v", err)
	}
}

func TestRunState_GateBlocksWhilePaused(t *testing.T) {
	s := newRunState()
	if err := s.begin(); err != nil {
		t.Fatal(err)
	}

	// Not paused: gate passes through.
	if err := s.gate(t.Context()); err != nil {
		t.Fatalf("gate while running: %v", err)
	}

	if err := s.pause(); err != nil {
		t.Fatal(err)
	}
	released := make(chan error, 1)
	go func() { released <- s.gate(context.Background()) }()

	select {
	case err := <-released:
		t.Fatalf("gate returned %v while paused", err)
	case <-time.After(20 * time.Millisecond):
	}

	if err := s.unpause(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("gate after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("gate did not release after resume")
	}
}

func TestRunState_GateHonorsCancellation(t *testing.T) {
	s := newRunState()
	if err := s.begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.pause(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan error, 1)
	go func() { released <- s.gate(ctx) }()
	cancel()

	select {
	case err := <-released:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("gate err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("gate did not honor cancellation")
	}
}

func TestRunState_FinishReleasesPausedStages(t *testing.T) {
	s := newRunState()
	if err := s.begin(); err != nil {
		t.Fatal(err)
	}
	if err := s.pause(); err != nil {
		t.Fatal(err)
	}

	released := make(chan error, 1)
	go func() { released <- s.gate(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	s.finish()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("gate after finish: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("finish did not release the gate")
	}
}
