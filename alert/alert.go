// Package alert defines the delivery boundary for pipeline alerts.
//
// The pipeline core emits structured alerts through the Sink interface;
// transports (webhook, redis pub/sub) live in subpackages. The core owns
// sink lifecycle; callers provide configuration only.
package alert

import (
	"context"
	"sync"

	"github.com/opengovsl/landetl/types"
)

// Sink delivers alerts to a downstream system.
// Implementations must be safe for concurrent use within a run.
type Sink interface {
	// Send delivers one alert. Must respect context cancellation.
	Send(ctx context.Context, alert *types.Alert) error

	// Close releases sink resources.
	Close() error
}

// Multi fans one alert out to several sinks. Send returns the first
// delivery error but still attempts every sink.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Send delivers the alert to every sink.
func (m *Multi) Send(ctx context.Context, alert *types.Alert) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Send(ctx, alert); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder is a test sink that captures alerts without delivering them.
type Recorder struct {
	mu     sync.Mutex
	alerts []*types.Alert
	closed bool

	// ErrOnSend, if non-nil, is returned by Send.
	ErrOnSend error
}

// NewRecorder creates a recording sink for tests.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records the alert.
func (r *Recorder) Send(_ context.Context, alert *types.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ErrOnSend != nil {
		return r.ErrOnSend
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []*types.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// BySeverity returns recorded alerts matching the given severity.
func (r *Recorder) BySeverity(sev types.Severity) []*types.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Alert
	for _, a := range r.alerts {
		if a.Severity == sev {
			out = append(out, a)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Verify implementations.
var (
	_ Sink = (*Multi)(nil)
	_ Sink = (*Recorder)(nil)
)
