package pipeline

import (
	"sync"
	"time"
)

// EventType enumerates the orchestrator's progress events.
type EventType string

// Event type constants.
const (
	EventRunStart    EventType = "run.start"
	EventRunComplete EventType = "run.complete"
	EventRunError    EventType = "run.error"

	EventExtractStart    EventType = "extract.start"
	EventExtractProgress EventType = "extract.progress"
	EventExtractComplete EventType = "extract.complete"

	EventTransformStart    EventType = "transform.start"
	EventTransformProgress EventType = "transform.progress"
	EventTransformComplete EventType = "transform.complete"

	EventLoadStart    EventType = "load.start"
	EventLoadProgress EventType = "load.progress"
	EventLoadComplete EventType = "load.complete"
)

// Event is one progress notification. Payload keys depend on the type:
// extract.progress carries {source, extracted, total, percentage},
// transform.complete carries {quality}, load.progress carries
// {destination, loaded, updated}.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// defaultEventBuffer is the per-subscriber channel capacity.
const defaultEventBuffer = 256

// Emitter fans events out to subscribers over buffered channels. A slow
// subscriber loses events rather than stalling the pipeline.
type Emitter struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

// NewEmitter creates an event emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Subscribe returns a channel receiving all subsequent events. The channel
// closes when the emitter closes.
func (e *Emitter) Subscribe() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Event, defaultEventBuffer)
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

// Emit delivers the event to every subscriber without blocking.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber lagging; drop rather than stall the run.
		}
	}
}

// Close closes every subscriber channel.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}
