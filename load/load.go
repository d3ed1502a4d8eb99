// Package load writes merged records to destinations: a transactional
// Postgres upsert loader and a JSONL archive destination.
package load

import (
	"context"
	"sync"

	"github.com/opengovsl/landetl/types"
)

// Result summarizes one LoadBatch call.
type Result struct {
	// Loaded counts newly inserted records.
	Loaded int
	// Updated counts existing records rewritten with a version bump.
	Updated int
	// Skipped counts records rejected by validation.
	Skipped int
	// Errors are per-record failures that did not roll the batch back.
	Errors []*types.RecordError
}

// merge folds another result into r.
func (r *Result) merge(other *Result) {
	r.Loaded += other.Loaded
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// Destination is a sink for merged records. Implementations must tolerate
// the same record arriving twice (at-least-once delivery upstream).
type Destination interface {
	// Name identifies the destination (metric label, breaker name).
	Name() string

	// Connect establishes the destination's resources.
	Connect(ctx context.Context) error

	// LoadBatch writes one batch. Per-record failures land in the Result;
	// a non-nil error means the whole batch failed and may be retried.
	LoadBatch(ctx context.Context, runID string, records []*types.LandRecord) (*Result, error)

	// Close releases destination resources.
	Close() error
}

// StubDestination is an in-memory Destination for tests.
type StubDestination struct {
	DestName string

	mu      sync.Mutex
	batches [][]*types.LandRecord
	seen    map[string]bool

	// ErrOnLoad, if non-nil, fails every LoadBatch call.
	ErrOnLoad error
}

// NewStubDestination creates a recording destination.
func NewStubDestination(name string) *StubDestination {
	return &StubDestination{DestName: name, seen: make(map[string]bool)}
}

// Name implements Destination.
func (s *StubDestination) Name() string { return s.DestName }

// Connect implements Destination.
func (s *StubDestination) Connect(context.Context) error { return nil }

// LoadBatch records the batch. Records seen before count as updates.
func (s *StubDestination) LoadBatch(_ context.Context, _ string, records []*types.LandRecord) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ErrOnLoad != nil {
		return nil, s.ErrOnLoad
	}

	res := &Result{}
	for _, r := range records {
		if err := r.Validate(); err != nil {
			res.Skipped++
			continue
		}
		if s.seen[r.ID] {
			res.Updated++
		} else {
			s.seen[r.ID] = true
			res.Loaded++
		}
	}
	s.batches = append(s.batches, records)
	return res, nil
}

// Close implements Destination.
func (s *StubDestination) Close() error { return nil }

// Batches returns the recorded batches.
func (s *StubDestination) Batches() [][]*types.LandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]*types.LandRecord, len(s.batches))
	copy(out, s.batches)
	return out
}

// Records flattens every recorded batch.
func (s *StubDestination) Records() []*types.LandRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.LandRecord
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// Verify StubDestination implements Destination.
var _ Destination = (*StubDestination)(nil)
