// Package watermark tracks the incremental extraction boundary per pipeline.
//
// A watermark records when the last successful run finished and, per source,
// how far extraction has progressed. It is read once at run start and written
// atomically on successful completion; the orchestrator is the single writer.
package watermark

import (
	"context"
	"sync"
	"time"

	"github.com/opengovsl/landetl/types"
)

// Watermark is the incremental boundary for one pipeline.
type Watermark struct {
	// LastSuccessfulRunAt is when the last COMPLETED run finished.
	LastSuccessfulRunAt time.Time `json:"lastSuccessfulRunAt"`

	// LastExtractedAt is the per-source extraction high-water mark.
	LastExtractedAt map[types.SourceSystem]time.Time `json:"lastExtractedAt"`
}

// Clone returns a deep copy.
func (w *Watermark) Clone() *Watermark {
	if w == nil {
		return nil
	}
	out := &Watermark{LastSuccessfulRunAt: w.LastSuccessfulRunAt}
	if w.LastExtractedAt != nil {
		out.LastExtractedAt = make(map[types.SourceSystem]time.Time, len(w.LastExtractedAt))
		for k, v := range w.LastExtractedAt {
			out.LastExtractedAt[k] = v
		}
	}
	return out
}

// Store persists watermarks keyed by pipeline name.
type Store interface {
	// Load returns the watermark for the pipeline, or (nil, nil) when none
	// has been saved yet.
	Load(ctx context.Context, pipeline string) (*Watermark, error)

	// Save replaces the watermark for the pipeline.
	Save(ctx context.Context, pipeline string, w *Watermark) error
}

// MemoryStore is an in-process Store for tests and single-shot runs.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]*Watermark
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]*Watermark)}
}

// Load returns a copy of the stored watermark, or (nil, nil) when absent.
func (s *MemoryStore) Load(_ context.Context, pipeline string) (*Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.marks[pipeline]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}

// Save stores a copy of the watermark.
func (s *MemoryStore) Save(_ context.Context, pipeline string, w *Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[pipeline] = w.Clone()
	return nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
