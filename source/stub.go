package source

import (
	"context"
	"sync"

	"github.com/opengovsl/landetl/types"
)

// StubAdapter is an in-memory SourceAdapter for tests. Records are served in
// insertion order; Fail can inject a scripted error sequence ahead of the
// real responses.
type StubAdapter struct {
	AdapterName string
	Source      types.SourceSystem

	mu      sync.Mutex
	records []*types.RawRecord
	errs    []error
	calls   int
}

// NewStubAdapter creates a stub serving the given records.
func NewStubAdapter(name string, system types.SourceSystem, records ...*types.RawRecord) *StubAdapter {
	return &StubAdapter{AdapterName: name, Source: system, records: records}
}

// Fail queues errors returned by the next Query calls, before any records
// are served.
func (s *StubAdapter) Fail(errs ...error) *StubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, errs...)
	return s
}

// Name implements SourceAdapter.
func (s *StubAdapter) Name() string { return s.AdapterName }

// System implements SourceAdapter.
func (s *StubAdapter) System() types.SourceSystem { return s.Source }

// Calls reports how many Query calls the stub has seen.
func (s *StubAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Query implements SourceAdapter. Scripted errors are consumed first; the
// filter's UpdatedAfter restricts by each record's UpdatedAt.
func (s *StubAdapter) Query(_ context.Context, filter Filter, page Page) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}

	matched := s.records
	if filter.UpdatedAfter != nil {
		matched = nil
		for _, r := range s.records {
			if r.UpdatedAt.After(*filter.UpdatedAfter) {
				matched = append(matched, r)
			}
		}
	}

	if page.Limit <= 0 {
		page.Limit = len(matched)
	}
	start := min(page.Offset, len(matched))
	end := min(start+page.Limit, len(matched))

	return &QueryResult{
		Records: matched[start:end],
		Total:   len(matched),
		HasMore: end < len(matched),
	}, nil
}

// GetByID implements SourceAdapter.
func (s *StubAdapter) GetByID(_ context.Context, id string) (*types.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Verify StubAdapter implements SourceAdapter.
var _ SourceAdapter = (*StubAdapter)(nil)
