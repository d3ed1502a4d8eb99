// Package source defines the adapter boundary for government record sources
// and the extractor that pages an adapter into a record stream.
//
// Concrete adapters (HTTP or database clients to the land authority, revenue
// authority, and registry) are external collaborators; the pipeline depends
// only on the SourceAdapter interface.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/opengovsl/landetl/types"
)

// Filter narrows an adapter query.
type Filter struct {
	// UpdatedAfter restricts results to records updated after the given
	// time. Nil means a full extraction.
	UpdatedAfter *time.Time
}

// Page is an offset/limit window into a source's record set.
type Page struct {
	Limit  int
	Offset int
}

// QueryResult is one page of adapter output.
type QueryResult struct {
	Records []*types.RawRecord

	// Total is the number of records matching the filter, or TotalUnknown
	// when the source cannot estimate it.
	Total int

	// HasMore reports whether further pages exist past this one.
	HasMore bool
}

// TotalUnknown marks an unavailable total estimate.
const TotalUnknown = -1

// ErrNotFound is returned by GetByID for missing records.
var ErrNotFound = errors.New("record not found")

// SourceAdapter is the contract a concrete source client fulfils.
// Implementations must be safe for sequential reuse across pages; the
// extractor never calls an adapter concurrently.
type SourceAdapter interface {
	// Name identifies the adapter instance (breaker and metric label).
	Name() string

	// System is the provenance tag stamped on extracted records.
	System() types.SourceSystem

	// Query returns one page of records matching the filter.
	Query(ctx context.Context, filter Filter, page Page) (*QueryResult, error)

	// GetByID fetches a single record, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*types.RawRecord, error)
}
