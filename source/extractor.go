package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opengovsl/landetl/breaker"
	"github.com/opengovsl/landetl/log"
	"github.com/opengovsl/landetl/retry"
	"github.com/opengovsl/landetl/types"
)

// DefaultBatchSize is the page size requested from adapters.
const DefaultBatchSize = 100

// DefaultPolitenessDelay is the pause between adapter pages.
const DefaultPolitenessDelay = 100 * time.Millisecond

// Progress reports extraction advancement for one source.
type Progress struct {
	Source    string
	Extracted int
	// Total is TotalUnknown when the source could not estimate it.
	Total int
	// Percentage is -1 when Total is unknown.
	Percentage float64
}

// Config tunes one extractor.
type Config struct {
	// BatchSize is the page size (default 100).
	BatchSize int
	// PolitenessDelay is the pause between pages (default 100ms).
	PolitenessDelay time.Duration
	// Retry wraps each page call (defaults per retry.DefaultOptions).
	Retry retry.Options
	// ValidRecord gates each record. Nil uses defaultValidRecord.
	// Rejected records become permanent per-record errors and do not
	// fail the stream.
	ValidRecord func(*types.RawRecord) error
	// OnProgress, if set, is called after each page.
	OnProgress func(Progress)
}

// Result summarizes one completed extraction stream.
type Result struct {
	Extracted int
	// Errors are per-record validation rejects. They never abort the stream.
	Errors []*types.RecordError
}

// Extractor pages a SourceAdapter into a lazy record stream, guarded by
// retry and a circuit breaker.
type Extractor struct {
	adapter SourceAdapter
	breaker *breaker.Breaker
	config  Config
	logger  *log.Logger
}

// NewExtractor creates an extractor over the adapter. The breaker is shared
// with other callers hitting the same source.
func NewExtractor(adapter SourceAdapter, cb *breaker.Breaker, config Config, logger *log.Logger) *Extractor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PolitenessDelay <= 0 {
		config.PolitenessDelay = DefaultPolitenessDelay
	}
	if config.ValidRecord == nil {
		config.ValidRecord = defaultValidRecord
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Extractor{
		adapter: adapter,
		breaker: cb,
		config:  config,
		logger:  logger.WithStage(types.StageExtract, adapter.Name()),
	}
}

// ExtractAll streams every record the source holds. Each record is handed to
// emit in page order; emit blocking provides backpressure, and an emit error
// aborts the stream.
func (e *Extractor) ExtractAll(ctx context.Context, emit func(context.Context, *types.RawRecord) error) (*Result, error) {
	return e.extract(ctx, Filter{}, emit)
}

// ExtractIncremental streams records updated after since. A zero since is
// equivalent to ExtractAll.
func (e *Extractor) ExtractIncremental(ctx context.Context, since time.Time, emit func(context.Context, *types.RawRecord) error) (*Result, error) {
	filter := Filter{}
	if !since.IsZero() {
		filter.UpdatedAfter = &since
	}
	return e.extract(ctx, filter, emit)
}

func (e *Extractor) extract(ctx context.Context, filter Filter, emit func(context.Context, *types.RawRecord) error) (*Result, error) {
	total := e.estimateTotal(ctx, filter)

	result := &Result{}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := e.fetchPage(ctx, filter, Page{Limit: e.config.BatchSize, Offset: offset})
		if err != nil {
			return result, fmt.Errorf("extract %s at offset %d: %w", e.adapter.Name(), offset, err)
		}
		if page.Total >= 0 {
			total = page.Total
		}

		for _, r := range page.Records {
			if err := e.config.ValidRecord(r); err != nil {
				result.Errors = append(result.Errors, &types.RecordError{
					Stage:     types.StageExtract,
					Source:    e.adapter.Name(),
					RecordID:  r.ID,
					Message:   err.Error(),
					Retryable: false,
				})
				continue
			}
			if err := emit(ctx, r); err != nil {
				return result, err
			}
			result.Extracted++
		}

		e.reportProgress(result.Extracted, total)

		if !page.HasMore || len(page.Records) < e.config.BatchSize {
			break
		}
		offset += len(page.Records)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(e.config.PolitenessDelay):
		}
	}

	e.logger.Info("extraction complete", map[string]any{
		"extracted": result.Extracted,
		"rejected":  len(result.Errors),
	})
	return result, nil
}

// estimateTotal makes one cheap adapter call for the progress denominator.
// Failure (including an open breaker) degrades progress to unknown rather
// than failing the stream.
func (e *Extractor) estimateTotal(ctx context.Context, filter Filter) int {
	res, err := breaker.Do(ctx, e.breaker, func(ctx context.Context) (*QueryResult, error) {
		return e.adapter.Query(ctx, filter, Page{Limit: 1})
	})
	if err != nil {
		e.logger.Warn("total estimate unavailable", map[string]any{"error": err.Error()})
		return TotalUnknown
	}
	return res.Total
}

// fetchPage wraps one adapter page call in retry and the circuit breaker.
// An open breaker is permanent for the retry loop.
func (e *Extractor) fetchPage(ctx context.Context, filter Filter, page Page) (*QueryResult, error) {
	opts := e.config.Retry
	if opts.RetryIf == nil {
		opts.RetryIf = func(err error) bool {
			return !errors.Is(err, breaker.ErrOpen) && retry.IsRetryable(err)
		}
	}
	userNotify := opts.OnRetry
	opts.OnRetry = func(err error, attempt int) {
		e.logger.Warn("page retry", map[string]any{
			"offset":  page.Offset,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if userNotify != nil {
			userNotify(err, attempt)
		}
	}

	return retry.Do(ctx, opts, func(ctx context.Context) (*QueryResult, error) {
		return breaker.Do(ctx, e.breaker, func(ctx context.Context) (*QueryResult, error) {
			return e.adapter.Query(ctx, filter, page)
		})
	})
}

func (e *Extractor) reportProgress(extracted, total int) {
	if e.config.OnProgress == nil {
		return
	}
	p := Progress{
		Source:     e.adapter.Name(),
		Extracted:  extracted,
		Total:      total,
		Percentage: -1,
	}
	if total > 0 {
		p.Percentage = float64(extracted) / float64(total) * 100
	}
	e.config.OnProgress(p)
}

// defaultValidRecord rejects records missing the identity fields every
// downstream stage keys on.
func defaultValidRecord(r *types.RawRecord) error {
	if r == nil {
		return errors.New("nil record")
	}
	if r.ID == "" {
		return errors.New("missing record id")
	}
	if r.ParcelNumber == "" {
		return types.ErrMissingParcelNumber
	}
	return nil
}
