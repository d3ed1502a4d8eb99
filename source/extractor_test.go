package source

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/opengovsl/landetl/breaker"
	"github.com/opengovsl/landetl/retry"
	"github.com/opengovsl/landetl/types"
)

func rawRecord(id, parcel string) *types.RawRecord {
	return &types.RawRecord{
		ID:           id,
		ParcelNumber: parcel,
		SourceSystem: types.SourceLandAuthority,
		District:     "Western Area Urban",
		LandType:     "residential",
		Area:         250,
		Owner:        types.Owner{Name: "Aminata Kamara"},
		UpdatedAt:    time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
	}
}

func manyRecords(n int) []*types.RawRecord {
	out := make([]*types.RawRecord, n)
	for i := range out {
		out[i] = rawRecord(fmt.Sprintf("rec-%03d", i), fmt.Sprintf("WU/FT/%03d", i))
	}
	return out
}

func fastRetry(attempts int) retry.Options {
	return retry.Options{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func collect(t *testing.T, e *Extractor) ([]*types.RawRecord, *Result, error) {
	t.Helper()
	var got []*types.RawRecord
	res, err := e.ExtractAll(t.Context(), func(_ context.Context, r *types.RawRecord) error {
		got = append(got, r)
		return nil
	})
	return got, res, err
}

func TestExtractAll_Paginates(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, manyRecords(25)...)
	cb := breaker.New("land-authority", breaker.DefaultConfig())
	e := NewExtractor(stub, cb, Config{
		BatchSize:       10,
		PolitenessDelay: time.Millisecond,
		Retry:           fastRetry(3),
	}, nil)

	got, res, err := collect(t, e)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 25 || res.Extracted != 25 {
		t.Errorf("extracted %d records (result %d), want 25", len(got), res.Extracted)
	}
	if got[0].ID != "rec-000" || got[24].ID != "rec-024" {
		t.Error("records must stream in page order")
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected record errors: %v", res.Errors)
	}
}

func TestExtractAll_TerminatesOnShortPage(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, manyRecords(7)...)
	cb := breaker.New("short-page", breaker.DefaultConfig())
	e := NewExtractor(stub, cb, Config{
		BatchSize:       10,
		PolitenessDelay: time.Millisecond,
		Retry:           fastRetry(3),
	}, nil)

	got, _, err := collect(t, e)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 7 {
		t.Errorf("extracted %d, want 7", len(got))
	}
	// One estimate call plus a single short page.
	if stub.Calls() != 2 {
		t.Errorf("expected 2 adapter calls, got %d", stub.Calls())
	}
}

func TestExtractIncremental_FiltersByWatermark(t *testing.T) {
	old := rawRecord("rec-old", "WU/FT/OLD")
	old.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := rawRecord("rec-new", "WU/FT/NEW")

	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, old, fresh)
	cb := breaker.New("incremental", breaker.DefaultConfig())
	e := NewExtractor(stub, cb, Config{PolitenessDelay: time.Millisecond, Retry: fastRetry(3)}, nil)

	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var got []*types.RawRecord
	_, err := e.ExtractIncremental(t.Context(), since, func(_ context.Context, r *types.RawRecord) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec-new" {
		t.Errorf("expected only the fresh record, got %v", got)
	}
}

func TestExtractAll_CollectsValidationRejects(t *testing.T) {
	ok := rawRecord("rec-1", "WU/FT/001")
	noParcel := rawRecord("rec-2", "")
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, ok, noParcel)
	cb := breaker.New("validation", breaker.DefaultConfig())
	e := NewExtractor(stub, cb, Config{PolitenessDelay: time.Millisecond, Retry: fastRetry(3)}, nil)

	got, res, err := collect(t, e)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(got))
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 record error, got %d", len(res.Errors))
	}
	re := res.Errors[0]
	if re.RecordID != "rec-2" || re.Retryable {
		t.Errorf("unexpected record error: %+v", re)
	}
	if re.Stage != types.StageExtract {
		t.Errorf("stage = %s, want extract", re.Stage)
	}
}

func TestExtractAll_RetriesTransientFailures(t *testing.T) {
	// Estimate call consumes the first scripted error; the first page call
	// then fails twice with ECONNRESET before succeeding on attempt 3.
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, rawRecord("rec-1", "WU/FT/001")).
		Fail(syscall.ECONNRESET, syscall.ECONNRESET, syscall.ECONNRESET)
	cb := breaker.New("transient", breaker.DefaultConfig())

	var retries []int
	opts := fastRetry(3)
	opts.OnRetry = func(_ error, attempt int) { retries = append(retries, attempt) }

	e := NewExtractor(stub, cb, Config{PolitenessDelay: time.Millisecond, Retry: opts}, nil)

	got, _, err := collect(t, e)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected the record to be delivered, got %d", len(got))
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("expected retry events [1 2], got %v", retries)
	}
	if cb.State() != breaker.StateClosed {
		t.Errorf("breaker state = %s, want CLOSED", cb.State())
	}
}

func TestExtractAll_BreakerOpensAndRejects(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, rawRecord("rec-1", "WU/FT/001")).
		Fail(syscall.ETIMEDOUT, syscall.ETIMEDOUT, syscall.ETIMEDOUT, syscall.ETIMEDOUT, syscall.ETIMEDOUT,
			syscall.ETIMEDOUT, syscall.ETIMEDOUT)
	cfg := breaker.DefaultConfig()
	cfg.FailureThreshold = 5
	cb := breaker.New("timeouts", cfg)

	e := NewExtractor(stub, cb, Config{PolitenessDelay: time.Millisecond, Retry: fastRetry(5)}, nil)

	_, _, err := collect(t, e)
	if err == nil {
		t.Fatal("expected extraction to fail")
	}
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("expected breaker-open error, got %v", err)
	}
	if cb.State() != breaker.StateOpen {
		t.Errorf("breaker state = %s, want OPEN", cb.State())
	}
	// Estimate + 4 page attempts reach the threshold; the open breaker
	// rejects the 5th attempt without touching the adapter.
	if stub.Calls() != 5 {
		t.Errorf("expected 5 adapter calls, got %d", stub.Calls())
	}
}

func TestExtractAll_EmitErrorAborts(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, manyRecords(5)...)
	cb := breaker.New("emit-abort", breaker.DefaultConfig())
	e := NewExtractor(stub, cb, Config{PolitenessDelay: time.Millisecond, Retry: fastRetry(3)}, nil)

	boom := errors.New("downstream closed")
	_, err := e.ExtractAll(t.Context(), func(context.Context, *types.RawRecord) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected emit error to propagate, got %v", err)
	}
}

func TestExtractAll_ReportsProgress(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, manyRecords(20)...)
	cb := breaker.New("progress", breaker.DefaultConfig())

	var progress []Progress
	e := NewExtractor(stub, cb, Config{
		BatchSize:       10,
		PolitenessDelay: time.Millisecond,
		Retry:           fastRetry(3),
		OnProgress:      func(p Progress) { progress = append(progress, p) },
	}, nil)

	if _, _, err := collect(t, e); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(progress) < 2 {
		t.Fatalf("expected progress per page, got %d events", len(progress))
	}
	last := progress[len(progress)-1]
	if last.Extracted != 20 || last.Total != 20 || last.Percentage != 100 {
		t.Errorf("unexpected final progress: %+v", last)
	}
}

func TestStubAdapter_GetByID(t *testing.T) {
	stub := NewStubAdapter("land-authority", types.SourceLandAuthority, rawRecord("rec-1", "WU/FT/001"))
	r, err := stub.GetByID(t.Context(), "rec-1")
	if err != nil || r.ParcelNumber != "WU/FT/001" {
		t.Errorf("GetByID = %v, %v", r, err)
	}
	if _, err := stub.GetByID(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
