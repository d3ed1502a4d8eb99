package watermark

import (
	"testing"
	"time"

	"github.com/opengovsl/landetl/types"
)

func TestMemoryStore_LoadAbsent(t *testing.T) {
	s := NewMemoryStore()
	w, err := s.Load(t.Context(), "land-records")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if w != nil {
		t.Errorf("expected nil watermark for unseen pipeline, got %+v", w)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	s := NewMemoryStore()
	ran := time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)
	in := &Watermark{
		LastSuccessfulRunAt: ran,
		LastExtractedAt: map[types.SourceSystem]time.Time{
			types.SourceLandAuthority:    ran,
			types.SourceRevenueAuthority: ran.Add(-time.Hour),
		},
	}

	if err := s.Save(t.Context(), "land-records", in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(t.Context(), "land-records")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.LastSuccessfulRunAt.Equal(ran) {
		t.Errorf("lastSuccessfulRunAt = %v, want %v", got.LastSuccessfulRunAt, ran)
	}
	if !got.LastExtractedAt[types.SourceRevenueAuthority].Equal(ran.Add(-time.Hour)) {
		t.Errorf("unexpected per-source mark: %v", got.LastExtractedAt)
	}

	// Stored state must be isolated from caller mutation.
	in.LastExtractedAt[types.SourceLandAuthority] = ran.Add(time.Hour)
	again, _ := s.Load(t.Context(), "land-records")
	if !again.LastExtractedAt[types.SourceLandAuthority].Equal(ran) {
		t.Error("store must hold a copy, not the caller's map")
	}
}

func TestMemoryStore_PerPipeline(t *testing.T) {
	s := NewMemoryStore()
	a := &Watermark{LastSuccessfulRunAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	b := &Watermark{LastSuccessfulRunAt: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)}

	if err := s.Save(t.Context(), "pipeline-a", a); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(t.Context(), "pipeline-b", b); err != nil {
		t.Fatal(err)
	}

	gotA, _ := s.Load(t.Context(), "pipeline-a")
	gotB, _ := s.Load(t.Context(), "pipeline-b")
	if gotA.LastSuccessfulRunAt.Equal(gotB.LastSuccessfulRunAt) {
		t.Error("pipelines must not share watermarks")
	}
}

func TestWatermark_CloneNil(t *testing.T) {
	var w *Watermark
	if w.Clone() != nil {
		t.Error("clone of nil must be nil")
	}
}
