package rest

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opengovsl/landetl/retry"
	"github.com/opengovsl/landetl/source"
	"github.com/opengovsl/landetl/types"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a, err := New(Config{
		Name:    "land-authority",
		System:  types.SourceLandAuthority,
		BaseURL: server.URL + "/v1",
		APIKey:  "token123",
		Headers: map[string]string{"X-Client": "landetl"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return a
}

func TestAdapter_Query(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/records" {
			t.Errorf("path = %q, want /v1/records", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		if got := r.URL.Query().Get("offset"); got != "100" {
			t.Errorf("offset = %q, want 100", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token123" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("X-Client"); got != "landetl" {
			t.Errorf("x-client = %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"records": [
				{"id": "rec-1", "parcel_number": "WA/FT/001/0001"},
				{"id": "rec-2", "parcel_number": "WA/FT/001/0002"}
			],
			"total": 240,
			"has_more": true
		}`))
	})

	res, err := a.Query(t.Context(), source.Filter{}, source.Page{Limit: 50, Offset: 100})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.Records) != 2 || res.Total != 240 || !res.HasMore {
		t.Errorf("result = %d records, total %d, has_more %v", len(res.Records), res.Total, res.HasMore)
	}
	for _, r := range res.Records {
		if r.SourceSystem != types.SourceLandAuthority {
			t.Errorf("record %s system = %s, want LAND_AUTHORITY", r.ID, r.SourceSystem)
		}
	}
}

func TestAdapter_Query_IncrementalFilter(t *testing.T) {
	since := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("updated_after"); got != "2026-08-15T12:00:00Z" {
			t.Errorf("updated_after = %q", got)
		}
		_, _ = w.Write([]byte(`{"records": [], "total": 0, "has_more": false}`))
	})

	if _, err := a.Query(t.Context(), source.Filter{UpdatedAfter: &since}, source.Page{Limit: 10}); err != nil {
		t.Fatalf("query: %v", err)
	}
}

func TestAdapter_Query_MissingTotalIsUnknown(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records": [{"id": "rec-1", "parcel_number": "P"}], "has_more": false}`))
	})

	res, err := a.Query(t.Context(), source.Filter{}, source.Page{Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != source.TotalUnknown {
		t.Errorf("total = %d, want TotalUnknown", res.Total)
	}
}

func TestAdapter_Query_ServerErrorIsRetryable(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusServiceUnavailable)
	})

	_, err := a.Query(t.Context(), source.Filter{}, source.Page{Limit: 10})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want StatusError 503", err)
	}
	if !retry.IsRetryable(err) {
		t.Error("503 must classify as retryable")
	}
}

func TestAdapter_Query_ClientErrorIsPermanent(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := a.Query(t.Context(), source.Filter{}, source.Page{Limit: 10})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if retry.IsRetryable(err) {
		t.Error("400 must not classify as retryable")
	}
}

func TestAdapter_GetByID(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/records/rec-42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id": "rec-42", "parcel_number": "WA/FT/001/0042"}`))
	})

	rec, err := a.GetByID(t.Context(), "rec-42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.ID != "rec-42" || rec.SourceSystem != types.SourceLandAuthority {
		t.Errorf("record = %+v", rec)
	}
}

func TestAdapter_GetByID_NotFound(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if _, err := a.GetByID(t.Context(), "missing"); !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing name", Config{System: types.SourceRegistry, BaseURL: "https://example.com"}},
		{"missing system", Config{Name: "registry", BaseURL: "https://example.com"}},
		{"bad url", Config{Name: "registry", System: types.SourceRegistry, BaseURL: "://nope"}},
		{"relative url", Config{Name: "registry", System: types.SourceRegistry, BaseURL: "/v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
