package normalize

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opengovsl/landetl/types"
)

var testNow = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func testNormalizer() *Normalizer {
	return New().WithClock(func() time.Time { return testNow })
}

func TestNormalize_FieldRules(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		raw  *types.RawRecord
		want func(t *testing.T, rec *types.LandRecord)
	}{
		{
			name: "parcel and district canonicalized",
			raw: &types.RawRecord{
				ID:           "r1",
				ParcelNumber: " wa/kai/01/0001 ",
				District:     "Western Area",
				LandType:     "HOME",
				Area:         100,
				Owner:        types.Owner{Name: "JOHN doe"},
			},
			want: func(t *testing.T, rec *types.LandRecord) {
				if rec.ParcelNumber != "WA/KAI/01/0001" {
					t.Errorf("parcel = %q", rec.ParcelNumber)
				}
				if rec.District != "Western Area Urban" {
					t.Errorf("district = %q", rec.District)
				}
				if rec.LandType != types.LandTypeResidential {
					t.Errorf("landType = %q", rec.LandType)
				}
				if rec.Owner.Name != "John Doe" {
					t.Errorf("owner = %q", rec.Owner.Name)
				}
			},
		},
		{
			name: "second source record",
			raw: &types.RawRecord{
				ID:           "r2",
				ParcelNumber: "wa/kai/01/0002",
				District:     "PORTLOKO",
				LandType:     "FARMING",
				Area:         200,
				Owner:        types.Owner{Name: "mary SMITH"},
			},
			want: func(t *testing.T, rec *types.LandRecord) {
				if rec.District != "Port Loko" {
					t.Errorf("district = %q", rec.District)
				}
				if rec.LandType != types.LandTypeAgricultural {
					t.Errorf("landType = %q", rec.LandType)
				}
				if rec.Owner.Name != "Mary Smith" {
					t.Errorf("owner = %q", rec.Owner.Name)
				}
			},
		},
		{
			name: "unknown district passes through trimmed",
			raw: &types.RawRecord{
				ID:           "r3",
				ParcelNumber: "X/1",
				District:     "  Nowhere Special  ",
				Area:         50,
			},
			want: func(t *testing.T, rec *types.LandRecord) {
				if rec.District != "Nowhere Special" {
					t.Errorf("district = %q", rec.District)
				}
			},
		},
		{
			name: "unknown land type falls back to mixed",
			raw: &types.RawRecord{
				ID:           "r4",
				ParcelNumber: "X/2",
				LandType:     "CASTLE",
				Area:         50,
			},
			want: func(t *testing.T, rec *types.LandRecord) {
				if rec.LandType != types.LandTypeMixed {
					t.Errorf("landType = %q", rec.LandType)
				}
			},
		},
		{
			name: "updatedAt pinned to now",
			raw:  &types.RawRecord{ID: "r5", ParcelNumber: "X/3", Area: 50, UpdatedAt: testNow.Add(-time.Hour)},
			want: func(t *testing.T, rec *types.LandRecord) {
				if !rec.UpdatedAt.Equal(testNow) {
					t.Errorf("updatedAt = %v, want %v", rec.UpdatedAt, testNow)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := n.Normalize(tt.raw)
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			tt.want(t, rec)
		})
	}
}

func TestNormalize_NationalID(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		in      string
		want    string
		invalid bool
	}{
		{in: "sl-1234-5678", want: "SL12345678"},
		{in: "AB12CD34EF", want: "AB12CD34EF"},
		// too short, no digit, too long
		{in: "1234567", invalid: true},
		{in: "ABCDEFGHIJ", invalid: true},
		{in: "12345678901234567", invalid: true},
	}

	for _, tt := range tests {
		raw := &types.RawRecord{
			ID:           "r1",
			ParcelNumber: "X/1",
			Area:         50,
			Owner:        types.Owner{NationalID: tt.in},
		}
		rec, issues, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if tt.invalid {
			if rec.Owner.NationalID != "" {
				t.Errorf("%q: expected field dropped, got %q", tt.in, rec.Owner.NationalID)
			}
			if !hasIssue(issues, IssueInvalidNationalID, types.SeverityHigh) {
				t.Errorf("%q: expected high invalid-national-id issue, got %v", tt.in, issues)
			}
			continue
		}
		if rec.Owner.NationalID != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, rec.Owner.NationalID, tt.want)
		}
	}
}

func TestNormalize_Phone(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		in      string
		want    string
		invalid bool
	}{
		{in: "076-123-456", want: "+23276123456"},
		{in: "+232 76 123 456", want: "+23276123456"},
		{in: "76123456", want: "+23276123456"},
		{in: "123", invalid: true},
		{in: "0761234", invalid: true},
	}

	for _, tt := range tests {
		raw := &types.RawRecord{
			ID:           "r1",
			ParcelNumber: "X/1",
			Area:         50,
			Owner:        types.Owner{Phone: tt.in},
		}
		rec, issues, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("normalize: %v", err)
		}
		if tt.invalid {
			if rec.Owner.Phone != "" {
				t.Errorf("%q: expected field dropped, got %q", tt.in, rec.Owner.Phone)
			}
			if !hasIssue(issues, IssueInvalidPhone, types.SeverityMedium) {
				t.Errorf("%q: expected invalid-phone issue", tt.in)
			}
			continue
		}
		if rec.Owner.Phone != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, rec.Owner.Phone, tt.want)
		}
	}
}

func TestNormalize_Numerics(t *testing.T) {
	n := testNormalizer()
	raw := &types.RawRecord{
		ID:            "r1",
		ParcelNumber:  "X/1",
		Area:          123.456,
		CurrentValue:  -500,
		TaxAssessment: 99.999,
	}
	rec, _, err := n.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Area != 123.46 {
		t.Errorf("area = %v", rec.Area)
	}
	if rec.CurrentValue != 0 {
		t.Errorf("negative currentValue must clamp to 0, got %v", rec.CurrentValue)
	}
	if rec.TaxAssessment != 100 {
		t.Errorf("taxAssessment = %v", rec.TaxAssessment)
	}
}

func TestNormalize_MissingParcelFails(t *testing.T) {
	n := testNormalizer()
	_, _, err := n.Normalize(&types.RawRecord{ID: "r1", ParcelNumber: "  ???  ", Area: 50})
	if !errors.Is(err, types.ErrMissingParcelNumber) {
		t.Errorf("expected ErrMissingParcelNumber, got %v", err)
	}
}

func TestNormalize_OutOfBoundsCoordinates(t *testing.T) {
	n := testNormalizer()
	raw := &types.RawRecord{
		ID:           "r1",
		ParcelNumber: "X/1",
		Area:         50,
		Coordinates:  &types.Coordinates{Latitude: 51.5, Longitude: -0.1}, // London
	}
	rec, issues, err := n.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Coordinates != nil {
		t.Error("out-of-bounds coordinates must be dropped")
	}
	if !hasIssue(issues, IssueOutOfBounds, types.SeverityHigh) {
		t.Errorf("expected out-of-bounds issue, got %v", issues)
	}
}

func TestNormalize_Boundaries(t *testing.T) {
	n := testNormalizer()

	inBounds := []types.Coordinates{
		{Latitude: 8.46, Longitude: -13.23},
		{Latitude: 8.47, Longitude: -13.23},
		{Latitude: 8.47, Longitude: -13.22},
	}
	london := []types.Coordinates{
		{Latitude: 51.50, Longitude: -0.12},
		{Latitude: 51.51, Longitude: -0.12},
		{Latitude: 51.51, Longitude: -0.11},
	}

	tests := []struct {
		name       string
		boundaries []types.Coordinates
		kept       bool
		issue      string
		severity   types.Severity
	}{
		{name: "valid polygon kept", boundaries: inBounds, kept: true},
		{name: "out-of-bounds vertex dropped", boundaries: london, issue: IssueOutOfBounds, severity: types.SeverityHigh},
		{name: "two points dropped", boundaries: inBounds[:2], issue: IssueDegenerateBoundary, severity: types.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := &types.RawRecord{
				ID:           "r1",
				ParcelNumber: "X/1",
				Area:         50,
				Boundaries:   tt.boundaries,
			}
			rec, issues, err := n.Normalize(raw)
			if err != nil {
				t.Fatal(err)
			}
			if tt.kept {
				if len(rec.Boundaries) != len(tt.boundaries) {
					t.Errorf("boundaries = %v, want kept", rec.Boundaries)
				}
				if err := rec.Validate(); err != nil {
					t.Errorf("normalized record must validate, got %v", err)
				}
				return
			}
			if len(rec.Boundaries) != 0 {
				t.Errorf("invalid boundary must be dropped, got %v", rec.Boundaries)
			}
			if !hasIssue(issues, tt.issue, tt.severity) {
				t.Errorf("expected %q issue, got %v", tt.issue, issues)
			}
		})
	}
}

func TestNormalize_StaleVerification(t *testing.T) {
	n := testNormalizer()
	old := testNow.Add(-6 * 365 * 24 * time.Hour)
	raw := &types.RawRecord{
		ID:                   "r1",
		ParcelNumber:         "X/1",
		Area:                 50,
		LastVerificationDate: &old,
	}
	_, issues, err := n.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !hasIssue(issues, IssueStaleVerification, types.SeverityMedium) {
		t.Errorf("expected stale-verification issue, got %v", issues)
	}
}

func TestNormalizeBatch_CollectsTransformErrors(t *testing.T) {
	n := testNormalizer()
	raws := []*types.RawRecord{
		{ID: "ok", ParcelNumber: "X/1", Area: 50, SourceSystem: types.SourceLandAuthority},
		{ID: "bad", ParcelNumber: "", Area: 50, SourceSystem: types.SourceLandAuthority},
	}
	recs, report, errs := n.NormalizeBatch(raws)
	if len(recs) != 1 {
		t.Fatalf("expected 1 normalized record, got %d", len(recs))
	}
	if len(errs) != 1 || errs[0].RecordID != "bad" || errs[0].Stage != types.StageTransform {
		t.Errorf("unexpected transform errors: %v", errs)
	}
	if report.Records != 1 {
		t.Errorf("report.Records = %d, want 1", report.Records)
	}
}

func hasIssue(issues []Issue, kind string, sev types.Severity) bool {
	for _, is := range issues {
		if is.Issue == kind && is.Severity == sev {
			return true
		}
	}
	return false
}

func ExampleCanonicalParcelNumber() {
	fmt.Println(CanonicalParcelNumber(" wa/kai/01/0001 "))
	// Output: WA/KAI/01/0001
}
