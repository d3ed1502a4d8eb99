package normalize

import (
	"fmt"
	"testing"

	"github.com/opengovsl/landetl/types"
)

func TestAccumulator_DedupesAndCapsExamples(t *testing.T) {
	acc := NewAccumulator()
	for i := range 8 {
		acc.Observe(fmt.Sprintf("rec-%d", i), fmt.Sprintf("P/%d", i), []Issue{
			{Field: "owner.nationalId", Issue: IssueMissingNationalID, Severity: types.SeverityHigh},
		})
	}

	report := acc.Report()
	if len(report.Issues) != 1 {
		t.Fatalf("expected 1 aggregated issue, got %d", len(report.Issues))
	}
	is := report.Issues[0]
	if is.Count != 8 {
		t.Errorf("count = %d, want 8", is.Count)
	}
	if len(is.Examples) != 5 {
		t.Errorf("examples capped at 5, got %d", len(is.Examples))
	}
}

func TestReport_CleanBatchUsesBaselines(t *testing.T) {
	acc := NewAccumulator()
	for i := range 4 {
		acc.Observe(fmt.Sprintf("rec-%d", i), fmt.Sprintf("P/%d", i), nil)
	}

	report := acc.Report()
	if report.Dimensions[DimCompleteness] != 1.0 {
		t.Errorf("completeness = %v", report.Dimensions[DimCompleteness])
	}
	if report.Dimensions[DimAccuracy] != 0.90 {
		t.Errorf("accuracy = %v", report.Dimensions[DimAccuracy])
	}
	if report.Dimensions[DimConsistency] != 0.85 {
		t.Errorf("consistency = %v", report.Dimensions[DimConsistency])
	}
	// 0.3 + 0.27 + 0.17 + 0.1 + 0.1
	if report.Score < 0.93 || report.Score > 0.95 {
		t.Errorf("score = %v", report.Score)
	}
}

// Ten records, six missing nationalId and four with a non-positive area,
// must push the batch score under the 0.7 alert threshold.
func TestReport_DegradedBatchScoresBelowThreshold(t *testing.T) {
	acc := NewAccumulator()
	for i := range 6 {
		acc.Observe(fmt.Sprintf("rec-%d", i), fmt.Sprintf("P/%d", i), []Issue{
			{Field: "owner.nationalId", Issue: IssueMissingNationalID, Severity: types.SeverityHigh},
		})
	}
	for i := 6; i < 10; i++ {
		acc.Observe(fmt.Sprintf("rec-%d", i), fmt.Sprintf("P/%d", i), []Issue{
			{Field: "area", Issue: IssueInvalidArea, Severity: types.SeverityCritical},
		})
	}

	report := acc.Report()
	if report.Records != 10 {
		t.Fatalf("records = %d", report.Records)
	}
	if report.Score >= 0.7 {
		t.Errorf("score = %v, want < 0.7", report.Score)
	}
	if got := report.Dimensions[DimCompleteness]; !approx(got, 0.55) {
		t.Errorf("completeness = %v, want 0.55", got)
	}
	if got := report.Dimensions[DimAccuracy]; !approx(got, 0.5) {
		t.Errorf("accuracy = %v, want 0.5", got)
	}
}

func TestReport_UniquenessFromDuplicateParcels(t *testing.T) {
	acc := NewAccumulator()
	acc.Observe("rec-1", "P/1", nil)
	acc.Observe("rec-2", "P/1", nil)
	acc.Observe("rec-3", "P/2", nil)
	acc.Observe("rec-4", "P/3", nil)

	report := acc.Report()
	if got := report.Dimensions[DimUniqueness]; got != 0.75 {
		t.Errorf("uniqueness = %v, want 0.75", got)
	}
}

func approx(got, want float64) bool {
	d := got - want
	return d > -1e-9 && d < 1e-9
}

func TestRecordScore(t *testing.T) {
	tests := []struct {
		name   string
		issues []Issue
		want   int
	}{
		{name: "clean", want: 100},
		{
			name: "one high one medium",
			issues: []Issue{
				{Severity: types.SeverityHigh},
				{Severity: types.SeverityMedium},
			},
			want: 85,
		},
		{
			name: "critical stacks",
			issues: []Issue{
				{Severity: types.SeverityCritical},
				{Severity: types.SeverityCritical},
			},
			want: 50,
		},
		{
			name: "floors at zero",
			issues: []Issue{
				{Severity: types.SeverityCritical}, {Severity: types.SeverityCritical},
				{Severity: types.SeverityCritical}, {Severity: types.SeverityCritical},
				{Severity: types.SeverityCritical},
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RecordScore(tt.issues); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}
