package normalize

import (
	"sort"

	"github.com/opengovsl/landetl/types"
)

// maxIssueExamples caps the record IDs kept per aggregated issue.
const maxIssueExamples = 5

// Dimension names of the batch quality score.
const (
	DimCompleteness = "completeness"
	DimAccuracy     = "accuracy"
	DimConsistency  = "consistency"
	DimTimeliness   = "timeliness"
	DimUniqueness   = "uniqueness"
)

// Dimension weights. They sum to 1.
var dimensionWeights = map[string]float64{
	DimCompleteness: 0.30,
	DimAccuracy:     0.30,
	DimConsistency:  0.20,
	DimTimeliness:   0.10,
	DimUniqueness:   0.10,
}

// Dimension baselines used when a batch carries no evidence to the contrary.
var dimensionDefaults = map[string]float64{
	DimCompleteness: 1.00,
	DimAccuracy:     0.90,
	DimConsistency:  0.85,
	DimTimeliness:   1.00,
	DimUniqueness:   1.00,
}

// issueDimension routes an issue kind to the dimension it erodes.
var issueDimension = map[string]string{
	IssueMissingNationalID:  DimCompleteness,
	IssueMissingPhone:       DimCompleteness,
	IssueNoLocation:         DimCompleteness,
	IssueMissingTitleDeed:   DimCompleteness,
	IssueInvalidArea:        DimAccuracy,
	IssueInvalidPhone:       DimAccuracy,
	IssueInvalidNationalID:  DimAccuracy,
	IssueOutOfBounds:        DimAccuracy,
	IssueDegenerateBoundary: DimAccuracy,
	IssueStaleVerification:  DimTimeliness,
}

// Issue kind identifiers.
const (
	IssueMissingNationalID = "missing national id"
	IssueMissingPhone      = "missing phone"
	IssueNoLocation        = "no geographic location"
	IssueMissingTitleDeed  = "missing title deed number"
	IssueInvalidArea       = "non-positive area"
	IssueInvalidPhone       = "invalid phone number"
	IssueInvalidNationalID  = "invalid national id format"
	IssueOutOfBounds        = "coordinates out of bounds"
	IssueDegenerateBoundary = "boundary has fewer than 3 vertices"
	IssueStaleVerification  = "last verification older than 5 years"
)

// severityPenalty weights an issue occurrence when eroding a dimension.
var severityPenalty = map[types.Severity]float64{
	types.SeverityLow:      0.25,
	types.SeverityMedium:   0.50,
	types.SeverityHigh:     0.75,
	types.SeverityCritical: 1.00,
}

// Issue is one aggregated quality finding across a batch.
type Issue struct {
	Field    string         `json:"field"`
	Issue    string         `json:"issue"`
	Severity types.Severity `json:"severity"`
	Count    int            `json:"count"`
	// Examples holds up to 5 record IDs exhibiting the issue.
	Examples []string `json:"examples,omitempty"`
}

// Report is the quality summary of one normalized batch.
type Report struct {
	Records    int                `json:"records"`
	Issues     []Issue            `json:"issues"`
	Dimensions map[string]float64 `json:"dimensions"`
	// Score is the weighted dimensional average in [0,1].
	Score float64 `json:"score"`
}

// Accumulator aggregates per-record issues across a batch, de-duplicating
// on (field, issue).
type Accumulator struct {
	records int
	parcels map[string]int
	issues  map[issueKey]*Issue
	order   []issueKey
}

type issueKey struct {
	field string
	issue string
}

// NewAccumulator creates an empty batch accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		parcels: make(map[string]int),
		issues:  make(map[issueKey]*Issue),
	}
}

// Observe folds one record's issues into the batch.
func (a *Accumulator) Observe(recordID, parcelNumber string, issues []Issue) {
	a.records++
	if parcelNumber != "" {
		a.parcels[parcelNumber]++
	}
	for _, is := range issues {
		key := issueKey{field: is.Field, issue: is.Issue}
		agg, ok := a.issues[key]
		if !ok {
			agg = &Issue{Field: is.Field, Issue: is.Issue, Severity: is.Severity}
			a.issues[key] = agg
			a.order = append(a.order, key)
		}
		agg.Count++
		if len(agg.Examples) < maxIssueExamples && recordID != "" {
			agg.Examples = append(agg.Examples, recordID)
		}
	}
}

// Report computes the dimensional scores and the weighted batch score.
// Each dimension starts at its baseline and is eroded by the severity-
// weighted issue rate; uniqueness is the share of distinct parcels.
func (a *Accumulator) Report() *Report {
	dims := make(map[string]float64, len(dimensionDefaults))
	for name, base := range dimensionDefaults {
		dims[name] = base
	}

	if a.records > 0 {
		penalties := make(map[string]float64)
		for _, key := range a.order {
			is := a.issues[key]
			dim, ok := issueDimension[is.Issue]
			if !ok {
				dim = DimConsistency
			}
			penalties[dim] += severityPenalty[is.Severity] * float64(is.Count)
		}
		for dim, p := range penalties {
			dims[dim] = clamp01(dims[dim] - p/float64(a.records))
		}

		if len(a.parcels) > 0 {
			total := 0
			for _, n := range a.parcels {
				total += n
			}
			dims[DimUniqueness] = clamp01(float64(len(a.parcels)) / float64(total))
		}
	}

	score := 0.0
	for name, weight := range dimensionWeights {
		score += weight * dims[name]
	}

	issues := make([]Issue, 0, len(a.order))
	for _, key := range a.order {
		issues = append(issues, *a.issues[key])
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Count != issues[j].Count {
			return issues[i].Count > issues[j].Count
		}
		return issues[i].Field < issues[j].Field
	})

	return &Report{
		Records:    a.records,
		Issues:     issues,
		Dimensions: dims,
		Score:      score,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecordScore folds a record's issues into a [0,100] scalar stamped on the
// record itself. It starts from 100 and subtracts per issue severity.
func RecordScore(issues []Issue) int {
	score := 100
	for _, is := range issues {
		switch is.Severity {
		case types.SeverityLow:
			score -= 2
		case types.SeverityMedium:
			score -= 5
		case types.SeverityHigh:
			score -= 10
		case types.SeverityCritical:
			score -= 25
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
