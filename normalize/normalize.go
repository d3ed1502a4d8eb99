// Package normalize turns loosely-shaped source records into canonical
// records and scores their data quality.
//
// Normalization is a pure per-record transformation. A record only fails
// outright when its identity is unrecoverable (no parcel number survives
// canonicalization); every other defect degrades to a quality issue so the
// batch report stays complete.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/opengovsl/landetl/types"
)

// CountryCode is prefixed onto subscriber numbers missing one.
const CountryCode = "232"

// staleVerificationAge is the age past which a field verification is
// considered stale.
const staleVerificationAge = 5 * 365 * 24 * time.Hour

var (
	parcelJunk    = regexp.MustCompile(`[^A-Z0-9/-]`)
	nonWord       = regexp.MustCompile(`[^A-Za-z0-9]`)
	nonDigit      = regexp.MustCompile(`[^0-9]`)
	nationalIDFmt = regexp.MustCompile(`^[A-Z0-9]{8,15}$`)
	hasDigit      = regexp.MustCompile(`[0-9]`)
	spaces        = regexp.MustCompile(`\s+`)
)

// Normalizer applies the field-level canonicalization rules.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// WithClock overrides the time source; tests pin it.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize canonicalizes one raw record. The returned issues feed the
// batch quality report; a non-nil error means the record is unusable and
// must surface as a transform failure instead.
func (n *Normalizer) Normalize(raw *types.RawRecord) (*types.LandRecord, []Issue, error) {
	parcel := CanonicalParcelNumber(raw.ParcelNumber)
	if parcel == "" {
		return nil, nil, fmt.Errorf("record %s: %w", raw.ID, types.ErrMissingParcelNumber)
	}

	var issues []Issue
	rec := &types.LandRecord{
		ID:           raw.ID,
		ParcelNumber: parcel,
		SourceSystem: raw.SourceSystem,
		Version:      raw.Version,
		CreatedAt:    raw.CreatedAt,
		UpdatedAt:    n.now().UTC(),

		District: canonicalDistrict(raw.District),
		Chiefdom: titleCase(raw.Chiefdom),
		Ward:     strings.TrimSpace(raw.Ward),
		Address:  strings.TrimSpace(raw.Address),

		LandUse:    strings.TrimSpace(raw.LandUse),
		Structures: raw.Structures,

		LastValuationDate: raw.LastValuationDate,

		TitleDeedNumber: strings.TrimSpace(raw.TitleDeedNumber),
		Encumbrances:    raw.Encumbrances,
		Disputes:        raw.Disputes,

		LastPaymentDate: raw.LastPaymentDate,

		LastVerificationDate: raw.LastVerificationDate,
		VerificationMethod:   strings.TrimSpace(raw.VerificationMethod),

		PreviousOwners: raw.PreviousOwners,
	}

	// Location
	if raw.Coordinates != nil {
		c := *raw.Coordinates
		if c.InBounds() {
			rec.Coordinates = &c
		} else {
			issues = append(issues, Issue{Field: "coordinates", Issue: IssueOutOfBounds, Severity: types.SeverityHigh})
		}
	}
	if n := len(raw.Boundaries); n > 0 {
		switch {
		case n < 3:
			issues = append(issues, Issue{Field: "boundaries", Issue: IssueDegenerateBoundary, Severity: types.SeverityMedium})
		case !verticesInBounds(raw.Boundaries):
			issues = append(issues, Issue{Field: "boundaries", Issue: IssueOutOfBounds, Severity: types.SeverityHigh})
		default:
			rec.Boundaries = raw.Boundaries
		}
	}
	if rec.Coordinates == nil && len(rec.Boundaries) == 0 {
		issues = append(issues, Issue{Field: "coordinates", Issue: IssueNoLocation, Severity: types.SeverityHigh})
	}

	// Ownership
	rec.Owner = types.Owner{
		Name:  titleCase(raw.Owner.Name),
		Email: strings.ToLower(strings.TrimSpace(raw.Owner.Email)),
	}
	if id, ok := canonicalNationalID(raw.Owner.NationalID); ok {
		rec.Owner.NationalID = id
	} else if raw.Owner.NationalID != "" {
		issues = append(issues, Issue{Field: "owner.nationalId", Issue: IssueInvalidNationalID, Severity: types.SeverityHigh})
	}
	if rec.Owner.NationalID == "" {
		issues = append(issues, Issue{Field: "owner.nationalId", Issue: IssueMissingNationalID, Severity: types.SeverityHigh})
	}
	if phone, ok := canonicalPhone(raw.Owner.Phone); ok {
		rec.Owner.Phone = phone
	} else if raw.Owner.Phone != "" {
		issues = append(issues, Issue{Field: "owner.phoneNumber", Issue: IssueInvalidPhone, Severity: types.SeverityMedium})
	}
	if rec.Owner.Phone == "" {
		issues = append(issues, Issue{Field: "owner.phoneNumber", Issue: IssueMissingPhone, Severity: types.SeverityMedium})
	}

	// Property and valuation
	rec.LandType = canonicalLandType(raw.LandType)
	rec.Area = canonicalNumber(raw.Area)
	rec.CurrentValue = canonicalNumber(raw.CurrentValue)
	rec.TaxAssessment = canonicalNumber(raw.TaxAssessment)
	rec.ArrearsAmount = canonicalNumber(raw.ArrearsAmount)
	if rec.Area <= 0 {
		issues = append(issues, Issue{Field: "area", Issue: IssueInvalidArea, Severity: types.SeverityCritical})
	}

	// Legal and tax
	if rec.TitleDeedNumber == "" {
		issues = append(issues, Issue{Field: "titleDeedNumber", Issue: IssueMissingTitleDeed, Severity: types.SeverityMedium})
	}
	rec.TaxStatus = canonicalTaxStatus(raw.TaxStatus)

	// Verification
	rec.VerificationStatus = canonicalVerification(raw.VerificationStatus)
	if rec.LastVerificationDate != nil && n.now().Sub(*rec.LastVerificationDate) > staleVerificationAge {
		issues = append(issues, Issue{Field: "lastVerificationDate", Issue: IssueStaleVerification, Severity: types.SeverityMedium})
	}

	rec.QualityScore = RecordScore(issues)
	return rec, issues, nil
}

// NormalizeBatch runs Normalize over a batch, accumulating the quality
// report. Unusable records become transform errors without aborting the
// batch.
func (n *Normalizer) NormalizeBatch(raws []*types.RawRecord) ([]*types.LandRecord, *Report, []*types.RecordError) {
	acc := NewAccumulator()
	out := make([]*types.LandRecord, 0, len(raws))
	var errs []*types.RecordError

	for _, raw := range raws {
		rec, issues, err := n.Normalize(raw)
		if err != nil {
			errs = append(errs, &types.RecordError{
				Stage:     types.StageTransform,
				Source:    string(raw.SourceSystem),
				RecordID:  raw.ID,
				Message:   err.Error(),
				Retryable: false,
			})
			continue
		}
		acc.Observe(rec.ID, rec.ParcelNumber, issues)
		out = append(out, rec)
	}

	return out, acc.Report(), errs
}

// CanonicalParcelNumber uppercases and strips everything outside
// [A-Z0-9/-]. Exported because the merge stage groups on the same key.
func CanonicalParcelNumber(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return parcelJunk.ReplaceAllString(s, "")
}

func canonicalDistrict(s string) string {
	trimmed := strings.TrimSpace(s)
	key := spaces.ReplaceAllString(strings.ToLower(trimmed), " ")
	if canonical, ok := canonicalDistricts[key]; ok {
		return canonical
	}
	return trimmed
}

func canonicalLandType(s string) types.LandType {
	key := strings.ToLower(strings.TrimSpace(s))
	if lt, ok := landTypeSynonyms[key]; ok {
		return lt
	}
	return types.LandTypeMixed
}

func canonicalTaxStatus(s string) types.TaxStatus {
	key := strings.ToLower(strings.TrimSpace(s))
	if ts, ok := taxStatusSynonyms[key]; ok {
		return ts
	}
	return types.TaxPending
}

func canonicalVerification(s string) types.VerificationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "verified":
		return types.VerificationVerified
	case "disputed":
		return types.VerificationDisputed
	default:
		return types.VerificationPending
	}
}

// canonicalNationalID strips separators and uppercases, then enforces the
// 8-15 alphanumeric format with at least one digit.
func canonicalNationalID(s string) (string, bool) {
	cleaned := strings.ToUpper(nonWord.ReplaceAllString(s, ""))
	if cleaned == "" {
		return "", false
	}
	if !nationalIDFmt.MatchString(cleaned) || !hasDigit.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}

// canonicalPhone strips non-digits, prefixes the country code when absent,
// and validates the subscriber length. Output form is +232XXXXXXXX.
func canonicalPhone(s string) (string, bool) {
	digits := nonDigit.ReplaceAllString(s, "")
	if digits == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(digits, CountryCode):
		// already international
	case strings.HasPrefix(digits, "0"):
		digits = CountryCode + digits[1:]
	default:
		digits = CountryCode + digits
	}
	subscriber := digits[len(CountryCode):]
	if len(subscriber) != 8 {
		return "", false
	}
	return "+" + digits, true
}

func verticesInBounds(points []types.Coordinates) bool {
	for _, p := range points {
		if !p.InBounds() {
			return false
		}
	}
	return true
}

func canonicalNumber(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Round(v*100) / 100
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		runes := []rune(strings.ToLower(f))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}
