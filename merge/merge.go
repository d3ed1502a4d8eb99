// Package merge reconciles per-source parcel records into one UNIFIED
// record per parcel.
//
// Reconciliation is field-group based: the land authority owns location and
// core ownership, the revenue authority owns tax standing, and the registry
// owns legal history. The streaming Grouper bounds how many parcels are
// in flight at once.
package merge

import (
	"sort"
	"time"

	"github.com/opengovsl/landetl/normalize"
	"github.com/opengovsl/landetl/types"
)

// DefaultBaseScore seeds the merged quality score when the primary record
// carries none.
const DefaultBaseScore = 70

// Consistency issue kinds stamped on merged records.
const (
	IssueAssessmentRatio = "tax assessment inconsistent with area"
	IssueDeedMissing     = "title deed missing despite registry record"
	IssueUnresolvedTax   = "tax status unresolved after merge"
)

// Merge folds a group of records sharing one canonical parcel number into a
// single UNIFIED record. The group must be non-empty; records from the same
// source keep their relative extraction order (later wins).
func Merge(group []*types.LandRecord, now time.Time) (*types.LandRecord, []normalize.Issue) {
	bySource := make(map[types.SourceSystem]*types.LandRecord, len(group))
	for _, r := range group {
		bySource[r.SourceSystem] = r
	}

	primary := primaryRecord(group)
	merged := *primary
	merged.SourceSystem = types.SourceUnified
	merged.UpdatedAt = now.UTC()

	la := bySource[types.SourceLandAuthority]
	rev := bySource[types.SourceRevenueAuthority]
	reg := bySource[types.SourceRegistry]

	mergeTax(&merged, la, rev)
	mergeLegal(&merged, group, la, reg)
	mergeContact(&merged, la, rev)

	maxVersion := 0
	for _, r := range group {
		if r.Version > maxVersion {
			maxVersion = r.Version
		}
	}
	merged.Version = maxVersion + 1
	merged.QualityScore = mergedScore(primary.QualityScore, len(bySource))

	return &merged, consistencyIssues(&merged, reg != nil)
}

// primaryRecord picks the highest-priority source in the group; ties keep
// the later record.
func primaryRecord(group []*types.LandRecord) *types.LandRecord {
	best := group[0]
	for _, r := range group[1:] {
		if r.SourceSystem.MergePriority() >= best.SourceSystem.MergePriority() {
			best = r
		}
	}
	return best
}

// mergeTax applies the revenue authority's tax standing with non-null
// override; the land authority's valuation wins only when strictly newer.
func mergeTax(merged *types.LandRecord, la, rev *types.LandRecord) {
	if rev == nil {
		return
	}
	if rev.TaxStatus != "" {
		merged.TaxStatus = rev.TaxStatus
	}
	if rev.LastPaymentDate != nil {
		merged.LastPaymentDate = rev.LastPaymentDate
	}
	if rev.ArrearsAmount > 0 {
		merged.ArrearsAmount = rev.ArrearsAmount
	}

	newerValuation := la != nil && la.LastValuationDate != nil &&
		(rev.LastValuationDate == nil || la.LastValuationDate.After(*rev.LastValuationDate))
	if !newerValuation {
		if rev.CurrentValue > 0 {
			merged.CurrentValue = rev.CurrentValue
		}
		if rev.TaxAssessment > 0 {
			merged.TaxAssessment = rev.TaxAssessment
		}
		if rev.LastValuationDate != nil {
			merged.LastValuationDate = rev.LastValuationDate
		}
	}
}

// mergeLegal applies the registry's deed with non-null override and unions
// the history collections across every source in the group.
func mergeLegal(merged *types.LandRecord, group []*types.LandRecord, la, reg *types.LandRecord) {
	if reg != nil && reg.TitleDeedNumber != "" {
		merged.TitleDeedNumber = reg.TitleDeedNumber
	} else if la != nil && la.TitleDeedNumber != "" {
		merged.TitleDeedNumber = la.TitleDeedNumber
	}

	seen := make(map[string]bool)
	var encumbrances []string
	for _, r := range group {
		for _, e := range r.Encumbrances {
			if !seen[e] {
				seen[e] = true
				encumbrances = append(encumbrances, e)
			}
		}
	}
	merged.Encumbrances = encumbrances

	type ownerKey struct {
		name string
		from time.Time
	}
	seenOwners := make(map[ownerKey]bool)
	var owners []types.PreviousOwner
	for _, r := range group {
		for _, o := range r.PreviousOwners {
			key := ownerKey{name: o.Name, from: o.FromDate}
			if !seenOwners[key] {
				seenOwners[key] = true
				owners = append(owners, o)
			}
		}
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].FromDate.Before(owners[j].FromDate) })
	merged.PreviousOwners = owners
}

// mergeContact takes phone/email from the revenue authority when present;
// the owner's name always comes from the land authority.
func mergeContact(merged *types.LandRecord, la, rev *types.LandRecord) {
	if rev != nil {
		if rev.Owner.Phone != "" {
			merged.Owner.Phone = rev.Owner.Phone
		}
		if rev.Owner.Email != "" {
			merged.Owner.Email = rev.Owner.Email
		}
	}
	if la != nil && la.Owner.Name != "" {
		merged.Owner.Name = la.Owner.Name
	}
}

// mergedScore is base + 10 per additional source + a 5-per-source bonus
// when more than one source contributed, capped at 100.
func mergedScore(base, sources int) int {
	if base <= 0 {
		base = DefaultBaseScore
	}
	score := base + 10*(sources-1)
	if sources > 1 {
		score += 5 * sources
	}
	if score > 100 {
		score = 100
	}
	return score
}

// consistencyIssues runs the cross-field checks on the merged record.
func consistencyIssues(r *types.LandRecord, registryPresent bool) []normalize.Issue {
	var issues []normalize.Issue

	if r.TaxAssessment > 0 && r.Area > 0 {
		ratio := r.TaxAssessment / r.Area
		if ratio < 10 || ratio > 10000 {
			issues = append(issues, normalize.Issue{
				Field: "taxAssessment", Issue: IssueAssessmentRatio, Severity: types.SeverityMedium,
			})
		}
	}
	if registryPresent && r.TitleDeedNumber == "" {
		issues = append(issues, normalize.Issue{
			Field: "titleDeedNumber", Issue: IssueDeedMissing, Severity: types.SeverityHigh,
		})
	}
	if r.TaxStatus == types.TaxPending {
		issues = append(issues, normalize.Issue{
			Field: "taxStatus", Issue: IssueUnresolvedTax, Severity: types.SeverityMedium,
		})
	}
	return issues
}
