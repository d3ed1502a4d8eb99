// Package types defines the domain model shared by every pipeline stage:
// land records, run state, alerts, and the per-record error shape.
//
// The package is a leaf; it imports nothing from the rest of the module.
package types

import (
	"errors"
	"fmt"
	"time"
)

// SourceSystem identifies the authoritative origin of a record.
type SourceSystem string

// Source system constants. Priority for merging is
// UNIFIED > LAND_AUTHORITY > REVENUE_AUTHORITY > REGISTRY.
const (
	SourceLandAuthority    SourceSystem = "LAND_AUTHORITY"
	SourceRevenueAuthority SourceSystem = "REVENUE_AUTHORITY"
	SourceRegistry         SourceSystem = "REGISTRY"
	SourceUnified          SourceSystem = "UNIFIED"
)

// MergePriority returns the merge precedence for the source system.
// Higher wins. Unknown systems sort below everything.
func (s SourceSystem) MergePriority() int {
	switch s {
	case SourceUnified:
		return 4
	case SourceLandAuthority:
		return 3
	case SourceRevenueAuthority:
		return 2
	case SourceRegistry:
		return 1
	default:
		return 0
	}
}

// LandType classifies the use of a parcel.
type LandType string

// Land type constants.
const (
	LandTypeResidential  LandType = "residential"
	LandTypeCommercial   LandType = "commercial"
	LandTypeAgricultural LandType = "agricultural"
	LandTypeIndustrial   LandType = "industrial"
	LandTypeMixed        LandType = "mixed"
)

// TaxStatus is the parcel's standing with the revenue authority.
type TaxStatus string

// Tax status constants.
const (
	TaxCompliant TaxStatus = "compliant"
	TaxArrears   TaxStatus = "arrears"
	TaxExempt    TaxStatus = "exempt"
	TaxPending   TaxStatus = "pending"
)

// VerificationStatus is the field-verification standing of a record.
type VerificationStatus string

// Verification status constants.
const (
	VerificationVerified VerificationStatus = "verified"
	VerificationPending  VerificationStatus = "pending"
	VerificationDisputed VerificationStatus = "disputed"
)

// Geographic bounds for valid coordinates. Records outside this box are
// rejected at validation.
const (
	MinLatitude  = 6.9
	MaxLatitude  = 10.0
	MinLongitude = -13.5
	MaxLongitude = -10.2
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// InBounds reports whether the point lies inside the configured region.
func (c Coordinates) InBounds() bool {
	return c.Latitude >= MinLatitude && c.Latitude <= MaxLatitude &&
		c.Longitude >= MinLongitude && c.Longitude <= MaxLongitude
}

// Owner holds the primary owner of a parcel. NationalID, Phone, and Email
// are PII: they travel in plaintext through the in-process pipeline and are
// encrypted by the loader before hitting storage.
type Owner struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// PreviousOwner is one entry in a parcel's ownership history.
type PreviousOwner struct {
	Name     string     `json:"name"`
	FromDate time.Time  `json:"from_date"`
	ToDate   *time.Time `json:"to_date,omitempty"`
}

// Structure describes a building on the parcel.
type Structure struct {
	StructureType string `json:"structure_type"`
	YearBuilt     int    `json:"year_built,omitempty"`
	Condition     string `json:"condition,omitempty"`
}

// Dispute is an open or resolved dispute attached to the parcel.
type Dispute struct {
	DisputeType string    `json:"dispute_type"`
	Status      string    `json:"status"`
	FiledDate   time.Time `json:"filed_date"`
}

// LandRecord is the canonical parcel record. One exists per parcel per
// source until the merge stage folds them into a single UNIFIED record.
type LandRecord struct {
	ID           string       `json:"id"`
	ParcelNumber string       `json:"parcel_number"`
	SourceSystem SourceSystem `json:"source_system"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	// Location
	District    string        `json:"district"`
	Chiefdom    string        `json:"chiefdom"`
	Ward        string        `json:"ward,omitempty"`
	Address     string        `json:"address,omitempty"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
	Boundaries  []Coordinates `json:"boundaries,omitempty"`

	// Ownership
	Owner          Owner           `json:"owner"`
	PreviousOwners []PreviousOwner `json:"previous_owners,omitempty"`

	// Property
	LandType   LandType    `json:"land_type"`
	Area       float64     `json:"area"`
	LandUse    string      `json:"land_use,omitempty"`
	Structures []Structure `json:"structures,omitempty"`

	// Valuation
	CurrentValue      float64    `json:"current_value,omitempty"`
	LastValuationDate *time.Time `json:"last_valuation_date,omitempty"`
	TaxAssessment     float64    `json:"tax_assessment,omitempty"`

	// Legal
	TitleDeedNumber string    `json:"title_deed_number,omitempty"`
	Encumbrances    []string  `json:"encumbrances,omitempty"`
	Disputes        []Dispute `json:"disputes,omitempty"`

	// Tax
	TaxStatus       TaxStatus  `json:"tax_status"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	ArrearsAmount   float64    `json:"arrears_amount,omitempty"`

	// Verification
	VerificationStatus   VerificationStatus `json:"verification_status"`
	LastVerificationDate *time.Time         `json:"last_verification_date,omitempty"`
	VerificationMethod   string             `json:"verification_method,omitempty"`

	// Quality score in [0,100], assigned at normalization and merge.
	QualityScore int `json:"quality_score"`
}

// Validation sentinel errors. Use errors.Is for assertions.
var (
	ErrMissingParcelNumber    = errors.New("missing parcel number")
	ErrNonPositiveArea        = errors.New("area must be positive")
	ErrCoordinatesOutOfBounds = errors.New("coordinates outside region bounds")
	ErrDegenerateBoundary     = errors.New("boundary requires at least 3 vertices")
)

// Validate checks the persistence invariants: a parcel number, positive
// area, in-bounds coordinates, and a non-degenerate boundary polygon.
func (r *LandRecord) Validate() error {
	if r.ParcelNumber == "" {
		return ErrMissingParcelNumber
	}
	if r.Area <= 0 {
		return fmt.Errorf("%w: parcel %s has area %v", ErrNonPositiveArea, r.ParcelNumber, r.Area)
	}
	if r.Coordinates != nil && !r.Coordinates.InBounds() {
		return fmt.Errorf("%w: parcel %s at (%v, %v)", ErrCoordinatesOutOfBounds,
			r.ParcelNumber, r.Coordinates.Latitude, r.Coordinates.Longitude)
	}
	if r.Boundaries != nil {
		if len(r.Boundaries) < 3 {
			return fmt.Errorf("%w: parcel %s has %d", ErrDegenerateBoundary, r.ParcelNumber, len(r.Boundaries))
		}
		for _, v := range r.Boundaries {
			if !v.InBounds() {
				return fmt.Errorf("%w: parcel %s boundary vertex (%v, %v)", ErrCoordinatesOutOfBounds,
					r.ParcelNumber, v.Latitude, v.Longitude)
			}
		}
	}
	return nil
}

// RawRecord is the loosely-shaped record handed over by a source adapter
// before normalization. String fields carry whatever the source emitted;
// the normalizer maps them onto the canonical LandRecord.
type RawRecord struct {
	ID           string       `json:"id"`
	ParcelNumber string       `json:"parcel_number"`
	SourceSystem SourceSystem `json:"source_system"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	District    string        `json:"district"`
	Chiefdom    string        `json:"chiefdom"`
	Ward        string        `json:"ward,omitempty"`
	Address     string        `json:"address,omitempty"`
	Coordinates *Coordinates  `json:"coordinates,omitempty"`
	Boundaries  []Coordinates `json:"boundaries,omitempty"`

	Owner          Owner           `json:"owner"`
	PreviousOwners []PreviousOwner `json:"previous_owners,omitempty"`

	// LandType is the source's free-form classification ("HOME", "FARMING", ...).
	LandType   string      `json:"land_type"`
	Area       float64     `json:"area"`
	LandUse    string      `json:"land_use,omitempty"`
	Structures []Structure `json:"structures,omitempty"`

	CurrentValue      float64    `json:"current_value,omitempty"`
	LastValuationDate *time.Time `json:"last_valuation_date,omitempty"`
	TaxAssessment     float64    `json:"tax_assessment,omitempty"`

	TitleDeedNumber string    `json:"title_deed_number,omitempty"`
	Encumbrances    []string  `json:"encumbrances,omitempty"`
	Disputes        []Dispute `json:"disputes,omitempty"`

	TaxStatus       string     `json:"tax_status,omitempty"`
	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
	ArrearsAmount   float64    `json:"arrears_amount,omitempty"`

	VerificationStatus   string     `json:"verification_status,omitempty"`
	LastVerificationDate *time.Time `json:"last_verification_date,omitempty"`
	VerificationMethod   string     `json:"verification_method,omitempty"`
}
