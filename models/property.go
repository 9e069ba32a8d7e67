package models

import "time"

// ListingType is the commercial arrangement a listing is offered under.
type ListingType string

const (
	ListingRent     ListingType = "rent"
	ListingSale     ListingType = "sale"
	ListingShortLet ListingType = "short_let"
)

// ParseListingType maps free text onto a known ListingType.
func ParseListingType(s string) (ListingType, bool) {
	switch ListingType(s) {
	case ListingRent, ListingSale, ListingShortLet:
		return ListingType(s), true
	}
	switch s {
	case "for rent", "to let", "let", "lease":
		return ListingRent, true
	case "for sale", "buy":
		return ListingSale, true
	case "short-let", "shortlet", "short let":
		return ListingShortLet, true
	}
	return "", false
}

// PropertyStatus is the moderation state of a canonical property.
type PropertyStatus string

const (
	PropertyDraft    PropertyStatus = "draft"
	PropertyPending  PropertyStatus = "pending"
	PropertyApproved PropertyStatus = "approved"
	PropertyRejected PropertyStatus = "rejected"
	PropertyArchived PropertyStatus = "archived"
)

// Property is a canonical listing owned by the reference store.
// The valuation fields are derived and written only by the valuation sweep.
type Property struct {
	ID           int64
	Title        string
	ListingType  ListingType
	PropertyType string
	StateID      int64
	CityID       int64
	AreaID       int64
	Latitude     *float64
	Longitude    *float64
	Bedrooms     int
	Bathrooms    int
	FloorAreaSqm *float64
	PriceKobo    int64
	Furnishing   string
	Amenities    []string
	Status       PropertyStatus
	PublishedAt  *time.Time

	EstimatedValueKobo  *int64
	ValuationConfidence *float64
	ComparableCount     int
	PriceRangeLowKobo   *int64
	PriceRangeHighKobo  *int64
	LastValuedAt        *time.Time
}

// HasEstimate reports whether the computed valuation fields are populated.
func (p *Property) HasEstimate() bool {
	return p.EstimatedValueKobo != nil
}

// AncerEstimate returns the outward estimate object, or nil when the
// property carries no estimate.
func (p *Property) AncerEstimate() *AncerEstimate {
	if p.EstimatedValueKobo == nil || p.ValuationConfidence == nil {
		return nil
	}
	est := &AncerEstimate{
		EstimateKobo:    *p.EstimatedValueKobo,
		Confidence:      *p.ValuationConfidence,
		ComparableCount: p.ComparableCount,
	}
	if p.PriceRangeLowKobo != nil {
		est.PriceRange.LowKobo = *p.PriceRangeLowKobo
	}
	if p.PriceRangeHighKobo != nil {
		est.PriceRange.HighKobo = *p.PriceRangeHighKobo
	}
	return est
}
