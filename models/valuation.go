package models

import "time"

// ComparableSource distinguishes internal listings from market data rows.
type ComparableSource uint8

const (
	SourceProperty ComparableSource = iota
	SourceExternal
)

func (s ComparableSource) String() string {
	if s == SourceExternal {
		return "external"
	}
	return "property"
}

// Comparable is one piece of evidence for a valuation.
type Comparable struct {
	Source       ComparableSource
	RecordID     int64
	PriceKobo    int64
	FloorAreaSqm *float64
	ObservedAt   time.Time
	Level        LocationLevel

	// Similarity is the [0,1] attribute score.
	Similarity float64
	// Recency is the time-decay multiplier, kept apart from Similarity.
	Recency float64
	// Trust discounts widened-scope and external comparables.
	Trust float64
}

// Weight is the aggregation weight of the comparable.
func (c Comparable) Weight() float64 {
	return c.Similarity * c.Recency * c.Trust
}

// ComparableSet is the ordered result of one selection; best first.
type ComparableSet []Comparable

// InternalCount returns how many comparables came from canonical listings.
func (s ComparableSet) InternalCount() int {
	n := 0
	for _, c := range s {
		if c.Source == SourceProperty {
			n++
		}
	}
	return n
}

// ValuationTarget is what the selector searches comparables for.
type ValuationTarget struct {
	PropertyID   int64
	ListingType  ListingType
	PropertyType string
	StateID      int64
	CityID       int64
	AreaID       int64
	Bedrooms     int
	Bathrooms    int
	FloorAreaSqm *float64
	Furnishing   string
	Amenities    []string
}

// TargetFromProperty builds a valuation target; the property's own price is
// not carried over.
func TargetFromProperty(p *Property) ValuationTarget {
	return ValuationTarget{
		PropertyID:   p.ID,
		ListingType:  p.ListingType,
		PropertyType: p.PropertyType,
		StateID:      p.StateID,
		CityID:       p.CityID,
		AreaID:       p.AreaID,
		Bedrooms:     p.Bedrooms,
		Bathrooms:    p.Bathrooms,
		FloorAreaSqm: p.FloorAreaSqm,
		Furnishing:   p.Furnishing,
		Amenities:    p.Amenities,
	}
}

// Valuation is a point-in-time estimate. Two runs over different candidate
// pools may disagree.
type Valuation struct {
	EstimateKobo    int64
	LowKobo         int64
	HighKobo        int64
	Confidence      float64
	ComparableCount int
}

// PriceRange is the serialised estimate band.
type PriceRange struct {
	LowKobo  int64 `json:"low_kobo"`
	HighKobo int64 `json:"high_kobo"`
}

// AncerEstimate is the estimate object surfaced on property reads.
type AncerEstimate struct {
	EstimateKobo    int64      `json:"estimate_kobo"`
	Confidence      float64    `json:"confidence"`
	PriceRange      PriceRange `json:"price_range"`
	ComparableCount int        `json:"comparable_count"`
}

// ToAncerEstimate converts a valuation into its outward shape.
func (v Valuation) ToAncerEstimate() *AncerEstimate {
	return &AncerEstimate{
		EstimateKobo:    v.EstimateKobo,
		Confidence:      v.Confidence,
		PriceRange:      PriceRange{LowKobo: v.LowKobo, HighKobo: v.HighKobo},
		ComparableCount: v.ComparableCount,
	}
}

// ValuationUpdate is the atomic write of a property's computed fields.
// A nil Valuation clears every computed field, last_valued_at included.
type ValuationUpdate struct {
	PropertyID int64
	Valuation  *Valuation
	ValuedAt   time.Time
}
