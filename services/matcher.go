package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"ancer-engine/config"
	"ancer-engine/models"
)

// Listing score weights. Price and bedrooms drop out when the listing does
// not state them.
const (
	matchWeightPrice    = 0.35
	matchWeightBedrooms = 0.25
	matchWeightType     = 0.15
	matchWeightTitle    = 0.25
)

// MatchResult is the dedup verdict for one scraped listing.
type MatchResult struct {
	Decision          models.DedupDecision
	Score             *float64
	MatchedPropertyID *int64
	Location          models.ResolvedLocation
	Candidates        int
}

// listingFeatures is what a scraped listing contributes to scoring.
type listingFeatures struct {
	priceKobo    *int64
	bedrooms     *int
	propertyType string
	tokens       map[string]struct{}
}

// Matcher scores scraped listings against canonical properties.
type Matcher struct {
	selector  *Selector
	types     *TypeMapper
	locations *LocationResolver
	cfg       config.DedupConfig
}

// NewMatcher creates a Matcher over a location snapshot.
func NewMatcher(selector *Selector, types *TypeMapper, locations *LocationResolver, cfg config.DedupConfig) *Matcher {
	return &Matcher{selector: selector, types: types, locations: locations, cfg: cfg}
}

// RejectionReason reports why a listing cannot be processed at all, or ""
// when it can.
func RejectionReason(l *models.ScrapedListing) string {
	if strings.TrimSpace(l.Title) == "" {
		return "missing title"
	}
	if _, ok := models.ParseListingType(strings.ToLower(strings.TrimSpace(l.ListingType))); !ok {
		return fmt.Sprintf("unknown listing type %q", l.ListingType)
	}
	return ""
}

// Match finds the best canonical candidate for a valid listing and decides
// what the sweep should do with it. It never writes.
func (m *Matcher) Match(ctx context.Context, l *models.ScrapedListing) (MatchResult, error) {
	listingType, _ := models.ParseListingType(strings.ToLower(strings.TrimSpace(l.ListingType)))

	loc := m.locations.Resolve(l.Location)
	if !loc.Resolved() {
		return MatchResult{Decision: models.DecisionUnresolved, Location: loc}, nil
	}

	f := m.features(l)
	candidates, err := m.selector.SelectListingCandidates(ctx, ListingTarget{
		ListingType:  listingType,
		PropertyType: f.propertyType,
		Location:     loc,
		Bedrooms:     f.bedrooms,
		PriceKobo:    f.priceKobo,
	})
	if err != nil {
		return MatchResult{}, err
	}

	res := MatchResult{Location: loc, Candidates: len(candidates)}
	best := 0.0
	var bestID int64
	for i := range candidates {
		p := &candidates[i]
		s := m.score(f, p)
		if bestID == 0 || s > best || (s == best && p.ID < bestID) {
			best, bestID = s, p.ID
		}
	}
	res.Score = &best

	switch {
	case bestID != 0 && best >= m.cfg.MatchThreshold:
		res.Decision = models.DecisionMatch
		res.MatchedPropertyID = &bestID
	case bestID != 0 && best >= m.cfg.ReviewThreshold:
		res.Decision = models.DecisionReview
	default:
		res.Decision = models.DecisionNew
	}
	return res, nil
}

func (m *Matcher) features(l *models.ScrapedListing) listingFeatures {
	f := listingFeatures{
		priceKobo: l.PriceKobo,
		bedrooms:  l.Bedrooms,
		tokens:    titleTokens(l.Title),
	}
	if f.priceKobo != nil && *f.priceKobo <= 0 {
		f.priceKobo = nil
	}
	if slug, ok := m.types.Canonical(l.PropertyType); ok {
		f.propertyType = slug
	} else if slug, ok := m.types.Canonical(l.Title); ok {
		f.propertyType = slug
	}
	if f.bedrooms == nil {
		if n, ok := titleBedrooms(l.Title); ok {
			f.bedrooms = &n
		}
	}
	return f
}

// score is the weighted [0,1] likelihood that p is the listing described
// by f.
func (m *Matcher) score(f listingFeatures, p *models.Property) float64 {
	var sum, total float64

	if f.priceKobo != nil && p.PriceKobo > 0 {
		a, b := float64(*f.priceKobo), float64(p.PriceKobo)
		sum += matchWeightPrice * (1 - math.Min(math.Abs(a-b)/math.Max(a, b), 1))
		total += matchWeightPrice
	}

	if f.bedrooms != nil {
		d := *f.bedrooms - p.Bedrooms
		switch {
		case d == 0:
			sum += matchWeightBedrooms
		case d == 1 || d == -1:
			sum += matchWeightBedrooms * 0.5
		}
		total += matchWeightBedrooms
	}

	if m.types.Equivalent(f.propertyType, p.PropertyType) {
		sum += matchWeightType
	}
	total += matchWeightType

	sum += matchWeightTitle * jaccard(f.tokens, titleTokens(p.Title))
	total += matchWeightTitle

	return clamp01(sum / total)
}
