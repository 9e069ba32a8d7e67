package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"ancer-engine/config"
	"ancer-engine/models"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

// candidateFetchFactor bounds how many raw candidates one scope query may
// return relative to the number of comparables kept.
const candidateFetchFactor = 10

// Similarity weights of the valuation score. Unknown components drop out
// and the rest are renormalised.
const (
	weightLocation  = 0.35
	weightBedrooms  = 0.25
	weightFloorArea = 0.20
	weightAmenities = 0.20
)

// Location scores by how close a candidate sits to the target.
var locationScore = map[models.LocationLevel]float64{
	models.LevelArea:  1.0,
	models.LevelCity:  0.6,
	models.LevelState: 0.3,
}

// SelectorStore is what the selector reads.
type SelectorStore interface {
	storage.PropertyReader
	storage.ExternalPriceReader
}

// ListingTarget is the dedup variant of a selection target: what is known
// about a scraped listing after location and type resolution.
type ListingTarget struct {
	ListingType  models.ListingType
	PropertyType string
	Location     models.ResolvedLocation
	Bedrooms     *int
	PriceKobo    *int64
}

// Selector retrieves and scores comparable listings.
type Selector struct {
	store  SelectorStore
	types  *TypeMapper
	cfg    config.SelectorConfig
	dedup  config.DedupConfig
	clock  utils.Clock
	logger *utils.Logger
}

// NewSelector creates a Selector.
func NewSelector(store SelectorStore, types *TypeMapper, cfg *config.Config, clock utils.Clock, logger *utils.Logger) *Selector {
	return &Selector{
		store:  store,
		types:  types,
		cfg:    cfg.Selector,
		dedup:  cfg.Dedup,
		clock:  clock,
		logger: logger,
	}
}

type scope struct {
	level models.LocationLevel
	id    int64
}

// Select builds the comparable set for a valuation target. The pool starts
// at the target's area and widens to city, then state, until it holds at
// least MinPoolSize candidates. An empty set is a valid result.
func (s *Selector) Select(ctx context.Context, t models.ValuationTarget) (models.ComparableSet, error) {
	now := s.clock.Now()
	since := now.AddDate(0, -s.cfg.WindowMonths, 0)

	minBed := t.Bedrooms - s.cfg.BedroomSpread
	if minBed < 0 {
		minBed = 0
	}
	maxBed := t.Bedrooms + s.cfg.BedroomSpread

	var types []string
	if t.PropertyType != "" {
		types = s.types.Equivalents(t.PropertyType)
	}

	var candidates []models.Property
	for _, sc := range []scope{
		{models.LevelArea, t.AreaID},
		{models.LevelCity, t.CityID},
		{models.LevelState, t.StateID},
	} {
		if sc.id == 0 {
			continue
		}
		found, err := s.store.FindComparableProperties(ctx, storage.PropertyQuery{
			ListingType:    t.ListingType,
			PropertyTypes:  types,
			Level:          sc.level,
			LocationID:     sc.id,
			MinBedrooms:    &minBed,
			MaxBedrooms:    &maxBed,
			PublishedSince: &since,
			ExcludeID:      t.PropertyID,
			NearAreaID:     t.AreaID,
			NearCityID:     t.CityID,
			Limit:          s.cfg.MaxComparables * candidateFetchFactor,
		})
		if err != nil {
			return nil, fmt.Errorf("selector: %s candidates: %w", sc.level, err)
		}
		candidates = found
		if len(found) >= s.cfg.MinPoolSize {
			break
		}
		s.logger.Debug("[selector] property %d: %d candidates at %s level, widening",
			t.PropertyID, len(found), sc.level)
	}

	set := make(models.ComparableSet, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if p.ID == t.PropertyID || p.PriceKobo <= 0 {
			continue
		}
		level := relation(t, p)
		if level == models.LevelUnresolved {
			continue
		}
		score := s.Similarity(t, p)
		if score < s.cfg.MinScore {
			continue
		}
		set = append(set, models.Comparable{
			Source:       models.SourceProperty,
			RecordID:     p.ID,
			PriceKobo:    p.PriceKobo,
			FloorAreaSqm: p.FloorAreaSqm,
			ObservedAt:   *p.PublishedAt,
			Level:        level,
			Similarity:   score,
			Recency:      s.Recency(*p.PublishedAt, now),
			Trust:        s.trust(level),
		})
	}
	sortComparables(set)
	if len(set) > s.cfg.MaxComparables {
		set = set[:s.cfg.MaxComparables]
	}

	if len(set) < s.cfg.MinPoolSize && t.AreaID != 0 {
		external, err := s.externalComparables(ctx, t, types, since, now, s.cfg.MaxComparables-len(set))
		if err != nil {
			return nil, err
		}
		set = append(set, external...)
	}
	return set, nil
}

func (s *Selector) externalComparables(ctx context.Context, t models.ValuationTarget, types []string, since, now time.Time, room int) (models.ComparableSet, error) {
	if room <= 0 {
		return nil, nil
	}
	bedrooms := t.Bedrooms
	rows, err := s.store.FindExternalPrices(ctx, storage.ExternalPriceQuery{
		AreaID:        t.AreaID,
		ListingType:   t.ListingType,
		PropertyTypes: types,
		Bedrooms:      &bedrooms,
		Since:         &since,
		Limit:         room,
	})
	if err != nil {
		return nil, fmt.Errorf("selector: external prices: %w", err)
	}

	out := make(models.ComparableSet, 0, len(rows))
	for _, r := range rows {
		if r.PriceKobo <= 0 {
			continue
		}
		out = append(out, models.Comparable{
			Source:     models.SourceExternal,
			RecordID:   r.ID,
			PriceKobo:  r.PriceKobo,
			ObservedAt: r.DataDate,
			Level:      models.LevelArea,
			Similarity: s.cfg.ExternalScore,
			Recency:    s.Recency(r.DataDate, now),
			Trust:      s.cfg.ExternalTrust,
		})
	}
	if len(out) > 0 {
		s.logger.Debug("[selector] property %d: topped up with %d external price rows", t.PropertyID, len(out))
	}
	return out, nil
}

// SelectListingCandidates is the dedup variant: canonical properties that
// could be the same listing as a scraped one. Unresolved locations yield
// no candidates.
func (s *Selector) SelectListingCandidates(ctx context.Context, t ListingTarget) ([]models.Property, error) {
	q := storage.PropertyQuery{
		ListingType: t.ListingType,
		Limit:       s.dedup.CandidateLimit,
	}
	switch t.Location.Level {
	case models.LevelArea:
		q.Level, q.LocationID = models.LevelArea, t.Location.AreaID
	case models.LevelCity:
		q.Level, q.LocationID = models.LevelCity, t.Location.CityID
	default:
		return nil, nil
	}
	if t.PropertyType != "" {
		q.PropertyTypes = s.types.Equivalents(t.PropertyType)
	}
	if t.Bedrooms != nil {
		minBed, maxBed := *t.Bedrooms-1, *t.Bedrooms+1
		if minBed < 0 {
			minBed = 0
		}
		q.MinBedrooms, q.MaxBedrooms = &minBed, &maxBed
	}
	if t.PriceKobo != nil && *t.PriceKobo > 0 {
		p := float64(*t.PriceKobo)
		lo := int64(math.Floor(p * (1 - s.dedup.PriceBand)))
		hi := int64(math.Ceil(p * (1 + s.dedup.PriceBand)))
		q.MinPriceKobo, q.MaxPriceKobo = &lo, &hi
		q.NearPriceKobo = *t.PriceKobo
	}

	found, err := s.store.FindComparableProperties(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("selector: listing candidates: %w", err)
	}
	return found, nil
}

// Similarity scores a candidate property against a valuation target in
// [0,1]. Cross-state candidates score 0.
func (s *Selector) Similarity(t models.ValuationTarget, p *models.Property) float64 {
	loc, ok := locationScore[relation(t, p)]
	if !ok {
		return 0
	}
	sum := weightLocation * loc
	total := weightLocation

	sum += weightBedrooms * bedroomCloseness(t.Bedrooms, p.Bedrooms)
	total += weightBedrooms

	if fa, ok := floorAreaCloseness(t.FloorAreaSqm, p.FloorAreaSqm); ok {
		sum += weightFloorArea * fa
		total += weightFloorArea
	}

	ta, pa := stringSet(t.Amenities), stringSet(p.Amenities)
	if len(ta) > 0 || len(pa) > 0 {
		sum += weightAmenities * jaccard(ta, pa)
		total += weightAmenities
	}

	score := sum / total
	if t.Furnishing != "" && foldText(t.Furnishing) == foldText(p.Furnishing) {
		score += s.cfg.FurnishingBonus
	}
	return clamp01(score)
}

// Recency is the exponential decay multiplier of an observation with the
// configured half-life. Future dates count as fresh.
func (s *Selector) Recency(at, now time.Time) float64 {
	age := now.Sub(at).Hours() / 24
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, age/s.cfg.HalfLifeDays)
}

func (s *Selector) trust(level models.LocationLevel) float64 {
	switch level {
	case models.LevelCity:
		return s.cfg.CityTrust
	case models.LevelState:
		return s.cfg.StateTrust
	}
	return 1
}

// relation is the finest location level a target and candidate share.
func relation(t models.ValuationTarget, p *models.Property) models.LocationLevel {
	switch {
	case t.AreaID != 0 && p.AreaID == t.AreaID:
		return models.LevelArea
	case t.CityID != 0 && p.CityID == t.CityID:
		return models.LevelCity
	case t.StateID != 0 && p.StateID == t.StateID:
		return models.LevelState
	}
	return models.LevelUnresolved
}

func bedroomCloseness(a, b int) float64 {
	d := a - b
	if d < 0 {
		d = -d
	}
	if d > 3 {
		d = 3
	}
	return 1 - float64(d)/3
}

func floorAreaCloseness(a, b *float64) (float64, bool) {
	if a == nil || b == nil || *a <= 0 || *b <= 0 {
		return 0, false
	}
	return 1 - math.Min(math.Abs(math.Log(*a / *b)), 1), true
}

// sortComparables orders best first; ties fall back to recency then id so
// identical inputs always produce identical sets.
func sortComparables(set models.ComparableSet) {
	sort.SliceStable(set, func(i, j int) bool {
		a, b := set[i], set[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Recency != b.Recency {
			return a.Recency > b.Recency
		}
		return a.RecordID < b.RecordID
	})
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
