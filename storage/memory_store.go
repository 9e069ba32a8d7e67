package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ancer-engine/models"
)

// MemoryStore is an in-process ReferenceStore. It backs the service tests
// and local dry runs against fixture data.
type MemoryStore struct {
	mu         sync.RWMutex
	cities     map[int64]models.City
	areas      map[int64]models.Area
	properties map[int64]*models.Property
	external   []models.ExternalPriceData
	scraped    map[int64]*models.ScrapedListing
	writes     int

	// Fail, when set, is consulted before every operation; a non-nil
	// return is handed back to the caller instead of running it.
	Fail func(op string, id int64) error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cities:     make(map[int64]models.City),
		areas:      make(map[int64]models.Area),
		properties: make(map[int64]*models.Property),
		scraped:    make(map[int64]*models.ScrapedListing),
	}
}

// PutCity adds or replaces a city.
func (m *MemoryStore) PutCity(c models.City) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities[c.ID] = c
}

// PutArea adds or replaces an area.
func (m *MemoryStore) PutArea(a models.Area) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.areas[a.ID] = a
}

// PutProperty adds or replaces a property.
func (m *MemoryStore) PutProperty(p models.Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.properties[p.ID] = &cp
}

// PutScrapedListing adds or replaces a scraped listing.
func (m *MemoryStore) PutScrapedListing(l models.ScrapedListing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := l
	m.scraped[l.ID] = &cp
}

// ExternalPrices returns a copy of every stored market data row.
func (m *MemoryStore) ExternalPrices() []models.ExternalPriceData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ExternalPriceData(nil), m.external...)
}

// Writes counts successful mutating calls.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) fail(op string, id int64) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op, id)
}

func (m *MemoryStore) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	if err := m.fail("GetProperty", id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, fmt.Errorf("memory: property %d: %w", id, models.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListApprovedProperties(ctx context.Context, afterID int64, limit int) ([]models.Property, error) {
	if err := m.fail("ListApprovedProperties", afterID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Property
	for _, id := range m.sortedPropertyIDs() {
		p := m.properties[id]
		if id <= afterID || p.Status != models.PropertyApproved {
			continue
		}
		out = append(out, *p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) FindComparableProperties(ctx context.Context, q PropertyQuery) ([]models.Property, error) {
	if err := m.fail("FindComparableProperties", q.ExcludeID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Property
	for _, id := range m.sortedPropertyIDs() {
		p := m.properties[id]
		if matchesPropertyQuery(p, q) {
			out = append(out, *p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := proximityRank(&out[i], q), proximityRank(&out[j], q); ri != rj {
			return ri < rj
		}
		if q.NearPriceKobo != 0 {
			di, dj := absInt64(out[i].PriceKobo-q.NearPriceKobo), absInt64(out[j].PriceKobo-q.NearPriceKobo)
			if di != dj {
				return di < dj
			}
		}
		a, b := out[i].PublishedAt, out[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// proximityRank is 0 for rows in the query's near area, 1 for its near
// city and 2 otherwise.
func proximityRank(p *models.Property, q PropertyQuery) int {
	switch {
	case q.NearAreaID != 0 && p.AreaID == q.NearAreaID:
		return 0
	case q.NearCityID != 0 && p.CityID == q.NearCityID:
		return 1
	}
	return 2
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

func matchesPropertyQuery(p *models.Property, q PropertyQuery) bool {
	if p.Status != models.PropertyApproved {
		return false
	}
	if q.ListingType != "" && p.ListingType != q.ListingType {
		return false
	}
	if len(q.PropertyTypes) > 0 && !containsString(q.PropertyTypes, p.PropertyType) {
		return false
	}
	switch q.Level {
	case models.LevelArea:
		if p.AreaID != q.LocationID {
			return false
		}
	case models.LevelCity:
		if p.CityID != q.LocationID {
			return false
		}
	case models.LevelState:
		if p.StateID != q.LocationID {
			return false
		}
	}
	if q.MinBedrooms != nil && p.Bedrooms < *q.MinBedrooms {
		return false
	}
	if q.MaxBedrooms != nil && p.Bedrooms > *q.MaxBedrooms {
		return false
	}
	if q.MinPriceKobo != nil && p.PriceKobo < *q.MinPriceKobo {
		return false
	}
	if q.MaxPriceKobo != nil && p.PriceKobo > *q.MaxPriceKobo {
		return false
	}
	if q.PublishedSince != nil && (p.PublishedAt == nil || p.PublishedAt.Before(*q.PublishedSince)) {
		return false
	}
	if q.ExcludeID != 0 && p.ID == q.ExcludeID {
		return false
	}
	return true
}

func (m *MemoryStore) ListAreas(ctx context.Context) ([]models.Area, error) {
	if err := m.fail("ListAreas", 0); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Area, 0, len(m.areas))
	for _, a := range m.areas {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListCities(ctx context.Context) ([]models.City, error) {
	if err := m.fail("ListCities", 0); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.City, 0, len(m.cities))
	for _, c := range m.cities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) FindExternalPrices(ctx context.Context, q ExternalPriceQuery) ([]models.ExternalPriceData, error) {
	if err := m.fail("FindExternalPrices", q.AreaID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ExternalPriceData
	for _, e := range m.external {
		if e.AreaID != q.AreaID {
			continue
		}
		if q.ListingType != "" && e.ListingType != q.ListingType {
			continue
		}
		if len(q.PropertyTypes) > 0 && !containsString(q.PropertyTypes, e.PropertyType) {
			continue
		}
		if q.Bedrooms != nil && e.Bedrooms != nil && *e.Bedrooms != *q.Bedrooms {
			continue
		}
		if q.Since != nil && e.DataDate.Before(*q.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DataDate.Equal(out[j].DataDate) {
			return out[i].DataDate.After(out[j].DataDate)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertExternalPrices(ctx context.Context, rows []models.ExternalPriceData) (int, error) {
	if err := m.fail("InsertExternalPrices", 0); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, r := range rows {
		if m.hasExternal(r) {
			continue
		}
		r.ID = int64(len(m.external) + 1)
		m.external = append(m.external, r)
		inserted++
	}
	if inserted > 0 {
		m.writes++
	}
	return inserted, nil
}

func (m *MemoryStore) hasExternal(r models.ExternalPriceData) bool {
	for _, e := range m.external {
		if e.Source == r.Source && e.AreaID == r.AreaID && e.PropertyType == r.PropertyType &&
			e.ListingType == r.ListingType && e.PriceKobo == r.PriceKobo &&
			e.DataDate.Equal(r.DataDate) && equalIntPtr(e.Bedrooms, r.Bedrooms) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) SaveValuation(ctx context.Context, u models.ValuationUpdate) error {
	if err := m.fail("SaveValuation", u.PropertyID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.properties[u.PropertyID]
	if !ok {
		return fmt.Errorf("memory: property %d: %w", u.PropertyID, models.ErrNotFound)
	}
	if v := u.Valuation; v != nil {
		est, low, high, conf := v.EstimateKobo, v.LowKobo, v.HighKobo, v.Confidence
		p.EstimatedValueKobo, p.PriceRangeLowKobo, p.PriceRangeHighKobo = &est, &low, &high
		p.ValuationConfidence = &conf
		p.ComparableCount = v.ComparableCount
		at := u.ValuedAt
		p.LastValuedAt = &at
	} else {
		p.EstimatedValueKobo, p.PriceRangeLowKobo, p.PriceRangeHighKobo = nil, nil, nil
		p.ValuationConfidence = nil
		p.ComparableCount = 0
		p.LastValuedAt = nil
	}
	m.writes++
	return nil
}

func (m *MemoryStore) GetScrapedListing(ctx context.Context, id int64) (*models.ScrapedListing, error) {
	if err := m.fail("GetScrapedListing", id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.scraped[id]
	if !ok {
		return nil, fmt.Errorf("memory: scraped listing %d: %w", id, models.ErrNotFound)
	}
	cp := *l
	return &cp, nil
}

func (m *MemoryStore) ListPendingListings(ctx context.Context, afterID int64, limit int) ([]models.ScrapedListing, error) {
	if err := m.fail("ListPendingListings", afterID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.scraped))
	for id := range m.scraped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.ScrapedListing
	for _, id := range ids {
		l := m.scraped[id]
		if id <= afterID || l.Status != models.StatusPending {
			continue
		}
		out = append(out, *l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) TransitionListing(ctx context.Context, t models.ListingTransition) error {
	if err := m.fail("TransitionListing", t.ListingID); err != nil {
		return err
	}
	if !models.StatusPending.CanTransition(t.To) {
		return fmt.Errorf("memory: transition to %s: %w", t.To, models.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.scraped[t.ListingID]
	if !ok || l.Status != models.StatusPending {
		return fmt.Errorf("memory: transition listing %d: %w", t.ListingID, models.ErrConcurrencyConflict)
	}
	l.Status = t.To
	l.DedupScore = t.DedupScore
	l.MatchedPropertyID = t.MatchedPropertyID
	l.RejectionReason = t.RejectionReason
	m.writes++
	return nil
}

func (m *MemoryStore) RecordDedupScore(ctx context.Context, listingID int64, score *float64) error {
	if err := m.fail("RecordDedupScore", listingID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.scraped[listingID]
	if !ok || l.Status != models.StatusPending {
		return fmt.Errorf("memory: record dedup score %d: %w", listingID, models.ErrConcurrencyConflict)
	}
	l.DedupScore = score
	m.writes++
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) sortedPropertyIDs() []int64 {
	ids := make([]int64, 0, len(m.properties))
	for id := range m.properties {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
