package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ancer-engine/config"
	"ancer-engine/models"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

// testNow is the fixed instant every service test runs at.
var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const (
	stateLagos int64 = 1
	stateFCT   int64 = 2

	cityLagos int64 = 10
	cityAbuja int64 = 20

	areaLekki int64 = 100
	areaIkoyi int64 = 101
	areaYaba  int64 = 102
	areaWuse  int64 = 200
)

func testAreas() []models.Area {
	return []models.Area{
		{ID: areaLekki, CityID: cityLagos, StateID: stateLagos, Name: "Lekki Phase 1", Slug: "lekki-phase-1"},
		{ID: areaIkoyi, CityID: cityLagos, StateID: stateLagos, Name: "Ikoyi", Slug: "ikoyi"},
		{ID: areaYaba, CityID: cityLagos, StateID: stateLagos, Name: "Yaba", Slug: "yaba"},
		{ID: areaWuse, CityID: cityAbuja, StateID: stateFCT, Name: "Wuse 2", Slug: "wuse-2"},
	}
}

func testCities() []models.City {
	return []models.City{
		{ID: cityLagos, StateID: stateLagos, Name: "Lagos", Slug: "lagos"},
		{ID: cityAbuja, StateID: stateFCT, Name: "Abuja", Slug: "abuja"},
	}
}

func newTestTypes(t *testing.T) *TypeMapper {
	t.Helper()
	d, err := config.LoadTypeDictionary("")
	require.NoError(t, err)
	return NewTypeMapper(d)
}

// newTestStore returns a memory store seeded with the location hierarchy.
func newTestStore() *storage.MemoryStore {
	store := storage.NewMemoryStore()
	for _, c := range testCities() {
		store.PutCity(c)
	}
	for _, a := range testAreas() {
		store.PutArea(a)
	}
	return store
}

func newTestScheduler(t *testing.T, store storage.ReferenceStore, tweaks ...func(*config.Config)) *Scheduler {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrency = 2
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	return NewScheduler(store, newTestTypes(t), cfg, utils.FixedClock(testNow), utils.NewNopLogger())
}

func newTestSelector(t *testing.T, store SelectorStore) *Selector {
	t.Helper()
	return NewSelector(store, newTestTypes(t), config.Default(), utils.FixedClock(testNow), utils.NewNopLogger())
}

func daysAgo(n int) *time.Time {
	at := testNow.AddDate(0, 0, -n)
	return &at
}

func sqm(f float64) *float64 { return &f }

func intp(n int) *int { return &n }

func kobo(n int64) *int64 { return &n }

// lekkiFlat is an approved 3-bed rental in Lekki Phase 1.
func lekkiFlat(id int64, priceKobo int64, publishedDaysAgo int) models.Property {
	return models.Property{
		ID:           id,
		Title:        "3 Bedroom Flat, Lekki Phase 1",
		ListingType:  models.ListingRent,
		PropertyType: "flat-apartment",
		StateID:      stateLagos,
		CityID:       cityLagos,
		AreaID:       areaLekki,
		Bedrooms:     3,
		Bathrooms:    3,
		PriceKobo:    priceKobo,
		Status:       models.PropertyApproved,
		PublishedAt:  daysAgo(publishedDaysAgo),
	}
}
