package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ancer-engine/models"
)

func lekkiTarget() models.ValuationTarget {
	return models.ValuationTarget{
		PropertyID:   1,
		ListingType:  models.ListingRent,
		PropertyType: "flat-apartment",
		StateID:      stateLagos,
		CityID:       cityLagos,
		AreaID:       areaLekki,
		Bedrooms:     3,
	}
}

func TestSelectorUsesAreaPoolWhenLargeEnough(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(1, 300_000_000, 5))
	store.PutProperty(lekkiFlat(2, 310_000_000, 10))
	store.PutProperty(lekkiFlat(3, 290_000_000, 20))
	store.PutProperty(lekkiFlat(4, 305_000_000, 30))
	ikoyi := lekkiFlat(5, 500_000_000, 1)
	ikoyi.AreaID = areaIkoyi
	store.PutProperty(ikoyi)

	set, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	require.NoError(t, err)

	require.Len(t, set, 3)
	for _, c := range set {
		assert.NotEqual(t, int64(1), c.RecordID, "target never compares against itself")
		assert.NotEqual(t, int64(5), c.RecordID, "area pool was large enough")
		assert.Equal(t, models.LevelArea, c.Level)
		assert.Equal(t, 1.0, c.Trust)
		assert.Equal(t, models.SourceProperty, c.Source)
	}
	// Equal similarity falls back to recency.
	assert.Equal(t, []int64{2, 3, 4}, []int64{set[0].RecordID, set[1].RecordID, set[2].RecordID})
}

func TestSelectorWidensToCityWithLowerTrust(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 300_000_000, 10))
	for i, id := range []int64{3, 4} {
		p := lekkiFlat(id, 280_000_000, 15+i)
		p.AreaID = areaIkoyi
		store.PutProperty(p)
	}
	abuja := lekkiFlat(9, 300_000_000, 3)
	abuja.StateID, abuja.CityID, abuja.AreaID = stateFCT, cityAbuja, areaWuse
	store.PutProperty(abuja)

	set, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	require.NoError(t, err)

	require.Len(t, set, 3)
	assert.Equal(t, int64(2), set[0].RecordID, "same-area comparable scores highest")
	assert.Equal(t, models.LevelArea, set[0].Level)
	for _, c := range set[1:] {
		assert.Equal(t, models.LevelCity, c.Level)
		assert.Equal(t, 0.85, c.Trust)
		assert.Less(t, c.Similarity, set[0].Similarity)
	}
	for _, c := range set {
		assert.NotEqual(t, int64(9), c.RecordID, "cross-state listings are never comparables")
	}
}

func TestSelectorKeepsNearbyCandidatesWhenWideningPastFetchCap(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 300_000_000, 200))
	store.PutProperty(lekkiFlat(3, 300_000_000, 210))
	for i := 0; i < 130; i++ {
		p := lekkiFlat(int64(100+i), 300_000_000, 1+i%30)
		p.CityID, p.AreaID = cityLagos+1, 110
		store.PutProperty(p)
	}

	set, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	require.NoError(t, err)

	var ids []int64
	for _, c := range set {
		ids = append(ids, c.RecordID)
	}
	assert.Contains(t, ids, int64(2))
	assert.Contains(t, ids, int64(3))
	assert.Equal(t, int64(2), set[0].RecordID, "same-area comparable ranks first")
}

func TestSelectorAppliesWindowAndBedroomBand(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 300_000_000, 400))
	fiveBed := lekkiFlat(3, 600_000_000, 10)
	fiveBed.Bedrooms = 5
	store.PutProperty(fiveBed)
	sale := lekkiFlat(4, 300_000_000, 10)
	sale.ListingType = models.ListingSale
	store.PutProperty(sale)
	draft := lekkiFlat(5, 300_000_000, 10)
	draft.Status = models.PropertyPending
	store.PutProperty(draft)

	set, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestSelectorFallsBackToExternalData(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 300_000_000, 10))
	_, err := store.InsertExternalPrices(context.Background(), []models.ExternalPriceData{
		{Source: SourceCSV, AreaID: areaLekki, PropertyType: "flat-apartment", Bedrooms: intp(3),
			PriceKobo: 250_000_000, ListingType: models.ListingRent, DataDate: testNow.AddDate(0, -1, 0), Quality: models.QualityMedium},
		{Source: SourceCSV, AreaID: areaLekki, PropertyType: "flat-apartment",
			PriceKobo: 260_000_000, ListingType: models.ListingRent, DataDate: testNow.AddDate(0, -2, 0), Quality: models.QualityMedium},
		{Source: SourceCSV, AreaID: areaLekki, PropertyType: "flat-apartment", Bedrooms: intp(1),
			PriceKobo: 90_000_000, ListingType: models.ListingRent, DataDate: testNow.AddDate(0, -1, 0), Quality: models.QualityMedium},
		{Source: SourceCSV, AreaID: areaLekki, PropertyType: "flat-apartment", Bedrooms: intp(3),
			PriceKobo: 200_000_000, ListingType: models.ListingRent, DataDate: testNow.AddDate(-2, 0, 0), Quality: models.QualityMedium},
	})
	require.NoError(t, err)

	set, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	require.NoError(t, err)

	require.Len(t, set, 3)
	assert.Equal(t, 1, set.InternalCount())
	assert.Equal(t, models.SourceProperty, set[0].Source)
	for _, c := range set[1:] {
		assert.Equal(t, models.SourceExternal, c.Source)
		assert.Equal(t, 0.4, c.Similarity)
		assert.Equal(t, 0.5, c.Trust)
	}
	assert.Equal(t, int64(250_000_000), set[1].PriceKobo, "newest external row first")
	assert.Equal(t, int64(260_000_000), set[2].PriceKobo, "rows without bedrooms still qualify")
}

func TestSelectorPropagatesStoreErrors(t *testing.T) {
	store := newTestStore()
	store.Fail = func(op string, id int64) error { return models.ErrInfrastructure }

	_, err := newTestSelector(t, store).Select(context.Background(), lekkiTarget())
	assert.True(t, errors.Is(err, models.ErrInfrastructure))
}

func TestSelectorSimilarity(t *testing.T) {
	s := newTestSelector(t, newTestStore())
	target := lekkiTarget()

	same := lekkiFlat(2, 300_000_000, 10)
	assert.InDelta(t, 1.0, s.Similarity(target, &same), 1e-9)

	nearby := lekkiFlat(3, 300_000_000, 10)
	nearby.AreaID = areaIkoyi
	nearby.Bedrooms = 2
	want := (0.35*0.6 + 0.25*(2.0/3.0)) / 0.6
	assert.InDelta(t, want, s.Similarity(target, &nearby), 1e-9)

	far := lekkiFlat(4, 300_000_000, 10)
	far.StateID, far.CityID, far.AreaID = stateFCT, cityAbuja, areaWuse
	assert.Zero(t, s.Similarity(target, &far))
}

func TestSelectorSimilarityFloorAreaAndAmenities(t *testing.T) {
	s := newTestSelector(t, newTestStore())
	target := lekkiTarget()
	target.FloorAreaSqm = sqm(100)
	target.Amenities = []string{"Pool", "Gym"}
	target.Furnishing = "furnished"

	p := lekkiFlat(2, 300_000_000, 10)
	p.FloorAreaSqm = sqm(100 * math.E)
	p.Amenities = []string{"pool", "generator"}
	p.Furnishing = "Furnished"

	// location 1, bedrooms 1, floor area 0, amenities 1/3, plus furnishing.
	want := (0.35+0.25+0.2*(1.0/3.0))/1.0 + 0.1
	assert.InDelta(t, want, s.Similarity(target, &p), 1e-9)
}

func TestSelectorRecency(t *testing.T) {
	s := newTestSelector(t, newTestStore())

	assert.InDelta(t, 1.0, s.Recency(testNow, testNow), 1e-9)
	assert.InDelta(t, 0.5, s.Recency(testNow.Add(-90*24*time.Hour), testNow), 1e-9)
	assert.InDelta(t, 0.25, s.Recency(testNow.Add(-180*24*time.Hour), testNow), 1e-9)
	assert.Equal(t, 1.0, s.Recency(testNow.Add(time.Hour), testNow))
}

func TestSelectListingCandidates(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 310_000_000, 10))
	store.PutProperty(lekkiFlat(3, 500_000_000, 10))
	duplex := lekkiFlat(4, 300_000_000, 10)
	duplex.PropertyType = "detached-duplex"
	store.PutProperty(duplex)
	mini := lekkiFlat(5, 290_000_000, 10)
	mini.PropertyType = "mini-flat"
	store.PutProperty(mini)

	s := newTestSelector(t, store)
	found, err := s.SelectListingCandidates(context.Background(), ListingTarget{
		ListingType:  models.ListingRent,
		PropertyType: "flat-apartment",
		Location:     models.ResolvedLocation{Level: models.LevelArea, AreaID: areaLekki, CityID: cityLagos, StateID: stateLagos},
		Bedrooms:     intp(3),
		PriceKobo:    kobo(300_000_000),
	})
	require.NoError(t, err)

	ids := make([]int64, 0, len(found))
	for _, p := range found {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []int64{2, 5}, ids)

	none, err := s.SelectListingCandidates(context.Background(), ListingTarget{ListingType: models.ListingRent})
	require.NoError(t, err)
	assert.Empty(t, none)
}
