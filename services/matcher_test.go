package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ancer-engine/config"
	"ancer-engine/models"
	"ancer-engine/storage"
)

func newTestMatcher(t *testing.T, store *storage.MemoryStore) *Matcher {
	t.Helper()
	types := newTestTypes(t)
	return NewMatcher(newTestSelector(t, store), types, NewLocationResolver(testAreas(), testCities()), config.Default().Dedup)
}

func lekkiListing(id int64) models.ScrapedListing {
	return models.ScrapedListing{
		ID:          id,
		Source:      "propertypro",
		Title:       "3 Bedroom Flat in Lekki — ₦3,000,000/yr",
		PriceKobo:   kobo(300_000_000),
		Location:    "Lekki",
		ListingType: "rent",
		Status:      models.StatusPending,
	}
}

func TestMatchClearDuplicate(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 310_000_000, 10))

	l := lekkiListing(1)
	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	want := 0.35*(1-10.0/310.0) + 0.25 + 0.15 + 0.25*(4.0/6.0)
	assert.InDelta(t, want, *res.Score, 1e-9)
	assert.Equal(t, models.DecisionMatch, res.Decision)
	require.NotNil(t, res.MatchedPropertyID)
	assert.Equal(t, int64(2), *res.MatchedPropertyID)
	assert.Equal(t, models.LevelArea, res.Location.Level)
}

func TestMatchReviewBand(t *testing.T) {
	store := newTestStore()
	p := lekkiFlat(2, 300_000_000, 10)
	p.Title = "Luxury Apartment Admiralty Way"
	p.Bedrooms = 2
	store.PutProperty(p)

	l := lekkiListing(1)
	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	assert.InDelta(t, 0.35+0.25*0.5+0.15, *res.Score, 1e-9)
	assert.Equal(t, models.DecisionReview, res.Decision)
	assert.Nil(t, res.MatchedPropertyID)
}

func TestMatchLowScoreIsNew(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 330_000_000, 10))

	l := lekkiListing(1)
	l.Title = "Exquisite space in Lekki"
	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	want := (0.35*(1-30.0/330.0) + 0.25*(1.0/8.0)) / 0.75
	assert.InDelta(t, want, *res.Score, 1e-9)
	assert.Equal(t, models.DecisionNew, res.Decision)
	assert.Nil(t, res.MatchedPropertyID)
}

func TestMatchNoCandidatesScoresZero(t *testing.T) {
	store := newTestStore()
	l := lekkiListing(1)

	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	assert.Zero(t, *res.Score)
	assert.Equal(t, models.DecisionNew, res.Decision)
	assert.Zero(t, res.Candidates)
}

func TestMatchUnresolvedLocation(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(2, 310_000_000, 10))

	l := lekkiListing(1)
	l.Location = "Bodija, Ibadan"
	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionUnresolved, res.Decision)
	assert.Nil(t, res.Score)
	assert.Nil(t, res.MatchedPropertyID)
}

func TestMatchTieGoesToLowestID(t *testing.T) {
	store := newTestStore()
	store.PutProperty(lekkiFlat(7, 300_000_000, 10))
	store.PutProperty(lekkiFlat(3, 300_000_000, 10))

	l := lekkiListing(1)
	res, err := newTestMatcher(t, store).Match(context.Background(), &l)
	require.NoError(t, err)

	require.NotNil(t, res.MatchedPropertyID)
	assert.Equal(t, int64(3), *res.MatchedPropertyID)
}

func TestRejectionReason(t *testing.T) {
	ok := lekkiListing(1)
	assert.Empty(t, RejectionReason(&ok))

	noTitle := lekkiListing(2)
	noTitle.Title = "   "
	assert.Equal(t, "missing title", RejectionReason(&noTitle))

	badType := lekkiListing(3)
	badType.ListingType = "auction"
	assert.Contains(t, RejectionReason(&badType), "unknown listing type")

	alias := lekkiListing(4)
	alias.ListingType = "For Rent"
	assert.Empty(t, RejectionReason(&alias))
}
