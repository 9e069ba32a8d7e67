package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ancer-engine/models"
)

var propertyColumnNames = []string{
	"id", "title", "listing_type", "property_type", "state_id", "city_id", "area_id",
	"latitude", "longitude", "bedrooms", "bathrooms", "floor_area_sqm", "price_kobo",
	"furnishing", "amenities", "status", "published_at",
	"estimated_value_kobo", "valuation_confidence", "comparable_count",
	"price_range_low_kobo", "price_range_high_kobo", "last_valued_at",
}

var scrapedColumnNames = []string{
	"id", "source", "source_url", "raw_payload", "title", "price_kobo", "location", "bedrooms",
	"property_type", "listing_type", "status", "dedup_score", "matched_property_id",
	"rejection_reason", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewPostgresStoreFromDB(db), mock
}

func TestPostgresGetProperty(t *testing.T) {
	store, mock := newMockStore(t)
	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(propertyColumnNames).AddRow(
			int64(7), "3 Bedroom Flat", "rent", "flat-apartment", int64(1), int64(10), int64(100),
			nil, nil, 3, 3, 120.5, int64(300_000_000),
			"furnished", "{pool,gym}", "approved", published,
			nil, nil, 0,
			nil, nil, nil,
		))

	p, err := store.GetProperty(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.ListingRent, p.ListingType)
	assert.Equal(t, models.PropertyApproved, p.Status)
	assert.Equal(t, []string{"pool", "gym"}, p.Amenities)
	require.NotNil(t, p.FloorAreaSqm)
	assert.Equal(t, 120.5, *p.FloorAreaSqm)
	assert.Nil(t, p.EstimatedValueKobo)
	assert.False(t, p.HasEstimate())
}

func TestPostgresGetPropertyNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM properties WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows(propertyColumnNames))

	_, err := store.GetProperty(context.Background(), 404)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPostgresFindComparablePropertiesBuildsFilters(t *testing.T) {
	store, mock := newMockStore(t)
	minBed, maxBed := 2, 4
	since := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE status = $1 AND listing_type = $2 AND property_type = ANY($3) AND area_id = $4 "+
			"AND bedrooms >= $5 AND bedrooms <= $6 AND published_at >= $7 AND id <> $8 "+
			"ORDER BY published_at DESC NULLS LAST, id LIMIT 120")).
		WithArgs("approved", "rent", sqlmock.AnyArg(), int64(100), int64(2), int64(4), since, int64(1)).
		WillReturnRows(sqlmock.NewRows(propertyColumnNames))

	out, err := store.FindComparableProperties(context.Background(), PropertyQuery{
		ListingType:    models.ListingRent,
		PropertyTypes:  []string{"flat-apartment", "mini-flat"},
		Level:          models.LevelArea,
		LocationID:     100,
		MinBedrooms:    &minBed,
		MaxBedrooms:    &maxBed,
		PublishedSince: &since,
		ExcludeID:      1,
		Limit:          120,
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPostgresFindComparablePropertiesRanksNearestFirst(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE status = $1 AND listing_type = $2 AND state_id = $3 " +
			"ORDER BY (area_id = $4) DESC, (city_id = $5) DESC, published_at DESC NULLS LAST, id LIMIT 120")).
		WithArgs("approved", "rent", int64(1), int64(100), int64(10)).
		WillReturnRows(sqlmock.NewRows(propertyColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta(
		"AND price_kobo <= $4 ORDER BY ABS(price_kobo - $5), published_at DESC NULLS LAST, id LIMIT 50")).
		WithArgs("approved", "rent", int64(100), int64(240_000_000), int64(300_000_000)).
		WillReturnRows(sqlmock.NewRows(propertyColumnNames))

	_, err := store.FindComparableProperties(context.Background(), PropertyQuery{
		ListingType: models.ListingRent,
		Level:       models.LevelState,
		LocationID:  1,
		NearAreaID:  100,
		NearCityID:  10,
		Limit:       120,
	})
	require.NoError(t, err)

	maxPrice := int64(240_000_000)
	_, err = store.FindComparableProperties(context.Background(), PropertyQuery{
		ListingType:   models.ListingRent,
		Level:         models.LevelArea,
		LocationID:    100,
		MaxPriceKobo:  &maxPrice,
		NearPriceKobo: 300_000_000,
		Limit:         50,
	})
	require.NoError(t, err)
}

func TestPostgresSaveValuation(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE properties").
		WithArgs(int64(5), int64(300_000_000), 0.62, 6, int64(255_000_000), int64(345_000_000), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE properties").
		WithArgs(int64(6), nil, nil, 0, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE properties").
		WithArgs(int64(7), nil, nil, 0, nil, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SaveValuation(context.Background(), models.ValuationUpdate{
		PropertyID: 5,
		ValuedAt:   at,
		Valuation: &models.Valuation{
			EstimateKobo: 300_000_000, LowKobo: 255_000_000, HighKobo: 345_000_000,
			Confidence: 0.62, ComparableCount: 6,
		},
	})
	require.NoError(t, err)

	require.NoError(t, store.SaveValuation(context.Background(), models.ValuationUpdate{PropertyID: 6, ValuedAt: at}))

	err = store.SaveValuation(context.Background(), models.ValuationUpdate{PropertyID: 7, ValuedAt: at})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestPostgresTransitionListingIsConditional(t *testing.T) {
	store, mock := newMockStore(t)
	score, matched := 0.91, int64(50)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs(int64(1), "matched", 0.91, int64(50), "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs(int64(1), "matched", 0.91, int64(50), "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tr := models.ListingTransition{ListingID: 1, To: models.StatusMatched, DedupScore: &score, MatchedPropertyID: &matched}
	require.NoError(t, store.TransitionListing(context.Background(), tr))

	err := store.TransitionListing(context.Background(), tr)
	assert.True(t, errors.Is(err, models.ErrConcurrencyConflict))

	err = store.TransitionListing(context.Background(), models.ListingTransition{ListingID: 1, To: models.StatusPending})
	assert.True(t, errors.Is(err, models.ErrValidation), "pending is not a transition target")
}

func TestPostgresRecordDedupScore(t *testing.T) {
	store, mock := newMockStore(t)
	score := 0.66

	mock.ExpectExec(regexp.QuoteMeta("SET dedup_score = $2")).
		WithArgs(int64(3), 0.66).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordDedupScore(context.Background(), 3, &score))
}

func TestPostgresListPendingListings(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' AND id > $1")).
		WithArgs(int64(10), 2).
		WillReturnRows(sqlmock.NewRows(scrapedColumnNames).
			AddRow(int64(11), "propertypro", "https://example.com/11", []byte(`{"a":1}`), "3 Bedroom Flat",
				int64(300_000_000), "Lekki", 3, "flat", "rent", "pending", nil, nil, "", created, created).
			AddRow(int64(12), "nigeriapropertycentre", "https://example.com/12", nil, "Mini flat",
				nil, "Yaba", nil, "", "rent", "pending", 0.6, nil, "", created, created))

	out, err := store.ListPendingListings(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, models.StatusPending, out[0].Status)
	require.NotNil(t, out[0].PriceKobo)
	assert.Equal(t, int64(300_000_000), *out[0].PriceKobo)
	assert.JSONEq(t, `{"a":1}`, string(out[0].RawPayload))

	assert.Nil(t, out[1].PriceKobo)
	assert.Nil(t, out[1].Bedrooms)
	require.NotNil(t, out[1].DedupScore)
	assert.Equal(t, 0.6, *out[1].DedupScore)
}

func TestPostgresInsertExternalPricesCountsNewRows(t *testing.T) {
	store, mock := newMockStore(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	beds := 2

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT ON CONSTRAINT external_price_data_natural_key DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := store.InsertExternalPrices(context.Background(), []models.ExternalPriceData{
		{Source: "csv", AreaID: 100, PropertyType: "flat-apartment", Bedrooms: &beds, PriceKobo: 250_000_000,
			ListingType: models.ListingRent, DataDate: day, Quality: models.QualityMedium},
		{Source: "csv", AreaID: 100, PropertyType: "flat-apartment", PriceKobo: 260_000_000,
			ListingType: models.ListingRent, DataDate: day, Quality: models.QualityMedium},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.InsertExternalPrices(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostgresConnectionErrorsAreInfrastructure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM cities").
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	mock.ExpectQuery("FROM cities").
		WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

	_, err := store.ListCities(context.Background())
	assert.True(t, errors.Is(err, models.ErrInfrastructure))

	_, err = store.ListCities(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrInfrastructure))
}

func TestIsInfrastructure(t *testing.T) {
	assert.True(t, isInfrastructure(sql.ErrConnDone))
	assert.True(t, isInfrastructure(&pq.Error{Code: "53300"}))
	assert.False(t, isInfrastructure(sql.ErrNoRows))
	assert.False(t, isInfrastructure(&pq.Error{Code: "23505"}))
}
