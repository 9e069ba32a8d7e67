package storage

import (
	"context"
	"time"

	"ancer-engine/models"
)

// PropertyQuery declares the filters for a comparable search over approved
// canonical properties. Zero values disable a filter. Results are ranked
// before Limit applies: rows in NearAreaID first, then NearCityID, then by
// distance from NearPriceKobo, then most recently published.
type PropertyQuery struct {
	ListingType    models.ListingType
	PropertyTypes  []string
	Level          models.LocationLevel
	LocationID     int64
	MinBedrooms    *int
	MaxBedrooms    *int
	MinPriceKobo   *int64
	MaxPriceKobo   *int64
	PublishedSince *time.Time
	ExcludeID      int64
	NearAreaID     int64
	NearCityID     int64
	NearPriceKobo  int64
	Limit          int
}

// ExternalPriceQuery declares the filters for market data lookups. Rows
// with a NULL bedroom count match any requested count.
type ExternalPriceQuery struct {
	AreaID        int64
	ListingType   models.ListingType
	PropertyTypes []string
	Bedrooms      *int
	Since         *time.Time
	Limit         int
}

// PropertyReader is read access to canonical properties.
type PropertyReader interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	ListApprovedProperties(ctx context.Context, afterID int64, limit int) ([]models.Property, error)
	FindComparableProperties(ctx context.Context, q PropertyQuery) ([]models.Property, error)
}

// LocationReader is read access to the state/city/area hierarchy.
type LocationReader interface {
	ListAreas(ctx context.Context) ([]models.Area, error)
	ListCities(ctx context.Context) ([]models.City, error)
}

// ExternalPriceReader is read access to ingested market data.
type ExternalPriceReader interface {
	FindExternalPrices(ctx context.Context, q ExternalPriceQuery) ([]models.ExternalPriceData, error)
}

// ExternalPriceWriter appends market data rows. It returns how many rows
// were new.
type ExternalPriceWriter interface {
	InsertExternalPrices(ctx context.Context, rows []models.ExternalPriceData) (int, error)
}

// ValuationWriter persists the computed valuation fields of one property in
// a single write.
type ValuationWriter interface {
	SaveValuation(ctx context.Context, u models.ValuationUpdate) error
}

// ScrapedListingStore reads pending scraped listings and applies
// conditional updates. Both write methods only touch rows still pending and
// return models.ErrConcurrencyConflict otherwise.
type ScrapedListingStore interface {
	GetScrapedListing(ctx context.Context, id int64) (*models.ScrapedListing, error)
	ListPendingListings(ctx context.Context, afterID int64, limit int) ([]models.ScrapedListing, error)
	TransitionListing(ctx context.Context, t models.ListingTransition) error
	RecordDedupScore(ctx context.Context, listingID int64, score *float64) error
}

// ReferenceStore is everything the engine needs from persistence.
type ReferenceStore interface {
	PropertyReader
	LocationReader
	ExternalPriceReader
	ExternalPriceWriter
	ValuationWriter
	ScrapedListingStore
	Close() error
}
