package models

import "time"

// DataQuality tags how far an external price row can be trusted.
type DataQuality string

const (
	QualityLow    DataQuality = "low"
	QualityMedium DataQuality = "medium"
	QualityHigh   DataQuality = "high"
)

// ExternalPriceData is one market-price observation from an outside source.
// Rows are append-only and never updated after insertion.
type ExternalPriceData struct {
	ID           int64
	Source       string
	AreaID       int64
	PropertyType string
	Bedrooms     *int
	PriceKobo    int64
	ListingType  ListingType
	DataDate     time.Time
	Quality      DataQuality
	CreatedAt    time.Time
}

// RawPriceRow is an unvalidated line read from a price import CSV.
type RawPriceRow struct {
	File         string
	Line         int
	AreaSlug     string
	PropertyType string
	Bedrooms     string
	PriceNaira   string
	ListingType  string
	DataDate     string
}
