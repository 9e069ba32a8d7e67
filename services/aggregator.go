package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ancer-engine/models"
	"ancer-engine/storage"
	"ancer-engine/utils"
)

// SourceCSV tags rows collected from local price files.
const SourceCSV = "csv"

// AggregatorStore is what price collection reads and writes.
type AggregatorStore interface {
	storage.LocationReader
	storage.ExternalPriceWriter
}

// PriceAggregator ingests external market price files into the reference
// store. Re-ingesting the same file inserts nothing new.
type PriceAggregator struct {
	store  AggregatorStore
	reader *storage.PriceCSVReader
	types  *TypeMapper
	clock  utils.Clock
	logger *utils.Logger
}

// NewPriceAggregator creates a PriceAggregator.
func NewPriceAggregator(store AggregatorStore, reader *storage.PriceCSVReader, types *TypeMapper, clock utils.Clock, logger *utils.Logger) *PriceAggregator {
	return &PriceAggregator{store: store, reader: reader, types: types, clock: clock, logger: logger}
}

// Collect ingests every file the named source provides. Only "csv" (and
// "all", which is the same set today) are known.
func (a *PriceAggregator) Collect(ctx context.Context, source string) (*models.IngestReport, error) {
	switch source {
	case "", SourceCSV, "all":
	default:
		return nil, fmt.Errorf("%w: unknown price source %q", models.ErrValidation, source)
	}

	resolver, err := LoadLocationResolver(ctx, a.store)
	if err != nil {
		return nil, err
	}
	files, err := a.reader.Files()
	if err != nil {
		return nil, err
	}

	report := &models.IngestReport{}
	if len(files) == 0 {
		a.logger.Warn("[prices] no price files found")
		return report, nil
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rows, short, err := a.reader.ReadFile(path)
		if err != nil {
			a.logger.Error("[prices] %v", err)
		}
		report.Files++
		report.Rows += len(rows) + short
		report.Invalid += short

		records := make([]models.ExternalPriceData, 0, len(rows))
		for _, row := range rows {
			rec, err := a.toRecord(row, resolver)
			switch {
			case errors.Is(err, models.ErrNotFound):
				report.Unresolved++
				a.logger.Warn("[prices] %s:%d: %v", row.File, row.Line, err)
				continue
			case err != nil:
				report.Invalid++
				a.logger.Debug("[prices] %s:%d: %v", row.File, row.Line, err)
				continue
			}
			records = append(records, rec)
		}

		inserted, err := a.store.InsertExternalPrices(ctx, records)
		if err != nil {
			return report, fmt.Errorf("prices: insert from %s: %w", path, err)
		}
		report.Inserted += inserted
		report.Duplicates += len(records) - inserted
		a.logger.Info("[prices] %s: %d rows, %d inserted, %d already known",
			path, len(rows)+short, inserted, len(records)-inserted)
	}
	return report, nil
}

// toRecord validates and converts one raw row.
func (a *PriceAggregator) toRecord(row models.RawPriceRow, resolver *LocationResolver) (models.ExternalPriceData, error) {
	rec := models.ExternalPriceData{
		Source:  SourceCSV,
		Quality: models.QualityMedium,
	}

	naira, err := strconv.ParseFloat(strings.ReplaceAll(row.PriceNaira, ",", ""), 64)
	if err != nil {
		return rec, fmt.Errorf("%w: price %q", models.ErrValidation, row.PriceNaira)
	}
	if math.IsNaN(naira) || math.IsInf(naira, 0) || naira*100 >= math.MaxInt64 {
		return rec, fmt.Errorf("%w: price %q out of range", models.ErrValidation, row.PriceNaira)
	}
	rec.PriceKobo = int64(math.Round(naira * 100))
	if rec.PriceKobo <= 0 {
		return rec, fmt.Errorf("%w: non-positive price %q", models.ErrValidation, row.PriceNaira)
	}

	lt, ok := models.ParseListingType(strings.ToLower(row.ListingType))
	if !ok {
		return rec, fmt.Errorf("%w: listing type %q", models.ErrValidation, row.ListingType)
	}
	rec.ListingType = lt

	if row.Bedrooms != "" {
		n, err := strconv.Atoi(row.Bedrooms)
		if err != nil || n < 0 {
			return rec, fmt.Errorf("%w: bedrooms %q", models.ErrValidation, row.Bedrooms)
		}
		rec.Bedrooms = &n
	}

	if slug, ok := a.types.Canonical(row.PropertyType); ok {
		rec.PropertyType = slug
	} else if rec.PropertyType = Slugify(row.PropertyType); rec.PropertyType == "" {
		return rec, fmt.Errorf("%w: missing property type", models.ErrValidation)
	}

	if row.DataDate == "" {
		now := a.clock.Now()
		rec.DataDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		d, err := time.Parse("2006-01-02", row.DataDate)
		if err != nil {
			return rec, fmt.Errorf("%w: data date %q", models.ErrValidation, row.DataDate)
		}
		rec.DataDate = d
	}

	area, ok := resolver.AreaBySlug(row.AreaSlug)
	if !ok {
		area, ok = resolver.AreaBySlug(Slugify(row.AreaSlug))
	}
	if !ok {
		return rec, fmt.Errorf("%w: area %q", models.ErrNotFound, row.AreaSlug)
	}
	rec.AreaID = area.ID
	return rec, nil
}
