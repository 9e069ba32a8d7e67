package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"ancer-engine/models"
	"ancer-engine/utils"
)

const propertyColumns = `
	id, title, listing_type, property_type, state_id, city_id, area_id,
	latitude, longitude, bedrooms, bathrooms, floor_area_sqm, price_kobo,
	furnishing, amenities, status, published_at,
	estimated_value_kobo, valuation_confidence, comparable_count,
	price_range_low_kobo, price_range_high_kobo, last_valued_at`

const scrapedColumns = `
	id, source, source_url, raw_payload, title, price_kobo, location, bedrooms,
	property_type, listing_type, status, dedup_score, matched_property_id,
	COALESCE(rejection_reason, ''), created_at, updated_at`

// PostgresStore is the PostgreSQL-backed ReferenceStore.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, retrying the initial
// ping with back-off.
func NewPostgresStore(ctx context.Context, dsn string, retry *utils.RetryConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	err = retry.Do(ctx, "postgres ping", func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w: %w", models.ErrInfrastructure, err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables the engine reads and writes when they do not
// exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS states (
			id   BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cities (
			id       BIGSERIAL PRIMARY KEY,
			state_id BIGINT NOT NULL REFERENCES states(id),
			name     TEXT NOT NULL,
			slug     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS areas (
			id      BIGSERIAL PRIMARY KEY,
			city_id BIGINT NOT NULL REFERENCES cities(id),
			name    TEXT NOT NULL,
			slug    TEXT UNIQUE NOT NULL
		);

		CREATE TABLE IF NOT EXISTS properties (
			id                    BIGSERIAL PRIMARY KEY,
			title                 TEXT NOT NULL,
			listing_type          VARCHAR(20) NOT NULL,
			property_type         VARCHAR(50) NOT NULL,
			state_id              BIGINT NOT NULL REFERENCES states(id),
			city_id               BIGINT NOT NULL REFERENCES cities(id),
			area_id               BIGINT NOT NULL REFERENCES areas(id),
			latitude              DOUBLE PRECISION,
			longitude             DOUBLE PRECISION,
			bedrooms              INT NOT NULL DEFAULT 0,
			bathrooms             INT NOT NULL DEFAULT 0,
			floor_area_sqm        DOUBLE PRECISION,
			price_kobo            BIGINT NOT NULL,
			furnishing            VARCHAR(30) NOT NULL DEFAULT '',
			amenities             TEXT[] NOT NULL DEFAULT '{}',
			status                VARCHAR(20) NOT NULL DEFAULT 'draft',
			published_at          TIMESTAMPTZ,
			estimated_value_kobo  BIGINT,
			valuation_confidence  DOUBLE PRECISION CHECK (valuation_confidence BETWEEN 0 AND 1),
			comparable_count      INT NOT NULL DEFAULT 0,
			price_range_low_kobo  BIGINT,
			price_range_high_kobo BIGINT,
			last_valued_at        TIMESTAMPTZ,
			CHECK ((estimated_value_kobo IS NULL) = (valuation_confidence IS NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_properties_comparables
			ON properties(status, listing_type, area_id, bedrooms);
		CREATE INDEX IF NOT EXISTS idx_properties_city ON properties(city_id);
		CREATE INDEX IF NOT EXISTS idx_properties_state ON properties(state_id);

		CREATE TABLE IF NOT EXISTS external_price_data (
			id            BIGSERIAL PRIMARY KEY,
			source        VARCHAR(100) NOT NULL,
			area_id       BIGINT NOT NULL REFERENCES areas(id),
			property_type VARCHAR(50) NOT NULL,
			bedrooms      INT,
			price_kobo    BIGINT NOT NULL CHECK (price_kobo > 0),
			listing_type  VARCHAR(20) NOT NULL,
			data_date     DATE NOT NULL,
			data_quality  VARCHAR(10) NOT NULL DEFAULT 'medium',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT external_price_data_natural_key UNIQUE NULLS NOT DISTINCT
				(source, area_id, property_type, bedrooms, listing_type, data_date, price_kobo)
		);

		CREATE INDEX IF NOT EXISTS idx_external_price_lookup
			ON external_price_data(area_id, listing_type, property_type);

		CREATE TABLE IF NOT EXISTS scraped_listings (
			id                  BIGSERIAL PRIMARY KEY,
			source              VARCHAR(50) NOT NULL,
			source_url          TEXT UNIQUE NOT NULL,
			raw_payload         JSONB,
			title               TEXT NOT NULL DEFAULT '',
			price_kobo          BIGINT,
			location            TEXT NOT NULL DEFAULT '',
			bedrooms            INT,
			property_type       TEXT NOT NULL DEFAULT '',
			listing_type        VARCHAR(20) NOT NULL DEFAULT '',
			status              VARCHAR(20) NOT NULL DEFAULT 'pending',
			dedup_score         DOUBLE PRECISION CHECK (dedup_score BETWEEN 0 AND 1),
			matched_property_id BIGINT REFERENCES properties(id),
			rejection_reason    TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_scraped_listings_status ON scraped_listings(status, id);
	`)
	return s.wrap("migrate", err)
}

// GetProperty returns one property or models.ErrNotFound.
func (s *PostgresStore) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id)
	p, err := scanProperty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: property %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get property", err)
	}
	return p, nil
}

// ListApprovedProperties pages through approved properties by ascending id.
func (s *PostgresStore) ListApprovedProperties(ctx context.Context, afterID int64, limit int) ([]models.Property, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+propertyColumns+`
		FROM properties
		WHERE status = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`, string(models.PropertyApproved), afterID, limit)
	if err != nil {
		return nil, s.wrap("list approved properties", err)
	}
	return s.collectProperties(rows)
}

// FindComparableProperties runs a comparable search built from q.
func (s *PostgresStore) FindComparableProperties(ctx context.Context, q PropertyQuery) ([]models.Property, error) {
	w := &whereBuilder{}
	w.add("status = %s", string(models.PropertyApproved))
	if q.ListingType != "" {
		w.add("listing_type = %s", string(q.ListingType))
	}
	if len(q.PropertyTypes) > 0 {
		w.add("property_type = ANY(%s)", pq.Array(q.PropertyTypes))
	}
	switch q.Level {
	case models.LevelArea:
		w.add("area_id = %s", q.LocationID)
	case models.LevelCity:
		w.add("city_id = %s", q.LocationID)
	case models.LevelState:
		w.add("state_id = %s", q.LocationID)
	}
	if q.MinBedrooms != nil {
		w.add("bedrooms >= %s", *q.MinBedrooms)
	}
	if q.MaxBedrooms != nil {
		w.add("bedrooms <= %s", *q.MaxBedrooms)
	}
	if q.MinPriceKobo != nil {
		w.add("price_kobo >= %s", *q.MinPriceKobo)
	}
	if q.MaxPriceKobo != nil {
		w.add("price_kobo <= %s", *q.MaxPriceKobo)
	}
	if q.PublishedSince != nil {
		w.add("published_at >= %s", *q.PublishedSince)
	}
	if q.ExcludeID != 0 {
		w.add("id <> %s", q.ExcludeID)
	}

	var order []string
	if q.NearAreaID != 0 {
		order = append(order, "(area_id = "+w.bind(q.NearAreaID)+") DESC")
	}
	if q.NearCityID != 0 {
		order = append(order, "(city_id = "+w.bind(q.NearCityID)+") DESC")
	}
	if q.NearPriceKobo != 0 {
		order = append(order, "ABS(price_kobo - "+w.bind(q.NearPriceKobo)+")")
	}
	order = append(order, "published_at DESC NULLS LAST", "id")

	query := `SELECT ` + propertyColumns + ` FROM properties WHERE ` + w.String() +
		` ORDER BY ` + strings.Join(order, ", ")
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, s.wrap("find comparable properties", err)
	}
	return s.collectProperties(rows)
}

// ListAreas returns every area with its state denormalised.
func (s *PostgresStore) ListAreas(ctx context.Context) ([]models.Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.city_id, c.state_id, a.name, a.slug
		FROM areas a
		JOIN cities c ON c.id = a.city_id
		ORDER BY a.id
	`)
	if err != nil {
		return nil, s.wrap("list areas", err)
	}
	defer rows.Close()

	var areas []models.Area
	for rows.Next() {
		var a models.Area
		if err := rows.Scan(&a.ID, &a.CityID, &a.StateID, &a.Name, &a.Slug); err != nil {
			return nil, s.wrap("scan area", err)
		}
		areas = append(areas, a)
	}
	return areas, s.wrap("list areas", rows.Err())
}

// ListCities returns every city.
func (s *PostgresStore) ListCities(ctx context.Context) ([]models.City, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, state_id, name, slug FROM cities ORDER BY id`)
	if err != nil {
		return nil, s.wrap("list cities", err)
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.ID, &c.StateID, &c.Name, &c.Slug); err != nil {
			return nil, s.wrap("scan city", err)
		}
		cities = append(cities, c)
	}
	return cities, s.wrap("list cities", rows.Err())
}

// FindExternalPrices returns market data rows matching q, newest first.
func (s *PostgresStore) FindExternalPrices(ctx context.Context, q ExternalPriceQuery) ([]models.ExternalPriceData, error) {
	w := &whereBuilder{}
	w.add("area_id = %s", q.AreaID)
	if q.ListingType != "" {
		w.add("listing_type = %s", string(q.ListingType))
	}
	if len(q.PropertyTypes) > 0 {
		w.add("property_type = ANY(%s)", pq.Array(q.PropertyTypes))
	}
	if q.Bedrooms != nil {
		w.add("(bedrooms IS NULL OR bedrooms = %s)", *q.Bedrooms)
	}
	if q.Since != nil {
		w.add("data_date >= %s", *q.Since)
	}

	query := `
		SELECT id, source, area_id, property_type, bedrooms, price_kobo,
		       listing_type, data_date, data_quality, created_at
		FROM external_price_data
		WHERE ` + w.String() + `
		ORDER BY data_date DESC, id`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, s.wrap("find external prices", err)
	}
	defer rows.Close()

	var out []models.ExternalPriceData
	for rows.Next() {
		var (
			e           models.ExternalPriceData
			listingType string
			quality     string
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.AreaID, &e.PropertyType, &e.Bedrooms,
			&e.PriceKobo, &listingType, &e.DataDate, &quality, &e.CreatedAt); err != nil {
			return nil, s.wrap("scan external price", err)
		}
		e.ListingType = models.ListingType(listingType)
		e.Quality = models.DataQuality(quality)
		out = append(out, e)
	}
	return out, s.wrap("find external prices", rows.Err())
}

// InsertExternalPrices batch-inserts market data rows. Rows already present
// under the same natural key are ignored.
func (s *PostgresStore) InsertExternalPrices(ctx context.Context, rows []models.ExternalPriceData) (int, error) {
	const batchSize = 50
	inserted := 0
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := s.insertPriceBatch(ctx, rows[i:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *PostgresStore) insertPriceBatch(ctx context.Context, batch []models.ExternalPriceData) (int, error) {
	const cols = 8
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, e := range batch {
		base := idx * cols
		valueStrings = append(valueStrings,
			fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		valueArgs = append(valueArgs,
			e.Source, e.AreaID, e.PropertyType, e.Bedrooms, e.PriceKobo,
			string(e.ListingType), e.DataDate, string(e.Quality))
	}

	query := fmt.Sprintf(`
		INSERT INTO external_price_data
			(source, area_id, property_type, bedrooms, price_kobo, listing_type, data_date, data_quality)
		VALUES %s
		ON CONFLICT ON CONSTRAINT external_price_data_natural_key DO NOTHING
	`, strings.Join(valueStrings, ","))

	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, s.wrap("insert external prices", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrap("insert external prices", err)
	}
	return int(n), nil
}

// SaveValuation writes all computed valuation fields in one statement.
func (s *PostgresStore) SaveValuation(ctx context.Context, u models.ValuationUpdate) error {
	var (
		estimate, low, high *int64
		confidence          *float64
		valuedAt            *time.Time
		count               int
	)
	if v := u.Valuation; v != nil {
		estimate, low, high = &v.EstimateKobo, &v.LowKobo, &v.HighKobo
		confidence = &v.Confidence
		count = v.ComparableCount
		valuedAt = &u.ValuedAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE properties
		SET estimated_value_kobo = $2,
		    valuation_confidence = $3,
		    comparable_count = $4,
		    price_range_low_kobo = $5,
		    price_range_high_kobo = $6,
		    last_valued_at = $7
		WHERE id = $1
	`, u.PropertyID, estimate, confidence, count, low, high, valuedAt)
	if err != nil {
		return s.wrap("save valuation", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("postgres: property %d: %w", u.PropertyID, models.ErrNotFound)
	}
	return nil
}

// GetScrapedListing returns one scraped listing or models.ErrNotFound.
func (s *PostgresStore) GetScrapedListing(ctx context.Context, id int64) (*models.ScrapedListing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scrapedColumns+` FROM scraped_listings WHERE id = $1`, id)
	l, err := scanScraped(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: scraped listing %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("get scraped listing", err)
	}
	return l, nil
}

// ListPendingListings pages through pending scraped listings by ascending id.
func (s *PostgresStore) ListPendingListings(ctx context.Context, afterID int64, limit int) ([]models.ScrapedListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scrapedColumns+`
		FROM scraped_listings
		WHERE status = 'pending' AND id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if err != nil {
		return nil, s.wrap("list pending listings", err)
	}
	defer rows.Close()

	var out []models.ScrapedListing
	for rows.Next() {
		l, err := scanScraped(rows)
		if err != nil {
			return nil, s.wrap("scan scraped listing", err)
		}
		out = append(out, *l)
	}
	return out, s.wrap("list pending listings", rows.Err())
}

// TransitionListing moves a pending listing to a terminal state. The WHERE
// clause on status makes concurrent runs race benignly.
func (s *PostgresStore) TransitionListing(ctx context.Context, t models.ListingTransition) error {
	if !models.StatusPending.CanTransition(t.To) {
		return fmt.Errorf("postgres: transition to %s: %w", t.To, models.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scraped_listings
		SET status = $2,
		    dedup_score = $3,
		    matched_property_id = $4,
		    rejection_reason = NULLIF($5, ''),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, t.ListingID, t.To.String(), t.DedupScore, t.MatchedPropertyID, t.RejectionReason)
	return s.conditional("transition listing", t.ListingID, res, err)
}

// RecordDedupScore stores a score on a listing that stays pending.
func (s *PostgresStore) RecordDedupScore(ctx context.Context, listingID int64, score *float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scraped_listings
		SET dedup_score = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, listingID, score)
	return s.conditional("record dedup score", listingID, res, err)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) conditional(op string, id int64, res sql.Result, err error) error {
	if err != nil {
		return s.wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("postgres: %s %d: %w", op, id, models.ErrConcurrencyConflict)
	}
	return nil
}

func (s *PostgresStore) collectProperties(rows *sql.Rows) ([]models.Property, error) {
	defer rows.Close()
	var out []models.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, s.wrap("scan property", err)
		}
		out = append(out, *p)
	}
	return out, s.wrap("read properties", rows.Err())
}

// wrap annotates err and tags connection-level failures as infrastructure
// errors so sweeps can tell them apart from bad rows.
func (s *PostgresStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isInfrastructure(err) {
		return fmt.Errorf("postgres: %s: %w: %w", op, models.ErrInfrastructure, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func isInfrastructure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(r rowScanner) (*models.Property, error) {
	var (
		p           models.Property
		listingType string
		status      string
	)
	err := r.Scan(
		&p.ID, &p.Title, &listingType, &p.PropertyType, &p.StateID, &p.CityID, &p.AreaID,
		&p.Latitude, &p.Longitude, &p.Bedrooms, &p.Bathrooms, &p.FloorAreaSqm, &p.PriceKobo,
		&p.Furnishing, pq.Array(&p.Amenities), &status, &p.PublishedAt,
		&p.EstimatedValueKobo, &p.ValuationConfidence, &p.ComparableCount,
		&p.PriceRangeLowKobo, &p.PriceRangeHighKobo, &p.LastValuedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ListingType = models.ListingType(listingType)
	p.Status = models.PropertyStatus(status)
	return &p, nil
}

func scanScraped(r rowScanner) (*models.ScrapedListing, error) {
	var (
		l       models.ScrapedListing
		payload []byte
		status  string
	)
	err := r.Scan(
		&l.ID, &l.Source, &l.SourceURL, &payload, &l.Title, &l.PriceKobo, &l.Location, &l.Bedrooms,
		&l.PropertyType, &l.ListingType, &status, &l.DedupScore, &l.MatchedPropertyID,
		&l.RejectionReason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st, ok := models.ParseScrapedStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown scraped listing status %q: %w", status, models.ErrValidation)
	}
	l.Status = st
	l.RawPayload = payload
	return &l, nil
}

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) add(clause string, arg interface{}) {
	w.clauses = append(w.clauses, fmt.Sprintf(clause, w.bind(arg)))
}

// bind appends arg and returns its placeholder.
func (w *whereBuilder) bind(arg interface{}) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}
