package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int

	PriceImportDir     string
	TypeDictionaryPath string

	Selector  SelectorConfig
	Estimator EstimatorConfig
	Dedup     DedupConfig
	Sweep     SweepConfig
}

// SelectorConfig tunes comparable retrieval and scoring.
type SelectorConfig struct {
	MinPoolSize     int
	MaxComparables  int
	MinScore        float64
	WindowMonths    int
	HalfLifeDays    float64
	BedroomSpread   int
	CityTrust       float64
	StateTrust      float64
	ExternalTrust   float64
	ExternalScore   float64
	FurnishingBonus float64
}

// EstimatorConfig tunes aggregation of a comparable set.
type EstimatorConfig struct {
	TrimLow           float64
	TrimHigh          float64
	SaturationCount   int
	SingleStdFraction float64
}

// DedupConfig tunes scraped-listing matching.
type DedupConfig struct {
	MatchThreshold  float64
	ReviewThreshold float64
	PriceBand       float64
	CandidateLimit  int
}

// SweepConfig sizes the batch sweeps.
type SweepConfig struct {
	PageSize    int
	Cooldown    time.Duration
	TimeBudget  time.Duration
	ImportLimit int
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "ancer"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "ancer"),
		PostgresDB:       getEnv("POSTGRES_DB", "ancer"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		PriceImportDir:     getEnv("PRICE_IMPORT_DIR", "./storage/imports/prices"),
		TypeDictionaryPath: getEnv("TYPE_DICTIONARY_PATH", ""),

		Selector: SelectorConfig{
			MinPoolSize:     getEnvInt("VALUATION_MIN_POOL", 3),
			MaxComparables:  getEnvInt("VALUATION_MAX_COMPARABLES", 12),
			MinScore:        getEnvFloat("VALUATION_MIN_SCORE", 0.35),
			WindowMonths:    getEnvInt("VALUATION_WINDOW_MONTHS", 12),
			HalfLifeDays:    getEnvFloat("VALUATION_HALF_LIFE_DAYS", 90),
			BedroomSpread:   getEnvInt("VALUATION_BEDROOM_SPREAD", 1),
			CityTrust:       getEnvFloat("VALUATION_CITY_TRUST", 0.85),
			StateTrust:      getEnvFloat("VALUATION_STATE_TRUST", 0.7),
			ExternalTrust:   getEnvFloat("VALUATION_EXTERNAL_TRUST", 0.5),
			ExternalScore:   getEnvFloat("VALUATION_EXTERNAL_SCORE", 0.4),
			FurnishingBonus: getEnvFloat("VALUATION_FURNISHING_BONUS", 0.1),
		},
		Estimator: EstimatorConfig{
			TrimLow:           getEnvFloat("VALUATION_TRIM_LOW", 0.4),
			TrimHigh:          getEnvFloat("VALUATION_TRIM_HIGH", 2.5),
			SaturationCount:   getEnvInt("VALUATION_SATURATION_COUNT", 8),
			SingleStdFraction: getEnvFloat("VALUATION_SINGLE_STD_FRACTION", 0.15),
		},
		Dedup: DedupConfig{
			MatchThreshold:  getEnvFloat("DEDUP_MATCH_THRESHOLD", 0.85),
			ReviewThreshold: getEnvFloat("DEDUP_REVIEW_THRESHOLD", 0.5),
			PriceBand:       getEnvFloat("DEDUP_PRICE_BAND", 0.2),
			CandidateLimit:  getEnvInt("DEDUP_CANDIDATE_LIMIT", 50),
		},
		Sweep: SweepConfig{
			PageSize:    getEnvInt("SWEEP_PAGE_SIZE", 100),
			Cooldown:    getEnvDuration("VALUATION_COOLDOWN", 24*time.Hour),
			TimeBudget:  getEnvDuration("SWEEP_TIME_BUDGET", 30*time.Minute),
			ImportLimit: getEnvInt("SCRAPER_IMPORT_LIMIT", 100),
		},
	}
}

// Default returns the built-in configuration without touching the
// environment.
func Default() *Config {
	return &Config{
		MaxConcurrency: 4,
		MaxRetries:     3,
		PriceImportDir: "./storage/imports/prices",
		Selector: SelectorConfig{
			MinPoolSize:     3,
			MaxComparables:  12,
			MinScore:        0.35,
			WindowMonths:    12,
			HalfLifeDays:    90,
			BedroomSpread:   1,
			CityTrust:       0.85,
			StateTrust:      0.7,
			ExternalTrust:   0.5,
			ExternalScore:   0.4,
			FurnishingBonus: 0.1,
		},
		Estimator: EstimatorConfig{
			TrimLow:           0.4,
			TrimHigh:          2.5,
			SaturationCount:   8,
			SingleStdFraction: 0.15,
		},
		Dedup: DedupConfig{
			MatchThreshold:  0.85,
			ReviewThreshold: 0.5,
			PriceBand:       0.2,
			CandidateLimit:  50,
		},
		Sweep: SweepConfig{
			PageSize:    100,
			Cooldown:    24 * time.Hour,
			TimeBudget:  30 * time.Minute,
			ImportLimit: 100,
		},
	}
}

// Validate rejects threshold combinations the engine cannot work with.
func (c *Config) Validate() error {
	s, e, d := c.Selector, c.Estimator, c.Dedup
	switch {
	case s.MinPoolSize < 1:
		return fmt.Errorf("config: VALUATION_MIN_POOL must be >= 1, got %d", s.MinPoolSize)
	case s.MaxComparables < s.MinPoolSize:
		return fmt.Errorf("config: VALUATION_MAX_COMPARABLES (%d) below min pool (%d)", s.MaxComparables, s.MinPoolSize)
	case !unit(s.MinScore) || !unit(s.ExternalScore) || !unit(s.ExternalTrust):
		return fmt.Errorf("config: selector scores and trust must lie in [0,1]")
	case !unit(s.CityTrust) || !unit(s.StateTrust):
		return fmt.Errorf("config: widening trust must lie in [0,1]")
	case s.HalfLifeDays <= 0:
		return fmt.Errorf("config: VALUATION_HALF_LIFE_DAYS must be positive")
	case s.WindowMonths <= 0:
		return fmt.Errorf("config: VALUATION_WINDOW_MONTHS must be positive")
	case e.TrimLow <= 0 || e.TrimHigh <= 1 || e.TrimLow >= 1:
		return fmt.Errorf("config: trim bounds must satisfy 0 < low < 1 < high")
	case e.SaturationCount < 1:
		return fmt.Errorf("config: VALUATION_SATURATION_COUNT must be >= 1")
	case e.SingleStdFraction < 0 || e.SingleStdFraction >= 1:
		return fmt.Errorf("config: VALUATION_SINGLE_STD_FRACTION must lie in [0,1)")
	case !unit(d.MatchThreshold) || !unit(d.ReviewThreshold) || d.ReviewThreshold > d.MatchThreshold:
		return fmt.Errorf("config: dedup thresholds must satisfy 0 <= review <= match <= 1")
	case d.PriceBand <= 0 || d.PriceBand >= 1:
		return fmt.Errorf("config: DEDUP_PRICE_BAND must lie in (0,1)")
	case c.Sweep.PageSize < 1:
		return fmt.Errorf("config: SWEEP_PAGE_SIZE must be >= 1")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}
