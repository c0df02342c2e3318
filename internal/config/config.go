// Package config loads process bootstrap settings from the environment,
// the same plain os.Getenv pattern the teacher uses for EXITBOOK_MODE
// (internal/cli.DetectMode) rather than a config framework — the teacher
// never pulls in viper/koanf, and concrete process bootstrap is out of
// scope per spec.md §1, so this stays stdlib-only.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the set of environment-driven knobs the entrypoint needs to
// wire the pipeline's storage, price-cache, and override-log layers.
type Config struct {
	// DatabaseURL is a postgres connection string. Empty means the
	// in-memory ingestion store is used instead (local/dev/dashboard
	// smoke runs without a database).
	DatabaseURL string

	// OverrideLogPath is the append-only override log file. Empty skips
	// override replay entirely for this run.
	OverrideLogPath string

	// PriceCurrency is the fiat currency stage 3 (market prices) requests.
	PriceCurrency string

	// PriceCacheTTL bounds how long a cached price/FX rate is reused
	// before the Price Enrichment Engine re-fetches it.
	PriceCacheTTL time.Duration

	// Development enables verbose logging and stack traces in the
	// dashboard JSON error envelope (spec §6).
	Development bool
}

const (
	envDatabaseURL     = "EXITBOOK_DATABASE_URL"
	envOverrideLogPath = "EXITBOOK_OVERRIDE_LOG"
	envPriceCurrency   = "EXITBOOK_PRICE_CURRENCY"
	envPriceCacheTTL   = "EXITBOOK_PRICE_CACHE_TTL"
	envDevelopment     = "EXITBOOK_DEV"
)

const (
	defaultPriceCurrency = "USD"
	defaultPriceCacheTTL = 15 * time.Minute
)

// Load reads Config from the environment, applying the spec's stated
// defaults for anything left unset.
func Load() Config {
	cfg := Config{
		DatabaseURL:     os.Getenv(envDatabaseURL),
		OverrideLogPath: os.Getenv(envOverrideLogPath),
		PriceCurrency:   os.Getenv(envPriceCurrency),
		PriceCacheTTL:   defaultPriceCacheTTL,
		Development:     boolEnv(envDevelopment),
	}
	if cfg.PriceCurrency == "" {
		cfg.PriceCurrency = defaultPriceCurrency
	}
	if raw := os.Getenv(envPriceCacheTTL); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.PriceCacheTTL = d
		}
	}
	return cfg
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}
