package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/config"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	for _, k := range []string{"EXITBOOK_DATABASE_URL", "EXITBOOK_OVERRIDE_LOG", "EXITBOOK_PRICE_CURRENCY", "EXITBOOK_PRICE_CACHE_TTL", "EXITBOOK_DEV"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "USD", cfg.PriceCurrency)
	assert.Equal(t, 15*time.Minute, cfg.PriceCacheTTL)
	assert.False(t, cfg.Development)
}

func TestLoad_ReadsOverrides(t *testing.T) {
	t.Setenv("EXITBOOK_DATABASE_URL", "postgres://x")
	t.Setenv("EXITBOOK_PRICE_CURRENCY", "EUR")
	t.Setenv("EXITBOOK_PRICE_CACHE_TTL", "5m")
	t.Setenv("EXITBOOK_DEV", "true")

	cfg := config.Load()
	assert.Equal(t, "postgres://x", cfg.DatabaseURL)
	assert.Equal(t, "EUR", cfg.PriceCurrency)
	assert.Equal(t, 5*time.Minute, cfg.PriceCacheTTL)
	assert.True(t, cfg.Development)
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("EXITBOOK_PRICE_CACHE_TTL", "not-a-duration")
	cfg := config.Load()
	assert.Equal(t, 15*time.Minute, cfg.PriceCacheTTL)

	require.NoError(t, os.Unsetenv("EXITBOOK_PRICE_CACHE_TTL"))
}
