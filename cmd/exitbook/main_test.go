package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/config"
)

func TestBuildPipeline_DefaultsToMemoryStoreWithoutDatabaseURL(t *testing.T) {
	p, err := buildPipeline(context.Background(), config.Config{PriceCurrency: "USD"})
	require.NoError(t, err)
	require.Nil(t, p.closeStore)
	require.NotNil(t, p.orch)

	data := healthcheckData(p, config.Config{PriceCurrency: "USD"})
	assert.Equal(t, "memory", data["store"])
	assert.Equal(t, "USD", data["priceCurrency"])
	assert.False(t, data["overrideLog"].(bool))
}

func TestRunMigrate_RejectsMemoryStore(t *testing.T) {
	p, err := buildPipeline(context.Background(), config.Config{})
	require.NoError(t, err)

	err = runMigrate(context.Background(), p)
	require.Error(t, err)
}
