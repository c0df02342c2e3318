package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/provider"
)

type stubClient struct{}

func (stubClient) GetAddressTransactions(ctx context.Context, address string, cursor map[string]any) (provider.Page, error) {
	return provider.Page{IsComplete: true}, nil
}
func (stubClient) GetAddressBalances(ctx context.Context, address string) (map[string]string, error) {
	return nil, nil
}
func (stubClient) GetTokenMetadata(ctx context.Context, contracts []string) (map[string]provider.TokenMetadata, error) {
	return nil, nil
}
func (stubClient) FetchPrice(ctx context.Context, asset, currency string, atMs int64) (float64, error) {
	return 0, nil
}
func (stubClient) ApplyReplayWindow(cursor map[string]any) map[string]any { return cursor }
func (stubClient) HealthCheck(ctx context.Context) error                 { return nil }
func (stubClient) Close() error                                          { return nil }

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := provider.New()
	meta := provider.Metadata{ProviderName: "testprovider", SupportedChains: []string{"ethereum"}}
	calls := 0
	err := r.Register(meta, func(m provider.Metadata) (provider.ApiClient, error) {
		calls++
		return stubClient{}, nil
	})
	require.NoError(t, err)

	c1, err := r.Get("testprovider")
	require.NoError(t, err)
	c2, err := r.Get("testprovider")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls, "factory should only be invoked once, instance cached")
}

func TestRegistry_RegisterFailsWhenAPIKeyEnvVarMissing(t *testing.T) {
	r := provider.New()
	meta := provider.Metadata{ProviderName: "needskey", APIKeyEnvVar: "DEFINITELY_NOT_SET_XYZ"}
	err := r.Register(meta, func(m provider.Metadata) (provider.ApiClient, error) {
		return stubClient{}, nil
	})
	require.Error(t, err)

	_, err = r.Get("needskey")
	require.Error(t, err)
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := provider.New()
	meta := provider.Metadata{ProviderName: "dup"}
	factory := func(m provider.Metadata) (provider.ApiClient, error) { return stubClient{}, nil }
	require.NoError(t, r.Register(meta, factory))
	err := r.Register(meta, factory)
	require.Error(t, err)
}

func TestRegistry_ProvidersForChain(t *testing.T) {
	r := provider.New()
	factory := func(m provider.Metadata) (provider.ApiClient, error) { return stubClient{}, nil }
	require.NoError(t, r.Register(provider.Metadata{ProviderName: "a", SupportedChains: []string{"ethereum"}}, factory))
	require.NoError(t, r.Register(provider.Metadata{ProviderName: "b", SupportedChains: []string{"bitcoin"}}, factory))

	metas := r.ProvidersForChain("ethereum")
	require.Len(t, metas, 1)
	assert.Equal(t, "a", metas[0].ProviderName)
}
