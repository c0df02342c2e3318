package importer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/importer"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/provider"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// pagedClient serves a fixed sequence of pages per address, one page per
// call, then reports complete.
type pagedClient struct {
	pages map[string][]provider.Page
	calls map[string]int
}

func newPagedClient() *pagedClient {
	return &pagedClient{pages: make(map[string][]provider.Page), calls: make(map[string]int)}
}

func (c *pagedClient) GetAddressTransactions(ctx context.Context, address string, cursor map[string]any) (provider.Page, error) {
	i := c.calls[address]
	c.calls[address] = i + 1
	pages := c.pages[address]
	if i >= len(pages) {
		return provider.Page{IsComplete: true}, nil
	}
	return pages[i], nil
}
func (c *pagedClient) GetAddressBalances(ctx context.Context, address string) (map[string]string, error) {
	return nil, nil
}
func (c *pagedClient) GetTokenMetadata(ctx context.Context, contracts []string) (map[string]provider.TokenMetadata, error) {
	return nil, nil
}
func (c *pagedClient) FetchPrice(ctx context.Context, asset, currency string, atMs int64) (float64, error) {
	return 0, nil
}
func (c *pagedClient) ApplyReplayWindow(cursor map[string]any) map[string]any { return cursor }
func (c *pagedClient) HealthCheck(ctx context.Context) error                 { return nil }
func (c *pagedClient) Close() error                                          { return nil }

func setupManager(t *testing.T, chain string, client provider.ApiClient) *providermgr.Manager {
	t.Helper()
	reg := provider.New()
	require.NoError(t, reg.Register(provider.Metadata{ProviderName: "stub", SupportedChains: []string{chain}},
		func(m provider.Metadata) (provider.ApiClient, error) { return client, nil }))
	mgr := providermgr.NewManager(reg, providermgr.Config{}, nil)
	mgr.Register(chain, []string{"stub"})
	return mgr
}

func idOf(rec map[string]any) string {
	v, _ := rec["id"].(string)
	return v
}

func normalizeNative(providerName string, raw map[string]any) (models.NormalizedRecord, error) {
	id, _ := raw["id"].(string)
	return models.NormalizedRecord{
		ID: id, ExternalID: id, Status: models.RecordStatusSuccess,
		Amounts: map[string]string{"ETH": "1"},
	}, nil
}

func nativeStream(client *pagedClient) importer.OperationStream {
	return importer.OperationStream{
		OperationType: "native",
		Fetch: func(ctx context.Context, c provider.ApiClient, cursor map[string]any) (provider.Page, error) {
			return c.GetAddressTransactions(ctx, "0xuser", cursor)
		},
		IDOf: idOf,
	}
}

func TestBlockchainImporter_EmitsNormalizedBatchPerPage(t *testing.T) {
	client := newPagedClient()
	client.pages["0xuser"] = []provider.Page{
		{Data: []map[string]any{{"id": "tx1"}, {"id": "tx2"}}, IsComplete: true},
	}
	mgr := setupManager(t, "ethereum", client)

	im := importer.NewBlockchainImporter(mgr, "ethereum", "ethereum", []importer.OperationStream{nativeStream(client)}, normalizeNative)

	var batches []importer.Batch
	err := im.ImportStreaming(context.Background(), importer.Params{Address: "0xuser"}, func(b importer.Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].NormalizedRecords, 2)
	assert.Len(t, batches[0].RawRecords, 2)
	assert.Equal(t, "native", batches[0].OperationType)
	assert.True(t, batches[0].IsComplete)
}

func TestBlockchainImporter_ValidateParamsRequiresAddress(t *testing.T) {
	mgr := setupManager(t, "ethereum", newPagedClient())
	im := importer.NewBlockchainImporter(mgr, "ethereum", "ethereum", nil, normalizeNative)
	require.Error(t, im.ValidateParams(importer.Params{}))
}

func TestBlockchainImporter_NormalizationFailureSkipsRecordNotBatch(t *testing.T) {
	client := newPagedClient()
	client.pages["0xuser"] = []provider.Page{
		{Data: []map[string]any{{"id": "bad"}, {"id": "tx2"}}, IsComplete: true},
	}
	mgr := setupManager(t, "ethereum", client)

	failOnBad := func(providerName string, raw map[string]any) (models.NormalizedRecord, error) {
		if raw["id"] == "bad" {
			return models.NormalizedRecord{}, assert.AnError
		}
		return normalizeNative(providerName, raw)
	}

	im := importer.NewBlockchainImporter(mgr, "ethereum", "ethereum", []importer.OperationStream{nativeStream(client)}, failOnBad)

	var got []models.NormalizedRecord
	err := im.ImportStreaming(context.Background(), importer.Params{Address: "0xuser"}, func(b importer.Batch) error {
		got = append(got, b.NormalizedRecords...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tx2", got[0].ID)
}

func TestExchangeImporter_ValidateParamsRequiresCredentials(t *testing.T) {
	mgr := setupManager(t, "kraken", newPagedClient())
	im := importer.NewExchangeImporter(mgr, "kraken", nil, normalizeNative)
	require.Error(t, im.ValidateParams(importer.Params{}))
	require.NoError(t, im.ValidateParams(importer.Params{Credentials: map[string]string{"key": "x"}}))
}
