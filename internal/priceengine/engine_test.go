package priceengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/priceengine"
	"github.com/arcsign/exitbook/internal/provider"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// priceClient returns a fixed price for exact (asset, currency) pairs, and
// errs.NotFound for anything else — used to exercise the stablecoin
// fallback path deterministically.
type priceClient struct {
	name   string
	quotes map[string]float64 // "ASSET:CURRENCY" -> price
}

func (c priceClient) FetchPrice(ctx context.Context, asset, currency string, atMs int64) (float64, error) {
	if p, ok := c.quotes[asset+":"+currency]; ok {
		return p, nil
	}
	return 0, errs.New(errs.NotFound, "no quote for "+asset+":"+currency)
}
func (priceClient) GetAddressTransactions(ctx context.Context, address string, cursor map[string]any) (provider.Page, error) {
	return provider.Page{}, nil
}
func (priceClient) GetAddressBalances(ctx context.Context, address string) (map[string]string, error) {
	return nil, nil
}
func (priceClient) GetTokenMetadata(ctx context.Context, contracts []string) (map[string]provider.TokenMetadata, error) {
	return nil, nil
}
func (priceClient) ApplyReplayWindow(cursor map[string]any) map[string]any { return cursor }
func (priceClient) HealthCheck(ctx context.Context) error                 { return nil }
func (priceClient) Close() error                                          { return nil }

func newManager(t *testing.T, poolName string, quotes map[string]float64) *providermgr.Manager {
	t.Helper()
	reg := provider.New()
	require.NoError(t, reg.Register(provider.Metadata{ProviderName: "p1", SupportedChains: []string{poolName}},
		func(m provider.Metadata) (provider.ApiClient, error) { return priceClient{name: "p1", quotes: quotes}, nil }))
	mgr := providermgr.NewManager(reg, providermgr.Config{}, nil)
	mgr.Register(poolName, []string{"p1"})
	return mgr
}

func tradeTx(fiatAmount, cryptoAmount float64) models.Transaction {
	return models.Transaction{
		ID:        "tx1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Operation: models.Operation{Category: models.CategoryTrade},
		Movements: models.Movements{
			Outflows: []models.AssetMovement{{AssetID: models.FiatAssetID("USD"), AssetSymbol: "USD", NetAmount: fiatAmount}},
			Inflows:  []models.AssetMovement{{AssetID: models.ContractAssetID("ethereum", "0xabc"), AssetSymbol: "ETH", NetAmount: cryptoAmount}},
		},
	}
}

func TestDerivedTrade_SetsCryptoLegPriceFromFiatLeg(t *testing.T) {
	mgr := newManager(t, priceengine.MarketPoolName, nil)
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute))

	txs := []models.Transaction{tradeTx(-2000, 1.0)}
	result := e.DerivedTrade(txs)

	require.Equal(t, 1, result.Updated)
	price := txs[0].Movements.Inflows[0].PriceAtTxTime
	require.NotNil(t, price)
	assert.Equal(t, 2000.0, price.Price)
	assert.Equal(t, "USD", price.Currency)
	assert.Equal(t, models.SourceDerivedTrade, price.Source)
}

func TestFXNormalize_PopulatesUsdRate(t *testing.T) {
	mgr := newManager(t, priceengine.FXPoolName, map[string]float64{"EUR:USD": 1.08})
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute))

	txs := []models.Transaction{{
		ID:        "tx1",
		Timestamp: time.Now(),
		Movements: models.Movements{Outflows: []models.AssetMovement{{
			AssetSymbol:   "EUR",
			PriceAtTxTime: &models.Price{Price: 100, Currency: "EUR"},
		}}},
	}}

	result := e.FXNormalize(context.Background(), txs)
	require.Equal(t, 1, result.Converted)
	rate := txs[0].Movements.Outflows[0].PriceAtTxTime.FxRateToUsd
	require.NotNil(t, rate)
	assert.InDelta(t, 1.08, *rate, 0.0001)
}

func TestMarketPrices_DirectQuoteWins(t *testing.T) {
	mgr := newManager(t, priceengine.MarketPoolName, map[string]float64{"BTC:USD": 50000})
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute))

	txs := []models.Transaction{{
		ID:        "tx1",
		Timestamp: time.Now(),
		Movements: models.Movements{Inflows: []models.AssetMovement{{AssetSymbol: "BTC"}}},
	}}

	result := e.MarketPrices(context.Background(), txs, "USD")
	assert.Equal(t, 1, result.MovementsUpdated)
	assert.Equal(t, 50000.0, txs[0].Movements.Inflows[0].PriceAtTxTime.Price)
}

func TestMarketPrices_FallsBackThroughStablecoinWithAssumedParity(t *testing.T) {
	// No direct XYZ:USD quote, and no USDT:USD quote either -> assumed parity.
	mgr := newManager(t, priceengine.MarketPoolName, map[string]float64{"XYZ:USDT": 2.0})
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute))

	txs := []models.Transaction{{
		ID:        "tx1",
		Timestamp: time.Now(),
		Movements: models.Movements{Inflows: []models.AssetMovement{{AssetSymbol: "XYZ"}}},
	}}

	result := e.MarketPrices(context.Background(), txs, "USD")
	require.Equal(t, 1, result.MovementsUpdated)
	p := txs[0].Movements.Inflows[0].PriceAtTxTime
	assert.Equal(t, 2.0, p.Price)
	assert.Contains(t, p.Source, "assumed-USDT-parity")
}

func TestMarketPrices_AbortsEarlyAfterConsecutiveFailures(t *testing.T) {
	mgr := newManager(t, priceengine.MarketPoolName, nil) // every quote fails
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute), priceengine.WithMaxConsecutiveFailures(2))

	txs := []models.Transaction{{
		ID:        "tx1",
		Timestamp: time.Now(),
		Movements: models.Movements{Inflows: []models.AssetMovement{
			{AssetSymbol: "A"}, {AssetSymbol: "B"}, {AssetSymbol: "C"},
		}},
	}}

	result := e.MarketPrices(context.Background(), txs, "USD")
	assert.Equal(t, 2, result.Failures)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, txs[0].Notes, 1)
	assert.Equal(t, "PRICE_UNAVAILABLE", txs[0].Notes[0].Type)
}

func TestLinkPropagation_CopiesConfirmedLinkPriceOnly(t *testing.T) {
	mgr := newManager(t, priceengine.MarketPoolName, nil)
	e := priceengine.NewEngine(mgr, providermgr.NewCache(time.Minute))

	priced := models.Price{Price: 100, Currency: "USD", Source: "derived-trade", Granularity: models.GranularityExact}
	txs := []models.Transaction{
		{ID: "source-tx", Movements: models.Movements{Outflows: []models.AssetMovement{{AssetSymbol: "BTC", PriceAtTxTime: &priced}}}},
		{ID: "target-tx", Movements: models.Movements{Inflows: []models.AssetMovement{{AssetSymbol: "BTC"}}}},
		{ID: "unrelated-tx", Movements: models.Movements{Inflows: []models.AssetMovement{{AssetSymbol: "BTC"}}}},
	}
	links := []models.Link{
		{SourceTransactionID: "source-tx", TargetTransactionID: "target-tx", AssetSymbol: "BTC", Status: models.LinkConfirmed},
		{SourceTransactionID: "source-tx", TargetTransactionID: "unrelated-tx", AssetSymbol: "BTC", Status: models.LinkSuggested},
	}

	result := e.LinkPropagation(txs, links)
	assert.Equal(t, 1, result.Propagated)
	assert.Equal(t, models.SourceLinkPropagated, txs[1].Movements.Inflows[0].PriceAtTxTime.Source)
	assert.Nil(t, txs[2].Movements.Inflows[0].PriceAtTxTime, "a suggested link must not propagate a price")
}
