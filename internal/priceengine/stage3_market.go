package priceengine

import (
	"context"
	"fmt"
	"time"

	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/provider"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// stablecoinOrder is the fallback trial order; stablecoins is the lookup
// set derived from it. Never recursed into when resolving their own USD
// rate (spec §4.9: "Do NOT recurse when the requested asset is itself a
// stablecoin").
var stablecoinOrder = []string{"USDT", "USDC", "DAI"}

var stablecoins = func() map[string]bool {
	m := make(map[string]bool, len(stablecoinOrder))
	for _, s := range stablecoinOrder {
		m[s] = true
	}
	return m
}()

// MarketPriceResult is stage 3's exact reporting shape per spec §4.9.
type MarketPriceResult struct {
	Processed       int
	PricesFetched   int
	MovementsUpdated int
	Skipped         int
	Failures        int
	Errors          []string
}

type priceQuote struct {
	Price       float64
	Source      string
	Granularity models.PriceGranularity
}

// MarketPrices is stage 3 (spec §4.9): for movements still lacking a
// price, fetch from the priority-ordered market-price provider pool with
// failover and a day-bucketed cache, converting stablecoin-denominated
// quotes to USD when the request asked for USD, and aborting early after
// maxConsecutiveFailures to avoid a long stall when a provider key has
// been revoked.
func (e *Engine) MarketPrices(ctx context.Context, txs []models.Transaction, requestCurrency string) MarketPriceResult {
	e.emit(Event{Kind: EventStageStarted, Stage: "market-prices"})

	var result MarketPriceResult
	consecutiveFailures := 0
	aborted := false

	for i := range txs {
		tx := &txs[i]
		for _, movements := range [][]models.AssetMovement{tx.Movements.Inflows, tx.Movements.Outflows} {
			for j := range movements {
				m := &movements[j]
				if m.PriceAtTxTime != nil {
					continue
				}

				if aborted {
					result.Skipped++
					continue
				}
				result.Processed++

				quote, err := e.fetchMarketPriceCached(ctx, m.AssetSymbol, requestCurrency, tx.Timestamp)
				if err != nil {
					result.Failures++
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", m.AssetSymbol, err))
					consecutiveFailures++
					if consecutiveFailures >= e.maxConsecutiveFailures {
						aborted = true
						tx.AddNote("PRICE_UNAVAILABLE", models.SeverityWarning, "market price stage aborted early: provider unavailability", nil)
					}
					continue
				}

				consecutiveFailures = 0
				result.PricesFetched++
				m.PriceAtTxTime = &models.Price{
					Price:       quote.Price,
					Currency:    requestCurrency,
					Source:      quote.Source,
					FetchedAt:   e.clock().Format(time.RFC3339),
					Granularity: quote.Granularity,
				}
				result.MovementsUpdated++
			}
		}
	}

	ev := Event{Kind: EventStageCompleted, Stage: "market-prices", Result: result}
	if aborted {
		ev.Kind = EventStageFailed
		ev.Error = "provider unavailability"
	}
	e.emit(ev)
	return result
}

func dayBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (e *Engine) fetchMarketPriceCached(ctx context.Context, asset, currency string, at time.Time) (priceQuote, error) {
	cacheKey := marketCacheKey(asset, currency, at)
	return providermgr.ExecuteCached(e.manager, e.cache, cacheKey, func() (priceQuote, error) {
		return e.fetchMarketPriceWithStablecoinFallback(ctx, asset, currency, at)
	})
}

func marketCacheKey(asset, currency string, at time.Time) string {
	return asset + ":" + currency + ":" + dayBucket(at)
}

// CachedMarketPrice reads back a market price stage 3 already fetched and
// cached for asset/currency on at's day bucket, without making a network
// call. The Processor's fee attribution (spec §4.6 step 3's fiat-weighted
// allocation) binds this to a run's shared cache so a price a previous run
// fetched can weight this run's fee split, without the Processor itself
// depending on live price fetching.
func CachedMarketPrice(cache *providermgr.Cache, asset, currency string, at time.Time) (float64, bool) {
	if cache == nil {
		return 0, false
	}
	v, ok := cache.Get(marketCacheKey(asset, currency, at))
	if !ok {
		return 0, false
	}
	q, ok := v.(priceQuote)
	if !ok {
		return 0, false
	}
	return q.Price, true
}

func (e *Engine) fetchMarketPriceWithStablecoinFallback(ctx context.Context, asset, currency string, at time.Time) (priceQuote, error) {
	direct, directProvider, err := e.marketFetchDirect(ctx, asset, currency, at)
	if err == nil {
		return priceQuote{Price: direct, Source: directProvider, Granularity: models.GranularityExact}, nil
	}
	if stablecoins[asset] || currency != "USD" {
		return priceQuote{}, err
	}

	for _, stablecoin := range stablecoinOrder {
		priceInStable, stableProvider, stableErr := e.marketFetchDirect(ctx, asset, stablecoin, at)
		if stableErr != nil {
			continue
		}

		usdRate, _, rateErr := e.marketFetchDirect(ctx, stablecoin, "USD", at)
		if rateErr == nil {
			return priceQuote{
				Price:       priceInStable * usdRate,
				Source:      stableProvider + "+" + stablecoin + "-rate",
				Granularity: models.GranularityExact,
			}, nil
		}
		// Stablecoin's own USD rate unavailable: assume 1:1 parity rather
		// than abandoning the quote entirely.
		return priceQuote{
			Price:       priceInStable,
			Source:      stableProvider + "+assumed-" + stablecoin + "-parity",
			Granularity: models.GranularityExact,
		}, nil
	}

	return priceQuote{}, err
}

func (e *Engine) marketFetchDirect(ctx context.Context, asset, currency string, at time.Time) (float64, string, error) {
	type quote struct {
		price    float64
		provider string
	}
	q, err := providermgr.ExecuteWithFailover(ctx, e.manager, MarketPoolName, func(client provider.ApiClient, name string) (quote, error) {
		price, err := client.FetchPrice(ctx, asset, currency, at.UnixMilli())
		if err != nil {
			return quote{}, err
		}
		return quote{price: price, provider: name}, nil
	})
	if err != nil {
		return 0, "", err
	}
	return q.price, q.provider, nil
}
