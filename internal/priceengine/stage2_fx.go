package priceengine

import (
	"context"
	"time"

	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/provider"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// FXResult summarizes stage 2's pass.
type FXResult struct {
	Processed int
	Converted int
	Failures  int
}

// FXNormalize is stage 2 (spec §4.9): for movements already priced in a
// non-USD fiat currency, populate fxRateToUsd/fxSource/fxTimestamp from the
// FX provider pool. Provider priority (authoritative central-bank sources
// before a general-purpose fallback) is expressed entirely by the order
// providers were registered under FXPoolName — this stage is priority-
// agnostic.
func (e *Engine) FXNormalize(ctx context.Context, txs []models.Transaction) FXResult {
	e.emit(Event{Kind: EventStageStarted, Stage: "fx-rates"})

	var result FXResult
	for i := range txs {
		tx := &txs[i]
		for _, movements := range [][]models.AssetMovement{tx.Movements.Inflows, tx.Movements.Outflows} {
			for j := range movements {
				m := &movements[j]
				if m.PriceAtTxTime == nil || m.PriceAtTxTime.Currency == "" || m.PriceAtTxTime.Currency == "USD" {
					continue
				}
				result.Processed++

				rate, source, err := e.fetchFXRate(ctx, m.PriceAtTxTime.Currency, tx.Timestamp)
				if err != nil {
					result.Failures++
					continue
				}
				m.PriceAtTxTime.FxRateToUsd = &rate
				m.PriceAtTxTime.FxSource = source
				m.PriceAtTxTime.FxTimestamp = e.clock().Format(time.RFC3339)
				result.Converted++
			}
		}
	}

	e.emit(Event{Kind: EventStageCompleted, Stage: "fx-rates", Result: result})
	return result
}

func (e *Engine) fetchFXRate(ctx context.Context, currency string, at time.Time) (float64, string, error) {
	type fxQuote struct {
		rate     float64
		provider string
	}
	quote, err := providermgr.ExecuteWithFailover(ctx, e.manager, FXPoolName, func(client provider.ApiClient, name string) (fxQuote, error) {
		rate, err := client.FetchPrice(ctx, currency, "USD", at.UnixMilli())
		if err != nil {
			return fxQuote{}, err
		}
		return fxQuote{rate: rate, provider: name}, nil
	})
	if err != nil {
		return 0, "", err
	}
	return quote.rate, quote.provider, nil
}
