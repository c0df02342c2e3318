package priceengine

import (
	"time"

	"github.com/arcsign/exitbook/internal/models"
)

// DerivedTradeResult summarizes stage 1's pass over a transaction set.
type DerivedTradeResult struct {
	Processed int
	Updated   int
}

// DerivedTrade is stage 1 (spec §4.9): for trade transactions with both a
// crypto leg and a fiat leg, derive the crypto leg's unit price from the
// fiat leg. No network call.
func (e *Engine) DerivedTrade(txs []models.Transaction) DerivedTradeResult {
	e.emit(Event{Kind: EventStageStarted, Stage: "derived-trade"})

	var result DerivedTradeResult
	for i := range txs {
		tx := &txs[i]
		if tx.Operation.Category != models.CategoryTrade {
			continue
		}
		result.Processed++

		fiatLeg, cryptoLeg := findTradeLegs(tx)
		if fiatLeg == nil || cryptoLeg == nil {
			continue
		}

		cryptoAmount := abs(cryptoLeg.NetAmount)
		if cryptoAmount == 0 {
			continue
		}

		cryptoLeg.PriceAtTxTime = &models.Price{
			Price:       abs(fiatLeg.NetAmount) / cryptoAmount,
			Currency:    fiatLeg.AssetSymbol,
			Source:      models.SourceDerivedTrade,
			FetchedAt:   e.clock().Format(time.RFC3339),
			Granularity: models.GranularityExact,
		}
		result.Updated++
	}

	e.emit(Event{Kind: EventStageCompleted, Stage: "derived-trade", Result: result})
	return result
}

// findTradeLegs returns the first fiat-denominated movement and the first
// still-unpriced non-fiat movement across both inflows and outflows.
func findTradeLegs(tx *models.Transaction) (fiat, crypto *models.AssetMovement) {
	for _, movements := range [][]models.AssetMovement{tx.Movements.Inflows, tx.Movements.Outflows} {
		for i := range movements {
			m := &movements[i]
			if m.AssetID.IsFiat() {
				if fiat == nil {
					fiat = m
				}
			} else if crypto == nil && m.PriceAtTxTime == nil {
				crypto = m
			}
		}
	}
	return fiat, crypto
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
