package priceengine

import "github.com/arcsign/exitbook/internal/models"

// LinkPropagationResult summarizes stage 4's pass.
type LinkPropagationResult struct {
	Processed int
	Propagated int
}

// LinkPropagation is stage 4 (spec §4.9): for each confirmed link whose
// source-side movement has a price but target-side does not, copy the
// price to the target with source=link-propagated, preserving granularity.
// Suggested and rejected links are ignored.
func (e *Engine) LinkPropagation(txs []models.Transaction, links []models.Link) LinkPropagationResult {
	e.emit(Event{Kind: EventStageStarted, Stage: "link-propagation"})

	index := indexMovementsByTransactionAndAsset(txs)

	var result LinkPropagationResult
	for _, link := range links {
		if link.Status != models.LinkConfirmed {
			continue
		}
		result.Processed++

		source := index[movementKey{link.SourceTransactionID, link.AssetSymbol}]
		target := index[movementKey{link.TargetTransactionID, link.AssetSymbol}]
		if source == nil || target == nil || source.PriceAtTxTime == nil || target.PriceAtTxTime != nil {
			continue
		}

		propagated := *source.PriceAtTxTime
		propagated.Source = models.SourceLinkPropagated
		target.PriceAtTxTime = &propagated
		result.Propagated++
	}

	e.emit(Event{Kind: EventStageCompleted, Stage: "link-propagation", Result: result})
	return result
}

type movementKey struct {
	transactionID string
	assetSymbol   string
}

func indexMovementsByTransactionAndAsset(txs []models.Transaction) map[movementKey]*models.AssetMovement {
	index := make(map[movementKey]*models.AssetMovement)
	for i := range txs {
		tx := &txs[i]
		for _, movements := range [][]models.AssetMovement{tx.Movements.Inflows, tx.Movements.Outflows} {
			for j := range movements {
				m := &movements[j]
				index[movementKey{tx.ID, m.AssetSymbol}] = m
			}
		}
	}
	return index
}
