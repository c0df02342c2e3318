package processor

import (
	"sort"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/fingerprint"
	"github.com/arcsign/exitbook/internal/models"
)

// orderGroup is every row sharing one order id (spec §4.6: "advanced trades
// produce one row per leg"). Rows without an order id are each their own
// single-row group, keyed by external id.
type orderGroup struct {
	key     string
	records []models.NormalizedRecord
}

func groupByOrderID(records []models.NormalizedRecord) []orderGroup {
	index := make(map[string]int)
	var groups []orderGroup
	for _, r := range records {
		key := r.OrderID
		if key == "" {
			key = r.ExternalID
		}
		if i, ok := index[key]; ok {
			groups[i].records = append(groups[i].records, r)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, orderGroup{key: key, records: []models.NormalizedRecord{r}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	return groups
}

func (p *Processor) processExchange(records []models.NormalizedRecord) ([]models.Transaction, error) {
	groups := groupByOrderID(records)

	var txs []models.Transaction
	var failures []groupFailure

	for _, g := range groups {
		tx, err := p.processOrder(g)
		if err != nil {
			failures = append(failures, groupFailure{groupKey: g.key, err: err})
			continue
		}
		if tx == nil {
			continue
		}
		txs = append(txs, *tx)
	}

	if err := aggregateFailures(failures); err != nil {
		return nil, err
	}
	return txs, nil
}

func (p *Processor) processOrder(g orderGroup) (*models.Transaction, error) {
	primary := g.records[0]

	var inflows, outflows []models.AssetMovement
	feesBySymbol := make(map[string]float64) // deduplicated across legs of the same order
	seenFees := make(map[string]bool)

	for _, r := range g.records {
		for symbol, amountStr := range r.Amounts {
			amount, err := parseAmount(amountStr)
			if err != nil {
				return nil, errs.Wrap(errs.Validation, "exchange order "+g.key+" asset "+symbol, err)
			}
			if amount.IsZero() {
				continue
			}
			f, _ := amount.Float64()
			m := models.AssetMovement{
				AssetID:     models.ExchangeAssetID(p.cfg.Source, symbol),
				AssetSymbol: symbol,
				GrossAmount: f,
				NetAmount:   f,
			}
			if f < 0 {
				outflows = append(outflows, m)
			} else {
				inflows = append(inflows, m)
			}
		}
		for symbol, feeStr := range r.Fees {
			amount, err := parseAmount(feeStr)
			if err != nil {
				return nil, errs.Wrap(errs.Validation, "exchange order "+g.key+" fee "+symbol, err)
			}
			// The same fee declared on several legs is counted once.
			feeKey := symbol + "|" + amount.String()
			if seenFees[feeKey] {
				continue
			}
			seenFees[feeKey] = true
			f, _ := amount.Float64()
			feesBySymbol[symbol] += f
		}
	}

	var fees []models.Fee
	for symbol, amount := range feesBySymbol {
		if amount == 0 {
			continue
		}
		fees = append(fees, models.Fee{
			AssetID:     models.ExchangeAssetID(p.cfg.Source, symbol),
			AssetSymbol: symbol,
			Amount:      amount,
			Scope:       models.ScopePlatform,
			Settlement:  models.SettlementBalance,
		})
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i].AssetSymbol < fees[j].AssetSymbol })

	tx := &models.Transaction{
		Source:     p.cfg.Source,
		ExternalID: g.key,
		Datetime:   primary.Timestamp.Format(time.RFC3339),
		Timestamp:  primary.Timestamp,
		Status:     recordStatusToTxStatus(primary.Status),
		Movements:  models.Movements{Inflows: inflows, Outflows: outflows},
		Fees:       fees,
		Operation:  classifyExchangeRow(primary.RowType),
	}
	tx.ID = fingerprint.Transaction(tx.Source, tx.ExternalID)

	if primary.TxHash != "" && primary.Network != "" {
		tx.Blockchain = &models.BlockchainRef{
			Name:            primary.Network,
			TransactionHash: primary.TxHash,
			IsConfirmed:     primary.Status == models.RecordStatusSuccess,
		}
	}

	if !tx.HasMovements() {
		return nil, nil
	}
	return tx, nil
}
