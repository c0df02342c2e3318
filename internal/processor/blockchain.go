package processor

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/fingerprint"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/tokenmeta"
)

// txGroup is every record sharing one transaction hash (spec §4.6 step 1:
// "native transfer + token transfers + internal calls + receipts").
type txGroup struct {
	hash    string
	records []models.NormalizedRecord
}

func groupByTxHash(records []models.NormalizedRecord) []txGroup {
	index := make(map[string]int)
	var groups []txGroup
	for _, r := range records {
		key := r.TxHash
		if key == "" {
			key = r.ExternalID
		}
		if i, ok := index[key]; ok {
			groups[i].records = append(groups[i].records, r)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, txGroup{hash: key, records: []models.NormalizedRecord{r}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].hash < groups[j].hash })
	return groups
}

func (p *Processor) processBlockchain(ctx context.Context, records []models.NormalizedRecord) ([]models.Transaction, error) {
	groups := groupByTxHash(records)

	var txs []models.Transaction
	var failures []groupFailure

	for _, g := range groups {
		tx, err := p.processGroup(ctx, g)
		if err != nil {
			failures = append(failures, groupFailure{groupKey: g.hash, err: err})
			continue
		}
		if tx == nil {
			continue // zero-impact filter (step 8)
		}
		txs = append(txs, *tx)
	}

	if err := aggregateFailures(failures); err != nil {
		return nil, err
	}
	return txs, nil
}

func (p *Processor) processGroup(ctx context.Context, g txGroup) (*models.Transaction, error) {
	primary := g.records[0]
	for _, r := range g.records {
		if r.BlockHeight != nil {
			primary = r
			break
		}
	}

	contracts := collectContractKeys(g, p.cfg.Chain)
	metaByContract := p.lookupMetadata(ctx, contracts)

	inflows, outflows, err := p.fundFlow(g, metaByContract)
	if err != nil {
		return nil, err
	}

	fees, err := p.attributeFees(g, inflows, outflows)
	if err != nil {
		return nil, err
	}

	class := classifyBlockchainOperation(primary.MethodName, inflows, outflows)

	tx := &models.Transaction{
		Source:     p.cfg.Source,
		ExternalID: g.hash,
		Datetime:   primary.Timestamp.Format(time.RFC3339),
		Timestamp:  primary.Timestamp,
		Status:     recordStatusToTxStatus(primary.Status),
		From:       primary.From,
		To:         primary.To,
		Movements:  models.Movements{Inflows: inflows, Outflows: outflows},
		Fees:       fees,
		Operation:  class.operation,
		Blockchain: &models.BlockchainRef{
			Name:            p.cfg.Chain,
			BlockHeight:     primary.BlockHeight,
			TransactionHash: g.hash,
			IsConfirmed:     primary.Status == models.RecordStatusSuccess,
		},
	}
	tx.ID = fingerprint.Transaction(tx.Source, tx.ExternalID)

	if class.ambiguous {
		tx.AddNote("AMBIGUOUS_CLASSIFICATION", models.SeverityWarning, "operation classification fell back to the default transfer rule", nil)
	}

	annotateScam(tx, metaByContract)

	if !tx.HasMovements() {
		return nil, nil // step 8: zero-impact filter
	}
	return tx, nil
}

func recordStatusToTxStatus(s models.RecordStatus) models.TxStatus {
	switch s {
	case models.RecordStatusSuccess:
		return models.TxSuccess
	case models.RecordStatusFailed:
		return models.TxFailed
	default:
		return models.TxPending
	}
}

func collectContractKeys(g txGroup, chain string) []tokenmeta.ContractKey {
	seen := make(map[string]bool)
	var keys []tokenmeta.ContractKey
	for _, r := range g.records {
		if r.ContractAddr == "" {
			continue
		}
		if seen[r.ContractAddr] {
			continue
		}
		seen[r.ContractAddr] = true
		keys = append(keys, tokenmeta.ContractKey{Chain: chain, ContractAddress: r.ContractAddr})
	}
	return keys
}

// lookupMetadata batch-fetches and, for stale entries, kicks off a
// fire-and-forget refresh (spec §4.6 step 6 + §4.7). A nil TokenMeta
// disables enrichment entirely.
func (p *Processor) lookupMetadata(ctx context.Context, keys []tokenmeta.ContractKey) map[tokenmeta.ContractKey]tokenmeta.Metadata {
	if p.cfg.TokenMeta == nil || len(keys) == 0 {
		return nil
	}
	found := p.cfg.TokenMeta.GetByContracts(keys)
	var stale []tokenmeta.ContractKey
	for _, k := range keys {
		if p.cfg.TokenMeta.IsStale(k) {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 && p.cfg.MetadataFetcher != nil {
		p.cfg.TokenMeta.RefreshInBackground(ctx, stale, p.cfg.MetadataFetcher)
	}
	return found
}

// fundFlow classifies each record's asset deltas from the user's perspective
// (spec §4.6 step 2) and resolves asset identity (step 5), applying token
// metadata enrichment (step 6) along the way.
func (p *Processor) fundFlow(g txGroup, meta map[tokenmeta.ContractKey]tokenmeta.Metadata) ([]models.AssetMovement, []models.AssetMovement, error) {
	var inflows, outflows []models.AssetMovement

	for _, r := range g.records {
		toQueried := r.To != "" && p.isQueried(r.To)
		fromQueried := r.From != "" && p.isQueried(r.From)
		if !toQueried && !fromQueried {
			continue
		}

		for symbol, amountStr := range r.Amounts {
			amount, err := parseAmount(amountStr)
			if err != nil {
				return nil, nil, errs.Wrap(errs.Validation, "fund-flow: record "+r.ID+" asset "+symbol, err)
			}
			if amount.IsZero() {
				continue
			}

			assetID, assetSymbol, decimals, err := p.resolveAssetIdentity(r, symbol, meta)
			if err != nil {
				return nil, nil, err
			}

			m := models.AssetMovement{
				AssetID:     assetID,
				AssetSymbol: assetSymbol,
				GrossAmount: toFloat(amount, decimals),
				NetAmount:   toFloat(amount, decimals),
			}

			switch {
			case toQueried && !fromQueried:
				inflows = append(inflows, m)
			case fromQueried && !toQueried:
				outflows = append(outflows, m)
			default:
				// Both sides are queried addresses (an internal transfer
				// between the user's own accounts): record both legs so
				// the net economic effect is zero but visible.
				inflows = append(inflows, m)
				outflows = append(outflows, m)
			}
		}
	}
	return inflows, outflows, nil
}

// resolveAssetIdentity implements spec §4.6 step 5. A token-typed record
// lacking a contract address is a fail-fast error, never silently coerced.
func (p *Processor) resolveAssetIdentity(r models.NormalizedRecord, symbol string, meta map[tokenmeta.ContractKey]tokenmeta.Metadata) (models.AssetID, string, *int, error) {
	if r.ContractAddr != "" {
		key := tokenmeta.ContractKey{Chain: p.cfg.Chain, ContractAddress: r.ContractAddr}
		assetSymbol := symbol
		var decimals *int
		if m, ok := meta[key]; ok {
			if m.Symbol != "" {
				assetSymbol = m.Symbol
			}
			decimals = m.Decimals
		}
		return models.ContractAssetID(p.cfg.Chain, r.ContractAddr), assetSymbol, decimals, nil
	}

	if symbol == p.cfg.NativeSymbol {
		return models.NativeAssetID(p.cfg.Chain), symbol, nil, nil
	}
	for _, secondary := range p.cfg.SecondaryNativeSymbols {
		if symbol == secondary {
			return models.SecondaryNativeAssetID(p.cfg.Chain, symbol), symbol, nil, nil
		}
	}

	if r.OperationType == "token" {
		return "", "", nil, errs.Newf(errs.Validation, "record %s: token-typed movement %q has no contract address", r.ID, symbol)
	}
	// Unrecognized non-token symbol (e.g. a chain-specific gas token not
	// declared as secondary-native): treat as a secondary native rather
	// than failing the whole group.
	return models.SecondaryNativeAssetID(p.cfg.Chain, symbol), symbol, nil, nil
}

func toFloat(d decimal.Decimal, decimals *int) float64 {
	f, _ := d.Float64()
	_ = decimals // metadata decimals inform display/rounding upstream, not this conversion
	return f
}

// attributeFees implements spec §4.6 step 3: fees are recorded only when
// the user initiated the transaction (outflows present, or the user is a
// from address anywhere in the group) — and, when the user's queried
// address only ever acts through an internal call (a smart-contract
// account, not an externally-owned one), only when that same address also
// paid the network fee directly. A single platform fee is then split
// across inflow assets proportional to fiat value where every inflow is
// priced, else by plain asset count.
func (p *Processor) attributeFees(g txGroup, inflows, outflows []models.AssetMovement) ([]models.Fee, error) {
	userInitiated := len(outflows) > 0
	if !userInitiated {
		for _, r := range g.records {
			if r.From != "" && p.isQueried(r.From) {
				userInitiated = true
				break
			}
		}
	}
	if !userInitiated {
		return nil, nil
	}

	if p.userActsOnlyAsContract(g) {
		feePayer := feePayerOf(g)
		if feePayer == "" || !p.isQueried(feePayer) {
			return nil, nil
		}
	}

	var fees []models.Fee
	for _, r := range g.records {
		for symbol, amountStr := range r.Fees {
			amount, err := parseAmount(amountStr)
			if err != nil {
				return nil, errs.Wrap(errs.Validation, "fee attribution: record "+r.ID+" asset "+symbol, err)
			}
			if amount.IsZero() {
				continue
			}
			assetID := models.NativeAssetID(p.cfg.Chain)
			if symbol != p.cfg.NativeSymbol {
				assetID = models.SecondaryNativeAssetID(p.cfg.Chain, symbol)
			}
			for _, share := range p.allocateFeeAcrossInflows(amount, inflows, r.Timestamp) {
				if share.IsZero() {
					continue
				}
				f, _ := share.Float64()
				fees = append(fees, models.Fee{
					AssetID:     assetID,
					AssetSymbol: symbol,
					Amount:      f,
					Scope:       models.ScopeNetwork,
					Settlement:  models.SettlementBalance,
				})
			}
		}
	}
	return fees, nil
}

// allocateFeeAcrossInflows returns one share of total per inflow, computed
// by fiat value (p.cfg.PriceLookup) when every inflow asset prices, else
// split equally by count. A group with no inflows (outflow-only, e.g. a
// pure withdrawal) gets a single full-amount share.
func (p *Processor) allocateFeeAcrossInflows(total decimal.Decimal, inflows []models.AssetMovement, at time.Time) []decimal.Decimal {
	if len(inflows) == 0 {
		return []decimal.Decimal{total}
	}

	if p.cfg.PriceLookup != nil {
		weights := make([]decimal.Decimal, len(inflows))
		allPriced := true
		for i, m := range inflows {
			price, ok := p.cfg.PriceLookup(m.AssetSymbol, at)
			if !ok {
				allPriced = false
				break
			}
			weights[i] = decimal.NewFromFloat(m.GrossAmount * price)
		}
		if allPriced {
			if shares := allocateFeeByFiatValue(total, weights); shares != nil {
				return shares
			}
		}
	}

	share := allocateFeeByCount(total, len(inflows))
	shares := make([]decimal.Decimal, len(inflows))
	for i := range shares {
		shares[i] = share
	}
	return shares
}

// userActsOnlyAsContract reports whether every queried-address appearance
// in g is as the from side of an internal call — i.e. the user is only
// ever seen acting as a contract account that some other transaction
// invoked, never as the transaction's own externally-owned sender.
func (p *Processor) userActsOnlyAsContract(g txGroup) bool {
	seenAsContract := false
	for _, r := range g.records {
		if r.From == "" || !p.isQueried(r.From) {
			continue
		}
		if r.OperationType != "internal" {
			return false
		}
		seenAsContract = true
	}
	return seenAsContract
}

// feePayerOf returns the From address of the group's fee-bearing record
// (the transaction that actually paid the network fee), empty if none.
func feePayerOf(g txGroup) string {
	for _, r := range g.records {
		if len(r.Fees) > 0 {
			return r.From
		}
	}
	return ""
}

// annotateScam implements spec §4.6 step 7: heuristic symbol pattern plus
// provider-declared possibleSpam, annotate without dropping.
func annotateScam(tx *models.Transaction, meta map[tokenmeta.ContractKey]tokenmeta.Metadata) {
	flagged := make(map[string]bool)
	check := func(symbol string) {
		if flagged[symbol] {
			return
		}
		if looksLikeScamSymbol(symbol) {
			flagged[symbol] = true
		}
	}
	for _, m := range tx.Movements.Inflows {
		check(m.AssetSymbol)
	}
	for _, m := range tx.Movements.Outflows {
		check(m.AssetSymbol)
	}
	for _, metadata := range meta {
		if metadata.PossibleSpam {
			flagged[metadata.Symbol] = true
		}
	}
	for symbol := range flagged {
		tx.AddNote("SCAM_TOKEN", models.SeverityWarning, "suspected scam token: "+symbol, map[string]any{"symbol": symbol})
	}
}
