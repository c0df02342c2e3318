package processor

import (
	"strings"

	"github.com/arcsign/exitbook/internal/models"
)

// classification is a classified operation plus an optional note for
// ambiguous cases (spec §4.6 step 4: "ambiguous cases default to transfer
// and emit a note").
type classification struct {
	operation models.Operation
	ambiguous bool
}

// classifyBlockchainOperation is rule-based from fund-flow shape and
// instruction/method names (spec §4.6 step 4). It never infers direction
// from the absence of data.
func classifyBlockchainOperation(methodName string, inflows, outflows []models.AssetMovement) classification {
	method := strings.ToLower(methodName)

	switch {
	case strings.Contains(method, "unstake"):
		return classification{operation: models.Operation{Category: models.CategoryStaking, Type: models.OpUnstake}}
	case strings.Contains(method, "stake"):
		return classification{operation: models.Operation{Category: models.CategoryStaking, Type: models.OpStake}}
	case strings.Contains(method, "transfer"):
		return classification{operation: transferDirection(inflows, outflows)}
	}

	if len(inflows) > 0 && len(outflows) > 0 && distinctAssets(inflows, outflows) {
		return classification{operation: models.Operation{Category: models.CategoryTrade, Type: models.OpSwap}}
	}
	if len(inflows) > 0 && len(outflows) == 0 {
		return classification{operation: models.Operation{Category: models.CategoryTransfer, Type: models.OpDeposit}}
	}
	if len(outflows) > 0 && len(inflows) == 0 {
		return classification{operation: models.Operation{Category: models.CategoryTransfer, Type: models.OpWithdrawal}}
	}

	return classification{operation: models.Operation{Category: models.CategoryTransfer, Type: models.OpDeposit}, ambiguous: true}
}

func transferDirection(inflows, outflows []models.AssetMovement) models.Operation {
	if len(outflows) > 0 && len(inflows) == 0 {
		return models.Operation{Category: models.CategoryTransfer, Type: models.OpWithdrawal}
	}
	return models.Operation{Category: models.CategoryTransfer, Type: models.OpDeposit}
}

func distinctAssets(inflows, outflows []models.AssetMovement) bool {
	in := make(map[models.AssetID]bool, len(inflows))
	for _, m := range inflows {
		in[m.AssetID] = true
	}
	for _, m := range outflows {
		if !in[m.AssetID] {
			return true
		}
	}
	return false
}

// classifyExchangeRow classifies by row type (spec §4.6's exchange path:
// "interest -> {staking, reward}; fiat_deposit -> {transfer, deposit};
// advanced_trade_fill pair -> {trade, swap}; ...").
func classifyExchangeRow(rowType string) models.Operation {
	switch strings.ToLower(rowType) {
	case "interest":
		return models.Operation{Category: models.CategoryStaking, Type: models.OpReward}
	case "fiat_deposit", "deposit":
		return models.Operation{Category: models.CategoryTransfer, Type: models.OpDeposit}
	case "fiat_withdrawal", "withdrawal":
		return models.Operation{Category: models.CategoryTransfer, Type: models.OpWithdrawal}
	case "advanced_trade_fill", "trade", "fill":
		return models.Operation{Category: models.CategoryTrade, Type: models.OpSwap}
	default:
		return models.Operation{Category: models.CategoryOther, Type: models.OpFee}
	}
}
