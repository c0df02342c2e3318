package processor

import (
	"github.com/shopspring/decimal"

	"github.com/arcsign/exitbook/internal/errs"
)

// parseAmount parses a normalized record's decimal-string amount precisely;
// provider-supplied amounts are always base-10 decimal strings, never
// floating point literals, so this never loses precision the way
// strconv.ParseFloat could on long fractional balances.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, errs.New(errs.Validation, "empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.Validation, "invalid decimal amount: "+s, err)
	}
	return d, nil
}

// allocateFeeByCount splits total equally across n recipients — the
// fallback proportional-allocation rule (spec §4.6 step 3) used whenever
// fiat-value weights aren't available.
func allocateFeeByCount(total decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n)))
}

// allocateFeeByFiatValue splits total proportionally to each weight (an
// inflow's fiat value) — the primary proportional-allocation rule (spec
// §4.6 step 3), live whenever every inflow asset has a cached price. Returns
// nil when every weight is zero, telling the caller to fall back to
// allocateFeeByCount instead of dividing by a zero sum.
func allocateFeeByFiatValue(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if sum.IsZero() {
		return nil
	}
	shares := make([]decimal.Decimal, len(weights))
	for i, w := range weights {
		shares[i] = total.Mul(w).Div(sum)
	}
	return shares
}
