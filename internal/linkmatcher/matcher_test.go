package linkmatcher_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/linkmatcher"
	"github.com/arcsign/exitbook/internal/models"
)

func withdrawal(source, id, asset string, amount float64, at time.Time) models.Transaction {
	return models.Transaction{
		ID: "out-" + id, Source: source, Timestamp: at,
		Movements: models.Movements{Outflows: []models.AssetMovement{{AssetSymbol: asset, NetAmount: amount}}},
	}
}

func deposit(source, id, asset string, amount float64, at time.Time) models.Transaction {
	return models.Transaction{
		ID: "in-" + id, Source: source, Timestamp: at,
		Movements: models.Movements{Inflows: []models.AssetMovement{{AssetSymbol: asset, NetAmount: amount}}},
	}
}

func TestMatch_PairsWithdrawalToDepositWithinWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		deposit("coldwallet", "1", "BTC", 0.999, base.Add(2*time.Hour)),
	}

	links, gaps := linkmatcher.Match(txs, nil, linkmatcher.DefaultConfig())
	require.Len(t, links, 1)
	l := links[0]
	assert.Equal(t, "out-1", l.SourceTransactionID)
	assert.Equal(t, "in-1", l.TargetTransactionID)
	assert.Equal(t, models.LinkSuggested, l.Status)
	assert.Greater(t, l.ConfidenceScore, 0.95)
	assert.Equal(t, "high_confidence", l.LinkType)
	assert.Empty(t, gaps.UncoveredInflows)
	assert.Empty(t, gaps.UnmatchedOutflows)
}

func TestMatch_RejectsPairingOutsideAmountWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		deposit("coldwallet", "1", "BTC", 0.80, base.Add(time.Hour)), // 20% loss, outside 5% band
	}

	links, gaps := linkmatcher.Match(txs, nil, linkmatcher.DefaultConfig())
	assert.Empty(t, links)
	assert.Equal(t, []string{"out-1"}, gaps.UnmatchedOutflows["BTC"])
	assert.Equal(t, []string{"in-1"}, gaps.UncoveredInflows["BTC"])
}

func TestMatch_RejectsPairingOutsideTimeWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := linkmatcher.DefaultConfig()
	cfg.MaxGap = time.Hour
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		deposit("coldwallet", "1", "BTC", 1.0, base.Add(5*time.Hour)),
	}

	links, _ := linkmatcher.Match(txs, nil, cfg)
	assert.Empty(t, links)
}

func TestMatch_IgnoresSameSourcePairing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		deposit("kraken", "1", "BTC", 1.0, base.Add(time.Hour)),
	}

	links, _ := linkmatcher.Match(txs, nil, linkmatcher.DefaultConfig())
	assert.Empty(t, links, "a withdrawal and deposit on the same source is never a cross-source link")
}

func TestMatch_SkipsAlreadyEmittedDeterministicID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		deposit("coldwallet", "1", "BTC", 1.0, base.Add(time.Hour)),
	}

	first, _ := linkmatcher.Match(txs, nil, linkmatcher.DefaultConfig())
	require.Len(t, first, 1)

	// Re-running with the first result as "existing" (simulating a
	// confirmed/rejected link already on file) must not re-emit it.
	second, _ := linkmatcher.Match(txs, first, linkmatcher.DefaultConfig())
	assert.Empty(t, second)
}

func TestMatch_BestAvailableInflowWinsOverAnEarlierWorseMatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		// Both candidates pass the window; the closer amount/time should win.
		deposit("coldwallet", "1", "BTC", 0.97, base.Add(10*time.Hour)),
		deposit("coldwallet", "2", "BTC", 1.0, base.Add(time.Hour)),
	}

	links, _ := linkmatcher.Match(txs, nil, linkmatcher.DefaultConfig())
	require.Len(t, links, 1)
	assert.Equal(t, "in-2", links[0].TargetTransactionID)
}

func TestMatch_DiscardsBelowSuggestThreshold(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := linkmatcher.DefaultConfig()
	cfg.MaxGap = 10 * time.Hour
	txs := []models.Transaction{
		withdrawal("kraken", "1", "BTC", 1.0, base),
		// Amount similarity is within the band but the gap eats most of the
		// timing factor, pushing confidence under the 0.6 floor.
		deposit("coldwallet", "1", "BTC", 0.999, base.Add(9*time.Hour+55*time.Minute)),
	}

	links, gaps := linkmatcher.Match(txs, nil, cfg)
	assert.Empty(t, links)
	assert.NotEmpty(t, gaps.UnmatchedOutflows["BTC"])
}
