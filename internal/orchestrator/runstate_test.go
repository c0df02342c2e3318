package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/models"
)

func TestRunState_SetManualPriceOverwritesMatchingMovement(t *testing.T) {
	tx := models.Transaction{
		ID: "fp-tx1",
		Movements: models.Movements{
			Inflows: []models.AssetMovement{{AssetSymbol: "ETH", NetAmount: 1}},
		},
	}
	s := newRunState([]models.Transaction{tx}, nil)

	err := s.SetManualPrice("fp-tx1", "ETH", models.Price{Price: 3000, Currency: "USD"})
	require.NoError(t, err)
	require.NotNil(t, s.txByID["fp-tx1"].Movements.Inflows[0].PriceAtTxTime)
	assert.Equal(t, 3000.0, s.txByID["fp-tx1"].Movements.Inflows[0].PriceAtTxTime.Price)
}

func TestRunState_SetManualPriceUnresolvedTransactionErrors(t *testing.T) {
	s := newRunState(nil, nil)
	err := s.SetManualPrice("missing", "ETH", models.Price{Price: 1})
	require.Error(t, err)
}

func TestRunState_ConfirmIsIdempotent(t *testing.T) {
	link := models.Link{ID: "fp-link", Status: models.LinkSuggested}
	s := newRunState(nil, []models.Link{link})

	found, ok := s.FindLinkByFingerprint("fp-link")
	require.True(t, ok)

	now := time.Now()
	require.NoError(t, s.Confirm(found, "user", now))
	require.NoError(t, s.Confirm(found, "user", now), "confirming twice must stay a no-op")
	assert.Equal(t, models.LinkConfirmed, found.Status)
}
