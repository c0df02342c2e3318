package orchestrator

import (
	"time"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
)

var errUnresolvedTransaction = errs.New(errs.NotFound, "override targets a transaction not present in this run's set")

// runState indexes one run's in-memory transaction/link set so the override
// log's Replay (internal/overridelog) can address them by fingerprint —
// overridelog.LinkStore and overridelog.PriceSetter are satisfied directly,
// since Link.ID and Transaction.ID are already the spec §3 fingerprints, not
// surrogate database ids.
type runState struct {
	txByID   map[string]*models.Transaction
	linkByID map[string]*models.Link
}

func newRunState(txs []models.Transaction, links []models.Link) *runState {
	s := &runState{
		txByID:   make(map[string]*models.Transaction, len(txs)),
		linkByID: make(map[string]*models.Link, len(links)),
	}
	for i := range txs {
		s.txByID[txs[i].ID] = &txs[i]
	}
	for i := range links {
		s.linkByID[links[i].ID] = &links[i]
	}
	return s
}

// FindLinkByFingerprint satisfies overridelog.LinkStore. A Link's ID is
// already its deterministic fingerprint (see internal/linkmatcher.Match).
func (s *runState) FindLinkByFingerprint(linkFingerprint string) (*models.Link, bool) {
	l, ok := s.linkByID[linkFingerprint]
	return l, ok
}

// Confirm and Reject delegate to the Link's own state-machine methods,
// which are idempotent and refuse to reopen a terminal status (spec §4.8).
func (s *runState) Confirm(link *models.Link, actor string, at time.Time) error {
	return link.Confirm(actor, at)
}

func (s *runState) Reject(link *models.Link, actor string, at time.Time) error {
	return link.Reject(actor, at)
}

// SetManualPrice satisfies overridelog.PriceSetter: locates the movement by
// transaction fingerprint + asset symbol across both inflows and outflows
// and overwrites its price, manual overrides taking precedence over every
// other source (spec §4.10).
func (s *runState) SetManualPrice(transactionFingerprint, assetSymbol string, price models.Price) error {
	tx, ok := s.txByID[transactionFingerprint]
	if !ok {
		return errUnresolvedTransaction
	}
	for _, movements := range [][]models.AssetMovement{tx.Movements.Inflows, tx.Movements.Outflows} {
		for i := range movements {
			if movements[i].AssetSymbol == assetSymbol {
				p := price
				movements[i].PriceAtTxTime = &p
			}
		}
	}
	return nil
}
