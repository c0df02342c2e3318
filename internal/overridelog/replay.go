package overridelog

import (
	"sort"
	"time"

	"github.com/arcsign/exitbook/internal/fingerprint"
	"github.com/arcsign/exitbook/internal/models"
)

// LinkStore is the subset of link persistence the replay needs. Confirm and
// Reject must be idempotent (spec §8 invariant 5) — calling either twice
// with the same fingerprint produces the same final state.
type LinkStore interface {
	FindLinkByFingerprint(linkFingerprint string) (*models.Link, bool)
	Confirm(link *models.Link, actor string, at time.Time) error
	Reject(link *models.Link, actor string, at time.Time) error
}

// PriceSetter applies a manual price override to the movement identified by
// a transaction fingerprint + asset symbol. Manual prices take precedence
// over every other price source (spec §4.10).
type PriceSetter interface {
	SetManualPrice(transactionFingerprint, assetSymbol string, price models.Price) error
}

// Result summarizes one replay pass.
type Result struct {
	Applied    int
	Unresolved []models.OverrideEvent
}

// Replay applies events in createdAt order (ties broken by id,
// lexicographically — spec §5) against links and prices. Unresolved
// overrides (target not found, typically from a partial re-ingestion) are
// preserved and reported, never discarded.
func Replay(events []models.OverrideEvent, links LinkStore, prices PriceSetter) Result {
	sorted := make([]models.OverrideEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var result Result
	for _, event := range sorted {
		if applyOne(event, links, prices) {
			result.Applied++
		} else {
			result.Unresolved = append(result.Unresolved, event)
		}
	}
	return result
}

func applyOne(event models.OverrideEvent, links LinkStore, prices PriceSetter) bool {
	switch event.Scope {
	case models.OverrideLink, models.OverrideUnlink:
		if event.LinkPayload == nil {
			return false
		}
		fp := fingerprint.Link(event.LinkPayload.SourceFingerprint, event.LinkPayload.TargetFingerprint, event.LinkPayload.AssetSymbol)
		link, ok := links.FindLinkByFingerprint(fp)
		if !ok {
			return false
		}
		if event.Scope == models.OverrideLink {
			return links.Confirm(link, event.Actor, event.CreatedAt) == nil
		}
		return links.Reject(link, event.Actor, event.CreatedAt) == nil

	case models.OverridePrice:
		if event.PricePayload == nil {
			return false
		}
		price := models.Price{
			Price:       event.PricePayload.Price,
			Currency:    event.PricePayload.Currency,
			Source:      "manual-override",
			FetchedAt:   event.CreatedAt.Format(time.RFC3339),
			Granularity: models.GranularityExact,
		}
		return prices.SetManualPrice(event.PricePayload.TransactionFingerprint, event.PricePayload.AssetSymbol, price) == nil

	default:
		return false
	}
}
