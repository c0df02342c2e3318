package overridelog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/fingerprint"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/overridelog"
)

type fakeLinkStore struct {
	byFingerprint map[string]*models.Link
	confirmCalls  int
	rejectCalls   int
}

func (f *fakeLinkStore) FindLinkByFingerprint(fp string) (*models.Link, bool) {
	l, ok := f.byFingerprint[fp]
	return l, ok
}
func (f *fakeLinkStore) Confirm(link *models.Link, actor string, at time.Time) error {
	f.confirmCalls++
	return link.Confirm(actor, at)
}
func (f *fakeLinkStore) Reject(link *models.Link, actor string, at time.Time) error {
	f.rejectCalls++
	return link.Reject(actor, at)
}

type fakePriceSetter struct {
	calls int
	last  models.Price
}

func (f *fakePriceSetter) SetManualPrice(txFingerprint, asset string, price models.Price) error {
	f.calls++
	f.last = price
	return nil
}

func TestReplay_LinkConfirm(t *testing.T) {
	fp := fingerprint.Link("src-fp", "tgt-fp", "BTC")
	link := &models.Link{ID: "l1", Status: models.LinkSuggested}
	store := &fakeLinkStore{byFingerprint: map[string]*models.Link{fp: link}}

	events := []models.OverrideEvent{
		{ID: "e1", Actor: "alice", CreatedAt: time.Now(), Scope: models.OverrideLink,
			LinkPayload: &models.LinkPayload{SourceFingerprint: "src-fp", TargetFingerprint: "tgt-fp", AssetSymbol: "BTC"}},
	}

	result := overridelog.Replay(events, store, &fakePriceSetter{})
	assert.Equal(t, 1, result.Applied)
	assert.Empty(t, result.Unresolved)
	assert.Equal(t, models.LinkConfirmed, link.Status)
}

func TestReplay_IdempotentOnDoubleApply(t *testing.T) {
	fp := fingerprint.Link("src-fp", "tgt-fp", "BTC")
	link := &models.Link{ID: "l1", Status: models.LinkSuggested}
	store := &fakeLinkStore{byFingerprint: map[string]*models.Link{fp: link}}

	event := models.OverrideEvent{ID: "e1", Actor: "alice", CreatedAt: time.Now(), Scope: models.OverrideLink,
		LinkPayload: &models.LinkPayload{SourceFingerprint: "src-fp", TargetFingerprint: "tgt-fp", AssetSymbol: "BTC"}}

	r1 := overridelog.Replay([]models.OverrideEvent{event}, store, &fakePriceSetter{})
	r2 := overridelog.Replay([]models.OverrideEvent{event}, store, &fakePriceSetter{})
	assert.Equal(t, 1, r1.Applied)
	assert.Equal(t, 1, r2.Applied)
	assert.Equal(t, models.LinkConfirmed, link.Status)
}

func TestReplay_UnresolvedPreserved(t *testing.T) {
	store := &fakeLinkStore{byFingerprint: map[string]*models.Link{}}
	events := []models.OverrideEvent{
		{ID: "e1", CreatedAt: time.Now(), Scope: models.OverrideLink,
			LinkPayload: &models.LinkPayload{SourceFingerprint: "a", TargetFingerprint: "b", AssetSymbol: "ETH"}},
	}

	result := overridelog.Replay(events, store, &fakePriceSetter{})
	assert.Equal(t, 0, result.Applied)
	require.Len(t, result.Unresolved, 1)
	assert.Equal(t, "e1", result.Unresolved[0].ID)
}

func TestReplay_PriceOverride(t *testing.T) {
	setter := &fakePriceSetter{}
	events := []models.OverrideEvent{
		{ID: "e1", CreatedAt: time.Now(), Scope: models.OverridePrice,
			PricePayload: &models.PricePayload{TransactionFingerprint: "tx1", AssetSymbol: "BTC", Price: 51000, Currency: "USD"}},
	}
	result := overridelog.Replay(events, &fakeLinkStore{byFingerprint: map[string]*models.Link{}}, setter)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, setter.calls)
	assert.Equal(t, "manual-override", setter.last.Source)
}

func TestReplay_OrdersByCreatedAtThenID(t *testing.T) {
	var order []string
	fp := fingerprint.Link("a", "b", "BTC")
	link := &models.Link{ID: "l1", Status: models.LinkSuggested}
	store := &recordingLinkStore{fakeLinkStore: fakeLinkStore{byFingerprint: map[string]*models.Link{fp: link}}, order: &order}

	t0 := time.Unix(1000, 0)
	events := []models.OverrideEvent{
		{ID: "z", CreatedAt: t0, Scope: models.OverrideUnlink, LinkPayload: &models.LinkPayload{SourceFingerprint: "a", TargetFingerprint: "b", AssetSymbol: "BTC"}},
		{ID: "a", CreatedAt: t0, Scope: models.OverrideLink, LinkPayload: &models.LinkPayload{SourceFingerprint: "a", TargetFingerprint: "b", AssetSymbol: "BTC"}},
	}
	overridelog.Replay(events, store, &fakePriceSetter{})
	require.Len(t, order, 2)
	assert.Equal(t, []string{"confirm", "reject"}, order)
}

type recordingLinkStore struct {
	fakeLinkStore
	order *[]string
}

func (r *recordingLinkStore) Confirm(link *models.Link, actor string, at time.Time) error {
	*r.order = append(*r.order, "confirm")
	return link.Confirm(actor, at)
}
func (r *recordingLinkStore) Reject(link *models.Link, actor string, at time.Time) error {
	*r.order = append(*r.order, "reject")
	return link.Reject(actor, at)
}
