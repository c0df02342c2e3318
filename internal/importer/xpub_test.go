package importer_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/importer"
	"github.com/arcsign/exitbook/internal/provider"
)

func testXpub(t *testing.T) string {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)
	return neutered.String()
}

func TestXpubGapScanner_StopsAfterGapConsecutiveEmptyAddresses(t *testing.T) {
	xpub := testXpub(t)
	var probed []string
	active := map[int]bool{0: true, 1: true} // only the first two external-chain addresses are active

	scanner := importer.XpubGapScanner{
		Gap: 3,
		HasActivity: func(ctx context.Context, address string) (bool, error) {
			probed = append(probed, address)
			idx := len(probed) - 1
			return active[idx], nil
		},
	}

	addrs, err := scanner.Scan(context.Background(), xpub)
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
	// external chain: indices 0,1 active, then 2,3,4 probed-empty (gap=3) -> stop. Internal chain then scans its own gap of 3 with none active.
	assert.GreaterOrEqual(t, len(probed), 5)
}

func TestXpubGapScanner_RejectsExtendedPrivateKey(t *testing.T) {
	seed := make([]byte, 32)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	scanner := importer.XpubGapScanner{HasActivity: func(ctx context.Context, address string) (bool, error) { return false, nil }}
	_, err = scanner.Scan(context.Background(), master.String())
	require.Error(t, err)
}

func TestXpubImporter_StreamsDerivedAddressesAndDedupsAcrossThem(t *testing.T) {
	xpub := testXpub(t)
	client := newPagedClient()

	calls := 0
	scanner := importer.XpubGapScanner{
		Gap: 1,
		HasActivity: func(ctx context.Context, address string) (bool, error) {
			// Index 0 of each chain is active, index 1 is empty — with
			// Gap=1 that yields exactly one derived address per chain,
			// two addresses total.
			calls++
			return calls%2 == 1, nil
		},
	}

	mgr := setupManager(t, "bitcoin", client)
	stream := importer.OperationStream{
		OperationType: "native",
		Fetch: func(ctx context.Context, c provider.ApiClient, cursor map[string]any) (provider.Page, error) {
			// Both derived addresses see the same transaction id — the
			// classic sweep-transaction case the dedup guards against.
			return c.GetAddressTransactions(ctx, "shared", cursor)
		},
		IDOf: idOf,
	}
	// pagedClient serves one page per call to a given address key; since both
	// derived addresses query the same "shared" key, two pages are queued so
	// each address's single fetch actually returns the duplicate record
	// instead of the second call draining an empty backlog.
	client.pages["shared"] = []provider.Page{
		{Data: []map[string]any{{"id": "sweep-tx"}}, IsComplete: true},
		{Data: []map[string]any{{"id": "sweep-tx"}}, IsComplete: true},
	}

	im := importer.NewBlockchainImporter(mgr, "bitcoin", "bitcoin", []importer.OperationStream{stream}, normalizeNative)
	xpubImporter := importer.NewXpubImporter(scanner, im)

	var seen []string
	err := xpubImporter.ImportStreaming(context.Background(), importer.Params{Address: xpub}, func(b importer.Batch) error {
		for _, r := range b.NormalizedRecords {
			seen = append(seen, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sweep-tx"}, seen, "the second address' copy of the same transaction id must be deduped")
}
