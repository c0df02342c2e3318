package tokenmeta_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/tokenmeta"
)

func ptr(i int) *int { return &i }

func TestService_SaveThenGetByContract(t *testing.T) {
	s := tokenmeta.New()
	key := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xABC"}

	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xabc", Symbol: "USDC", Decimals: ptr(6)})

	m, ok := s.GetByContract(key)
	require.True(t, ok, "lookup is case-insensitive on contract address")
	assert.Equal(t, "USDC", m.Symbol)
	assert.Equal(t, 6, *m.Decimals)
}

func TestService_SaveMergesPartialResponsesWithoutDiscardingKnownFields(t *testing.T) {
	s := tokenmeta.New()
	key := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xabc"}

	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xabc", Symbol: "USDC", Decimals: ptr(6)})
	// A later partial response only carries the spam flag.
	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xabc", PossibleSpam: true})

	m, ok := s.GetByContract(key)
	require.True(t, ok)
	assert.Equal(t, "USDC", m.Symbol, "symbol from the earlier save must survive")
	require.NotNil(t, m.Decimals)
	assert.Equal(t, 6, *m.Decimals)
	assert.True(t, m.PossibleSpam)
}

func TestService_GetByContractsBatchOmitsMisses(t *testing.T) {
	s := tokenmeta.New()
	known := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xabc"}
	unknown := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xdead"}
	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xabc", Symbol: "USDC"})

	out := s.GetByContracts([]tokenmeta.ContractKey{known, unknown})
	assert.Len(t, out, 1)
	_, ok := out[unknown]
	assert.False(t, ok)
}

func TestService_BySymbolReturnsCollisionsAsArray(t *testing.T) {
	s := tokenmeta.New()
	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xaaa", Symbol: "WRAPPED"})
	s.Save(tokenmeta.Metadata{Chain: "polygon", ContractAddress: "0xbbb", Symbol: "WRAPPED"})

	keys := s.BySymbol("WRAPPED")
	assert.Len(t, keys, 2)
}

func TestService_IsStaleTrueForMissingOrOldEntries(t *testing.T) {
	s := tokenmeta.NewWithStaleness(0) // anything not refreshed this instant is stale
	key := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xabc"}

	assert.True(t, s.IsStale(key), "missing entry is stale")

	s.Save(tokenmeta.Metadata{Chain: "ethereum", ContractAddress: "0xabc", Symbol: "USDC"})
	assert.True(t, s.IsStale(key), "zero staleness window means saved-a-moment-ago is already stale")
}

func TestService_RefreshInBackgroundSavesFetchResultAndDedupsConcurrentCalls(t *testing.T) {
	s := tokenmeta.New()
	key := tokenmeta.ContractKey{Chain: "ethereum", ContractAddress: "0xabc"}

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})
	fetch := func(ctx context.Context, keys []tokenmeta.ContractKey) (map[tokenmeta.ContractKey]tokenmeta.Metadata, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		defer close(done)
		return map[tokenmeta.ContractKey]tokenmeta.Metadata{
			keys[0]: {Symbol: "USDC", Decimals: ptr(6)},
		}, nil
	}

	s.RefreshInBackground(context.Background(), []tokenmeta.ContractKey{key}, fetch)
	// A second call for the same key while the first is in flight must not
	// start a duplicate fetch.
	s.RefreshInBackground(context.Background(), []tokenmeta.ContractKey{key}, fetch)

	<-done
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	m, ok := s.GetByContract(key)
	require.True(t, ok)
	assert.Equal(t, "USDC", m.Symbol)
}
