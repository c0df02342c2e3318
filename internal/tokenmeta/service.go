package tokenmeta

import (
	"context"
	"sync"
	"time"
)

// DefaultStaleness is the spec §4.7 staleness threshold: cached metadata
// older than this is served but triggers a background refresh.
const DefaultStaleness = 7 * 24 * time.Hour

// FetchFunc fetches fresh metadata for a batch of contracts in a single
// round-trip, as the Token Metadata Service's caller (the Processor, via a
// registered provider) would implement it.
type FetchFunc func(ctx context.Context, keys []ContractKey) (map[ContractKey]Metadata, error)

// Service is the contract-keyed metadata cache described by spec §4.7.
type Service struct {
	mu        sync.Mutex
	staleness time.Duration
	clock     func() time.Time

	byContract map[ContractKey]Metadata
	bySymbol   map[string][]ContractKey // reverse index; collisions kept as a slice
	refreshing map[ContractKey]bool     // in-flight background refreshes, deduped
}

// New constructs a Service with the spec's default staleness threshold.
func New() *Service {
	return NewWithStaleness(DefaultStaleness)
}

// NewWithStaleness constructs a Service with a caller-supplied staleness
// threshold, primarily for deterministic tests.
func NewWithStaleness(staleness time.Duration) *Service {
	return &Service{
		staleness:  staleness,
		clock:      time.Now,
		byContract: make(map[ContractKey]Metadata),
		bySymbol:   make(map[string][]ContractKey),
		refreshing: make(map[ContractKey]bool),
	}
}

// GetByContract returns the cached record for key, if any.
func (s *Service) GetByContract(key ContractKey) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byContract[key.normalize()]
	return m, ok
}

// GetByContracts performs a batch lookup in a single pass, returning only
// the keys that have a cached entry. Missing keys are simply absent from
// the result — the caller decides whether to fetch them.
func (s *Service) GetByContracts(keys []ContractKey) map[ContractKey]Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ContractKey]Metadata, len(keys))
	for _, k := range keys {
		nk := k.normalize()
		if m, ok := s.byContract[nk]; ok {
			out[k] = m
		}
	}
	return out
}

// Save merges incoming into any existing record for its contract, keyed by
// (chain, contractAddress), and updates the symbol reverse index.
func (s *Service) Save(incoming Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(incoming)
}

func (s *Service) saveLocked(incoming Metadata) {
	key := ContractKey{Chain: incoming.Chain, ContractAddress: incoming.ContractAddress}.normalize()
	if incoming.UpdatedAt == "" {
		incoming.UpdatedAt = s.clock().Format(time.RFC3339)
	}

	existing, had := s.byContract[key]
	merged := incoming
	if had {
		merged = merge(existing, incoming)
	}
	s.byContract[key] = merged

	if merged.Symbol != "" {
		s.indexSymbolLocked(merged.Symbol, key)
	}
}

func (s *Service) indexSymbolLocked(symbol string, key ContractKey) {
	for _, existing := range s.bySymbol[symbol] {
		if existing == key {
			return
		}
	}
	s.bySymbol[symbol] = append(s.bySymbol[symbol], key)
}

// BySymbol returns every contract currently indexed under symbol. More than
// one result means a symbol collision across chains/contracts; the caller
// disambiguates, the cache never guesses.
func (s *Service) BySymbol(symbol string) []ContractKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ContractKey, len(s.bySymbol[symbol]))
	copy(out, s.bySymbol[symbol])
	return out
}

// IsStale reports whether key is missing entirely or was last updated more
// than the staleness threshold ago.
func (s *Service) IsStale(key ContractKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byContract[key.normalize()]
	if !ok {
		return true
	}
	updatedAt, err := time.Parse(time.RFC3339, m.UpdatedAt)
	if err != nil {
		return true
	}
	return s.clock().Sub(updatedAt) > s.staleness
}

// RefreshInBackground fires fetchFn for keys on a separate goroutine and
// saves whatever it returns; the caller never blocks on it (spec §4.7:
// "caller never blocks"). A refresh already in flight for a given key is
// not started twice.
func (s *Service) RefreshInBackground(ctx context.Context, keys []ContractKey, fetchFn FetchFunc) {
	pending := s.claimPending(keys)
	if len(pending) == 0 {
		return
	}

	go func() {
		defer s.releasePending(pending)

		results, err := fetchFn(ctx, pending)
		if err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for k, m := range results {
			s.saveLocked(m.withKey(k))
		}
	}()
}

func (s *Service) claimPending(keys []ContractKey) []ContractKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []ContractKey
	for _, k := range keys {
		nk := k.normalize()
		if s.refreshing[nk] {
			continue
		}
		s.refreshing[nk] = true
		pending = append(pending, nk)
	}
	return pending
}

func (s *Service) releasePending(keys []ContractKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.refreshing, k)
	}
}

// withKey stamps chain/contractAddress onto m from k, since a FetchFunc's
// result map may return bare metadata keyed only by the map key.
func (m Metadata) withKey(k ContractKey) Metadata {
	m.Chain = k.Chain
	m.ContractAddress = k.ContractAddress
	return m
}
