package providermgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/provider"
)

var errRateLimitPersisted = errs.New(errs.RateLimited, "rate limit persisted past configured window")

// Config tunes the circuit breaker and selection behavior. Zero values fall
// back to the spec's stated defaults.
type Config struct {
	FailureThreshold int           // default 5, per spec §4.3
	SuccessThreshold int           // default 2, mirroring SimpleHealthTracker
	CooldownWindow   time.Duration // default 30s
	RateLimitWindow  time.Duration // default 60s, before a rate-limit streak counts as failure
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.CooldownWindow <= 0 {
		c.CooldownWindow = 30 * time.Second
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 60 * time.Second
	}
	return c
}

// chainPool is the ordered provider list plus per-provider state for one
// blockchain.
type chainPool struct {
	order []string // stable preference order, as registered
	state map[string]*providerState
}

// Manager is the Provider Manager: per-chain ordered pools with health
// scoring, circuit breaking, and failover.
type Manager struct {
	cfg      Config
	registry *provider.Registry
	clock    func() time.Time
	events   EventSink

	mu    sync.RWMutex
	pools map[string]*chainPool
}

// NewManager constructs a Manager reading provider availability from reg.
func NewManager(reg *provider.Registry, cfg Config, events EventSink) *Manager {
	if events == nil {
		events = NoopEventSink{}
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		registry: reg,
		clock:    time.Now,
		events:   events,
		pools:    make(map[string]*chainPool),
	}
}

// Register declares chain's ordered provider preference list. Providers not
// found in the registry are silently skipped (they were never enrolled,
// e.g. missing API key — spec §4.2).
func (m *Manager) Register(chain string, providerNamesInPriorityOrder []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool := &chainPool{state: make(map[string]*providerState)}
	for _, name := range providerNamesInPriorityOrder {
		if _, ok := m.registry.Metadata(name); !ok {
			continue
		}
		pool.order = append(pool.order, name)
		pool.state[name] = newProviderState(name)
	}
	m.pools[chain] = pool
}

// candidate is one scored, available provider.
type candidate struct {
	name  string
	score float64
}

// selectCandidates returns providers for chain in descending score order,
// excluding those whose circuit is open (not yet eligible for a half-open
// trial).
func (m *Manager) selectCandidates(chain string) ([]candidate, error) {
	m.mu.RLock()
	pool, ok := m.pools[chain]
	m.mu.RUnlock()
	if !ok || len(pool.order) == 0 {
		return nil, errs.Newf(errs.ProviderUnavailable, "no providers registered for chain %s", chain)
	}

	var cands []candidate
	for rank, name := range pool.order {
		st := pool.state[name]
		circuit := st.availability(m.cfg.CooldownWindow, m.clock)
		if circuit == CircuitOpen {
			continue
		}
		cands = append(cands, candidate{name: name, score: st.score(rank)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.name
	}
	m.events.Emit(Event{Kind: EventSelection, Chain: chain, Candidates: names, At: m.clock()})

	if len(cands) == 0 {
		return nil, errs.Newf(errs.ProviderUnavailable, "all providers for chain %s have an open circuit", chain)
	}
	return cands, nil
}

// Health returns the current health snapshot of every provider registered
// for chain, in preference order.
func (m *Manager) Health(chain string) []ProviderHealth {
	m.mu.RLock()
	pool, ok := m.pools[chain]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	out := make([]ProviderHealth, 0, len(pool.order))
	for _, name := range pool.order {
		out = append(out, pool.state[name].snapshot())
	}
	return out
}

// ChainStatus is a coarse OK/Degraded/Down rollup of a chain's provider
// pool, grounded on the teacher's ChainMetrics-adjacent health rollup: OK
// when at least one provider has a closed circuit, Degraded when every
// provider is open or half-open but at least one has succeeded before,
// Down when the chain has no registered providers or none has ever
// succeeded.
type ChainStatus string

const (
	ChainStatusOK       ChainStatus = "ok"
	ChainStatusDegraded ChainStatus = "degraded"
	ChainStatusDown     ChainStatus = "down"
)

// Status computes chain's ChainStatus from its current provider health
// snapshot, giving the Orchestrator a cheap pre-flight check before
// starting an import run.
func (m *Manager) Status(chain string) ChainStatus {
	health := m.Health(chain)
	if len(health) == 0 {
		return ChainStatusDown
	}

	everSucceeded := false
	for _, h := range health {
		if h.Circuit == CircuitClosed {
			return ChainStatusOK
		}
		if !h.LastSuccessAt.IsZero() {
			everSucceeded = true
		}
	}
	if everSucceeded {
		return ChainStatusDegraded
	}
	return ChainStatusDown
}

// ExecuteWithFailover implements spec §4.3's executeWithFailover: try
// providers in scored order; on a retriable error advance to the next
// candidate; on a non-retriable client error fail immediately; always
// return the first success. Returns an aggregated ProviderUnavailable error
// only if every candidate fails.
func ExecuteWithFailover[T any](ctx context.Context, m *Manager, chain string, op func(client provider.ApiClient, name string) (T, error)) (T, error) {
	var zero T

	cands, err := m.selectCandidates(chain)
	if err != nil {
		return zero, err
	}

	m.mu.RLock()
	pool := m.pools[chain]
	m.mu.RUnlock()

	var lastErr error
	var tried []string
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return zero, errs.Wrap(errs.Cancelled, "failover cancelled", err)
		}

		client, getErr := m.registry.Get(c.name)
		if getErr != nil {
			lastErr = getErr
			continue
		}

		st := pool.state[c.name]
		start := m.clock()
		result, opErr := op(client, c.name)
		latencyMs := m.clock().Sub(start).Milliseconds()
		tried = append(tried, c.name)

		if opErr == nil {
			st.recordSuccess(latencyMs, m.cfg.SuccessThreshold, m.clock)
			return result, nil
		}

		lastErr = opErr
		domainErr, ok := opErr.(*errs.Error)
		if !ok {
			st.recordFailure(opErr, m.cfg.FailureThreshold, m.clock)
			continue
		}

		switch {
		case domainErr.Code == errs.RateLimited:
			m.events.Emit(Event{Kind: EventRateLimited, Chain: chain, Provider: c.name, At: m.clock()})
			st.recordRateLimit(m.cfg.RateLimitWindow, m.cfg.FailureThreshold, m.clock)
			// The provider's circuit is untouched unless the rate-limit streak
			// outlasts RateLimitWindow; this call moves on to the next candidate.
			continue
		case !domainErr.Retriable && (domainErr.Code == errs.Auth || domainErr.Code == errs.InvalidArgs || domainErr.Code == errs.Validation):
			st.recordFailure(opErr, m.cfg.FailureThreshold, m.clock)
			return zero, domainErr
		default:
			st.recordFailure(opErr, m.cfg.FailureThreshold, m.clock)
			continue
		}
	}

	return zero, errs.Wrap(errs.ProviderUnavailable, "ALL_PROVIDERS_FAILED: "+chain, lastErr)
}
