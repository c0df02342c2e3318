package priceengine

import (
	"time"

	"github.com/arcsign/exitbook/internal/providermgr"
)

// MarketPoolName and FXPoolName are the providermgr pool keys stages 2 and
// 3 execute against — a price lookup is registered with the Provider
// Manager the same way a blockchain chain is, just under these fixed names
// instead of a chain identifier.
const (
	MarketPoolName = "market-prices"
	FXPoolName     = "fx-rates"
)

// DefaultMaxConsecutiveFailures is spec §4.9 stage 3's early-abort
// threshold: "prevents long stalls when a key is revoked."
const DefaultMaxConsecutiveFailures = 5

// Engine runs the four price enrichment stages against a shared provider
// manager and cache.
type Engine struct {
	manager                *providermgr.Manager
	cache                  *providermgr.Cache
	events                 EventSink
	clock                  func() time.Time
	maxConsecutiveFailures int
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithMaxConsecutiveFailures overrides stage 3's early-abort threshold.
func WithMaxConsecutiveFailures(n int) Option {
	return func(e *Engine) { e.maxConsecutiveFailures = n }
}

// WithEvents overrides the default no-op event sink.
func WithEvents(events EventSink) Option {
	return func(e *Engine) { e.events = events }
}

// NewEngine constructs an Engine. manager must have FX and market-price
// providers registered under FXPoolName/MarketPoolName respectively.
func NewEngine(manager *providermgr.Manager, cache *providermgr.Cache, opts ...Option) *Engine {
	e := &Engine{
		manager:                manager,
		cache:                  cache,
		events:                 NoopEventSink{},
		clock:                  time.Now,
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(ev Event) {
	ev.At = e.clock()
	e.events.Emit(ev)
}
