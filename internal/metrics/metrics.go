// Package metrics aggregates pipeline observability events into
// Prometheus-exportable counters, grounded on
// src/chainadapter/metrics/metrics.go's ChainMetrics: a mutex-guarded
// in-memory map per tracked dimension and an Export() method producing
// Prometheus text exposition format. The teacher tracked RPC-call/sign/broadcast
// counts per chain; this package tracks the same shape of thing — per-chain
// provider selections/rate-limits/cursor-adjustments (internal/providermgr.Event)
// and per-stage progress/failures (internal/priceengine.Event) — since both
// are the ingestion pipeline's analogue of "calls against an external
// system, worth knowing the success rate of."
package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/arcsign/exitbook/internal/priceengine"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// Recorder receives both the Provider Manager's and the Price Enrichment
// Engine's typed events: it is itself a providermgr.EventSink, and
// PriceEngineSink returns the priceengine.EventSink that feeds it.
type Recorder interface {
	providermgr.EventSink
	PriceEngineSink() priceengine.EventSink
}

type providerCounters struct {
	selections       int64
	rateLimited      int64
	cursorAdjustments int64
}

type stageCounters struct {
	started   int64
	completed int64
	failed    int64
}

// Metrics is the concrete Recorder: mutex-guarded maps keyed by chain (for
// provider events) and by stage name (for price-engine events), mirroring
// the teacher's per-method MethodMetrics breakdown.
type Metrics struct {
	mu       sync.Mutex
	byChain  map[string]*providerCounters
	byStage  map[string]*stageCounters
}

// New constructs an empty Metrics recorder.
func New() *Metrics {
	return &Metrics{
		byChain: make(map[string]*providerCounters),
		byStage: make(map[string]*stageCounters),
	}
}

// Emit implements providermgr.EventSink.
func (m *Metrics) Emit(ev providermgr.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.byChain[ev.Chain]
	if c == nil {
		c = &providerCounters{}
		m.byChain[ev.Chain] = c
	}
	switch ev.Kind {
	case providermgr.EventSelection:
		c.selections++
	case providermgr.EventRateLimited:
		c.rateLimited++
	case providermgr.EventCursorAdjusted:
		c.cursorAdjustments++
	}
}

// EmitPriceEvent implements priceengine.EventSink. Named distinctly from
// Emit (providermgr.Event and priceengine.Event are different concrete
// types, so Go's method set can't overload on parameter type alone) —
// satisfied via the priceStageSink adapter below.
func (m *Metrics) EmitPriceEvent(ev priceengine.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.byStage[ev.Stage]
	if s == nil {
		s = &stageCounters{}
		m.byStage[ev.Stage] = s
	}
	switch ev.Kind {
	case priceengine.EventStageStarted:
		s.started++
	case priceengine.EventStageCompleted:
		s.completed++
	case priceengine.EventStageFailed:
		s.failed++
	}
}

// PriceEngineSink returns a priceengine.EventSink that forwards into m,
// since priceengine.EventSink.Emit(priceengine.Event) and
// providermgr.EventSink.Emit(providermgr.Event) can't both be satisfied by
// one method name on the same type.
func (m *Metrics) PriceEngineSink() priceengine.EventSink {
	return priceStageSink{m}
}

type priceStageSink struct{ m *Metrics }

func (s priceStageSink) Emit(ev priceengine.Event) { s.m.EmitPriceEvent(ev) }

// Export renders every tracked counter in Prometheus text exposition
// format, the same shape as the teacher's ChainMetrics.Export().
func (m *Metrics) Export() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("# HELP exitbook_provider_selections_total Provider selections per chain\n")
	b.WriteString("# TYPE exitbook_provider_selections_total counter\n")
	for chain, c := range m.byChain {
		fmt.Fprintf(&b, "exitbook_provider_selections_total{chain=%q} %d\n", chain, c.selections)
	}
	b.WriteString("# HELP exitbook_provider_rate_limited_total Rate-limit events per chain\n")
	b.WriteString("# TYPE exitbook_provider_rate_limited_total counter\n")
	for chain, c := range m.byChain {
		fmt.Fprintf(&b, "exitbook_provider_rate_limited_total{chain=%q} %d\n", chain, c.rateLimited)
	}
	b.WriteString("# HELP exitbook_price_stage_completed_total Price enrichment stage completions\n")
	b.WriteString("# TYPE exitbook_price_stage_completed_total counter\n")
	for stage, s := range m.byStage {
		fmt.Fprintf(&b, "exitbook_price_stage_completed_total{stage=%q} %d\n", stage, s.completed)
	}
	b.WriteString("# HELP exitbook_price_stage_failed_total Price enrichment stage failures\n")
	b.WriteString("# TYPE exitbook_price_stage_failed_total counter\n")
	for stage, s := range m.byStage {
		fmt.Fprintf(&b, "exitbook_price_stage_failed_total{stage=%q} %d\n", stage, s.failed)
	}
	return b.String()
}

// Reset clears every tracked counter, for test isolation.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byChain = make(map[string]*providerCounters)
	m.byStage = make(map[string]*stageCounters)
}

var (
	_ providermgr.EventSink = (*Metrics)(nil)
)
