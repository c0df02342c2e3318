// Package linkmatcher is the Link Matcher (spec §4.8): pairs a withdrawal
// on one source with a deposit on another source for the same asset within
// a time/amount window, scores the pairing, and reports coverage gaps.
//
// Grounded on spec §4.8's candidate-search/scoring/emission text directly —
// no teacher analog exists for cross-source transaction pairing; the
// deterministic-id-from-content idiom reuses internal/fingerprint.Link the
// same way internal/overridelog already does to locate a link by its
// content hash rather than a database surrogate id.
package linkmatcher

import (
	"sort"
	"strings"
	"time"

	"github.com/arcsign/exitbook/internal/fingerprint"
	"github.com/arcsign/exitbook/internal/models"
)

// Config tunes candidate search and emission thresholds. Defaults match
// spec §4.8's stated typical values.
type Config struct {
	MaxLossFraction   float64       // sourceAmount * (1 - MaxLossFraction) is the lower bound
	MaxGainFraction   float64       // sourceAmount * (1 + MaxGainFraction) is the upper bound
	MaxGap            time.Duration // candidate inflow must land within (0, MaxGap] after the outflow
	SuggestThreshold  float64       // below this, a candidate is discarded unless the user confirms explicitly
	HighConfThreshold float64       // at/above this, a suggestion is tagged high-confidence
}

// DefaultConfig matches the typical values spec §4.8 names.
func DefaultConfig() Config {
	return Config{
		MaxLossFraction:   0.05,
		MaxGainFraction:   0.001,
		MaxGap:            72 * time.Hour,
		SuggestThreshold:  0.6,
		HighConfThreshold: 0.95,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLossFraction == 0 && c.MaxGainFraction == 0 {
		c.MaxLossFraction, c.MaxGainFraction = d.MaxLossFraction, d.MaxGainFraction
	}
	if c.MaxGap == 0 {
		c.MaxGap = d.MaxGap
	}
	if c.SuggestThreshold == 0 {
		c.SuggestThreshold = d.SuggestThreshold
	}
	if c.HighConfThreshold == 0 {
		c.HighConfThreshold = d.HighConfThreshold
	}
	return c
}

// leg is one side of a candidate pairing: a single outflow or inflow
// movement, flattened out of its owning transaction.
type leg struct {
	transactionID string
	source        string
	rawAsset      string // as reported by the provider, pre-normalization
	asset         string // normalized (upper-cased, trimmed)
	amount        float64
	timestamp     time.Time
}

// GapReport is the read-only coverage report (spec §4.8's "Gap analysis").
type GapReport struct {
	UncoveredInflows  map[string][]string // asset -> transaction ids with no matching outflow
	UnmatchedOutflows map[string][]string // asset -> transaction ids with no matching inflow
}

func normalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func outflowLegs(txs []models.Transaction) []leg {
	var out []leg
	for _, tx := range txs {
		for _, m := range tx.Movements.Outflows {
			out = append(out, leg{transactionID: tx.ID, source: tx.Source, rawAsset: m.AssetSymbol, asset: normalizeAsset(m.AssetSymbol), amount: abs(m.NetAmount), timestamp: tx.Timestamp})
		}
	}
	return out
}

func inflowLegs(txs []models.Transaction) []leg {
	var out []leg
	for _, tx := range txs {
		for _, m := range tx.Movements.Inflows {
			out = append(out, leg{transactionID: tx.ID, source: tx.Source, rawAsset: m.AssetSymbol, asset: normalizeAsset(m.AssetSymbol), amount: abs(m.NetAmount), timestamp: tx.Timestamp})
		}
	}
	return out
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// candidate is a scored (outflow, inflow) pairing, prior to emission
// threshold filtering.
type candidate struct {
	out, in     leg
	criteria    models.MatchCriteria
	confidence  float64
	amountDelta float64
}

// Match pairs outflow legs against inflow legs across sources. existing
// links are never mutated or re-emitted: a pairing whose deterministic id
// already exists in existing is skipped, so re-running the matcher can
// create new suggestions without ever touching a terminal link (spec
// §4.8's state-machine invariant).
func Match(txs []models.Transaction, existing []models.Link, cfg Config) ([]models.Link, GapReport) {
	cfg = cfg.withDefaults()

	existingIDs := make(map[string]bool, len(existing))
	for _, l := range existing {
		existingIDs[l.ID] = true
	}

	outs := outflowLegs(txs)
	ins := inflowLegs(txs)

	usedIn := make(map[int]bool, len(ins))
	var links []models.Link
	coveredOut := make(map[string]bool)
	coveredIn := make(map[string]bool)

	// Deterministic iteration order: earliest outflow first.
	sort.Slice(outs, func(i, j int) bool { return outs[i].timestamp.Before(outs[j].timestamp) })

	for _, out := range outs {
		best, bestIdx, ok := bestCandidate(out, ins, usedIn, cfg)
		if !ok {
			continue
		}
		if best.confidence < cfg.SuggestThreshold {
			// Discarded unless the user confirms explicitly — the matcher
			// itself never emits it.
			continue
		}

		linkID := fingerprint.Link(out.transactionID, best.in.transactionID, out.asset)
		coveredOut[out.transactionID] = true
		coveredIn[best.in.transactionID] = true
		usedIn[bestIdx] = true

		if existingIDs[linkID] {
			continue
		}

		linkType := "needs_review"
		if best.confidence >= cfg.HighConfThreshold {
			linkType = "high_confidence"
		}

		links = append(links, models.Link{
			ID:                  linkID,
			SourceTransactionID: out.transactionID,
			TargetTransactionID: best.in.transactionID,
			AssetSymbol:         out.asset,
			SourceAmount:        out.amount,
			TargetAmount:        best.in.amount,
			LinkType:            linkType,
			ConfidenceScore:     best.confidence,
			MatchCriteria:       best.criteria,
			Status:              models.LinkSuggested,
		})
	}

	return links, gapReport(outs, ins, coveredOut, coveredIn)
}

// bestCandidate finds the highest-scoring available inflow leg for out,
// tie-broken by earliest target timestamp then smallest amount delta.
func bestCandidate(out leg, ins []leg, usedIn map[int]bool, cfg Config) (candidate, int, bool) {
	lower := out.amount * (1 - cfg.MaxLossFraction)
	upper := out.amount * (1 + cfg.MaxGainFraction)

	var best candidate
	bestIdx := -1
	for i, in := range ins {
		if usedIn[i] || in.source == out.source || in.asset != out.asset {
			continue
		}
		if in.amount < lower || in.amount > upper {
			continue
		}
		gap := in.timestamp.Sub(out.timestamp)
		if gap <= 0 || gap > cfg.MaxGap {
			continue
		}

		c := score(out, in, cfg)
		if bestIdx == -1 || isBetter(c, best) {
			best, bestIdx = c, i
		}
	}
	return best, bestIdx, bestIdx != -1
}

func isBetter(candidate, than candidate) bool {
	if candidate.confidence != than.confidence {
		return candidate.confidence > than.confidence
	}
	if !candidate.in.timestamp.Equal(than.in.timestamp) {
		return candidate.in.timestamp.Before(than.in.timestamp)
	}
	return candidate.amountDelta < than.amountDelta
}

// assetMatchNormalizedScore discounts a pairing whose symbols only agree
// after normalization (e.g. differing case), never the asset identity
// itself — candidate search already requires normalized equality.
const assetMatchNormalizedScore = 0.9

func score(out, in leg, cfg Config) candidate {
	assetMatchKind := "exact"
	assetMatch := 1.0
	if out.rawAsset != in.rawAsset {
		assetMatchKind = "normalized"
		assetMatch = assetMatchNormalizedScore
	}

	loss := out.amount - in.amount
	amountSimilarity := 1 - abs(loss)/out.amount
	gapHours := in.timestamp.Sub(out.timestamp).Hours()
	maxGapHours := cfg.MaxGap.Hours()
	timingFactor := 1 - gapHours/maxGapHours

	confidence := assetMatch * amountSimilarity * timingFactor

	return candidate{
		out: out, in: in,
		criteria: models.MatchCriteria{
			AssetMatch:       assetMatchKind,
			AmountSimilarity: amountSimilarity,
			TimingFactor:     timingFactor,
			GapHours:         gapHours,
		},
		confidence:  confidence,
		amountDelta: abs(loss),
	}
}

func gapReport(outs, ins []leg, coveredOut, coveredIn map[string]bool) GapReport {
	r := GapReport{UncoveredInflows: map[string][]string{}, UnmatchedOutflows: map[string][]string{}}
	for _, in := range ins {
		if !coveredIn[in.transactionID] {
			r.UncoveredInflows[in.asset] = append(r.UncoveredInflows[in.asset], in.transactionID)
		}
	}
	for _, out := range outs {
		if !coveredOut[out.transactionID] {
			r.UnmatchedOutflows[out.asset] = append(r.UnmatchedOutflows[out.asset], out.transactionID)
		}
	}
	return r
}
