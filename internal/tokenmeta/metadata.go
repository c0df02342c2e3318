// Package tokenmeta is the Token Metadata Service (spec §4.7): a
// contract-keyed cache of {symbol, decimals, spam-flag} with a 7-day
// staleness threshold, batch lookup, merge-on-save, and fire-and-forget
// background refresh.
//
// Grounded on internal/providermgr/cache.go's mutex-guarded, clock-injected
// in-memory cache (itself grounded on src/chainadapter/metrics/metrics.go),
// generalized from a TTL-expiring blob cache to a merge-on-save record
// cache with a secondary reverse index.
package tokenmeta

import "strings"

// ContractKey identifies a token contract on a chain. Lower-cased so
// "0xABC" and "0xabc" resolve to the same entry.
type ContractKey struct {
	Chain           string
	ContractAddress string
}

func (k ContractKey) normalize() ContractKey {
	return ContractKey{Chain: strings.ToLower(k.Chain), ContractAddress: strings.ToLower(k.ContractAddress)}
}

func (k ContractKey) String() string {
	return k.Chain + ":" + k.ContractAddress
}

// Metadata is the cached record for one contract. Fields are pointers so a
// partial provider response (e.g. symbol known, decimals not yet) can be
// merged into an existing record without clobbering what's already known.
type Metadata struct {
	Chain           string
	ContractAddress string
	Symbol          string
	Decimals        *int
	PossibleSpam    bool
	UpdatedAt       string // RFC3339
}

// merge folds incoming into existing, keeping any field incoming leaves
// zero-valued. Known fields are never discarded (spec §4.7: "merging
// partial responses; never discarding known fields").
func merge(existing, incoming Metadata) Metadata {
	out := existing
	if incoming.Symbol != "" {
		out.Symbol = incoming.Symbol
	}
	if incoming.Decimals != nil {
		out.Decimals = incoming.Decimals
	}
	if incoming.PossibleSpam {
		out.PossibleSpam = true
	}
	if incoming.UpdatedAt != "" {
		out.UpdatedAt = incoming.UpdatedAt
	}
	return out
}
