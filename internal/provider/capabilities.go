// Package provider is the Provider Registry (spec §4.2): a process-wide,
// populated-once-at-startup catalog mapping (blockchain, providerName) to a
// factory and a metadata record describing what operations that provider
// supports. Lookups are pure once populated.
//
// Grounded on src/chainadapter/provider/registry.go's factory-map +
// cache-key pattern, generalized from a single BlockchainProvider interface
// to the broader capability set an ingestion-pipeline provider exposes
// (address history, token transfers, token metadata, price lookups).
package provider

// Capability enumerates one operation a provider may support.
type Capability string

const (
	CapGetAddressTransactions  Capability = "getAddressTransactions"
	CapGetAddressBalances      Capability = "getAddressBalances"
	CapGetTokenTransactions    Capability = "getTokenTransactions"
	CapGetTokenMetadata        Capability = "getTokenMetadata"
	CapHasAddressTransactions  Capability = "hasAddressTransactions"
	CapFetchPrice              Capability = "fetchPrice"
	CapFetchHistoricalRange    Capability = "fetchHistoricalRange"
	CapStreamWebsocket         Capability = "streamWebsocket"
)

// ReplayWindow is the conservative cursor rewind a provider declares for
// post-failover resumption (spec §4.3, §9 "Open questions" — these values
// are provider-specific and must never be invented; a provider that
// declares none is treated as precise pagination with zero rewind).
type ReplayWindow struct {
	BlockRewind uint64
	TimeRewind  int64 // milliseconds
}

// Metadata describes one registered provider: what it supports, what it
// costs to call, and what it needs to run.
type Metadata struct {
	ProviderName     string
	SupportedChains  []string
	Capabilities     []Capability
	APIKeyEnvVar     string // empty if no key required
	RateLimit        RateLimitSpec
	DefaultTimeoutMs int64
	Replay           ReplayWindow
	WebsocketURL     string // non-empty when CapStreamWebsocket is declared
}

// RateLimitSpec is the declared per-provider rate budget, fed directly into
// httpx.RateLimitConfig when the provider's Client is constructed.
type RateLimitSpec struct {
	Burst     int
	PerSecond float64
	PerMinute float64
	PerHour   float64
}

// Supports reports whether m declares cap.
func (m Metadata) Supports(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// SupportsChain reports whether m declares chain among SupportedChains.
func (m Metadata) SupportsChain(chain string) bool {
	for _, c := range m.SupportedChains {
		if c == chain {
			return true
		}
	}
	return false
}
