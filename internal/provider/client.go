package provider

import "context"

// ApiClient is the small, fixed capability surface a concrete per-provider
// adapter implements. Concrete adapters (Blockfrost, Alchemy, Kraken, …) are
// explicitly out of scope (spec §1) — this interface is the seam they would
// satisfy.
type ApiClient interface {
	// GetAddressTransactions returns one page of transactions for address,
	// resuming from cursor (nil for the first page).
	GetAddressTransactions(ctx context.Context, address string, cursor map[string]any) (Page, error)
	// GetAddressBalances returns the current balance set for address.
	GetAddressBalances(ctx context.Context, address string) (map[string]string, error)
	// GetTokenMetadata resolves {symbol, decimals, spam-flag} for a set of
	// contract addresses in a single round trip.
	GetTokenMetadata(ctx context.Context, contracts []string) (map[string]TokenMetadata, error)
	// FetchPrice returns the spot price of asset in currency at t (unix ms).
	FetchPrice(ctx context.Context, asset, currency string, atMs int64) (float64, error)
	// ApplyReplayWindow conservatively rewinds cursor after a failover onto
	// this provider, per its declared ReplayWindow.
	ApplyReplayWindow(cursor map[string]any) map[string]any
	// HealthCheck is a cheap liveness probe used by the Provider Manager.
	HealthCheck(ctx context.Context) error
	// Close releases any held resources (connections, subscriptions).
	Close() error
}

// Page is one page of provider data plus its resumption cursor.
type Page struct {
	Data       []map[string]any
	Cursor     map[string]any
	IsComplete bool
}

// TokenMetadata is the authoritative {symbol, decimals, spam} record
// returned by a provider's token-metadata lookup.
type TokenMetadata struct {
	Symbol       string
	Decimals     int
	PossibleSpam bool
}

// Factory constructs an ApiClient from Metadata. Factories validate their
// own required env vars at call time; Register additionally pre-validates
// Metadata.APIKeyEnvVar before ever invoking the factory.
type Factory func(meta Metadata) (ApiClient, error)
