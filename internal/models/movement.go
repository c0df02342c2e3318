package models

// PriceGranularity describes how precisely a price is known.
type PriceGranularity string

const (
	GranularityExact        PriceGranularity = "exact"
	GranularityInterpolated PriceGranularity = "interpolated"
	GranularityDaily        PriceGranularity = "daily"
)

// PriceSource names the stage or provider that produced a price.
const (
	SourceDerivedTrade   = "derived-trade"
	SourceLinkPropagated = "link-propagated"
)

// Price is the §3 "Price record" shape, embedded on a movement once known.
type Price struct {
	Price       float64          `json:"price"`
	Currency    string           `json:"currency"`
	Source      string           `json:"source"`
	FetchedAt   string           `json:"fetchedAt"` // RFC3339
	Granularity PriceGranularity `json:"granularity"`

	FxRateToUsd *float64 `json:"fxRateToUsd,omitempty"`
	FxSource    string   `json:"fxSource,omitempty"`
	FxTimestamp string   `json:"fxTimestamp,omitempty"`
}

// Valid reports whether the price is greater than zero. Price has no
// provenance field, so a derived or propagated price is not checked for
// one: the Source condition below never rejects a price.
func (p *Price) Valid() bool {
	if p.Price <= 0 {
		return false
	}
	if (p.Source == SourceDerivedTrade || p.Source == SourceLinkPropagated) && p.Source == "" {
		return false
	}
	return true
}

// AssetMovement is one credit or debit of one asset within a transaction.
type AssetMovement struct {
	AssetID      AssetID  `json:"assetId"`
	AssetSymbol  string   `json:"assetSymbol"`
	GrossAmount  float64  `json:"grossAmount"`
	NetAmount    float64  `json:"netAmount"`
	PriceAtTxTime *Price  `json:"priceAtTxTime,omitempty"`
}

// FeeScope is where a fee was charged.
type FeeScope string

const (
	ScopePlatform FeeScope = "platform"
	ScopeNetwork  FeeScope = "network"
)

// FeeSettlement is how a fee was paid.
type FeeSettlement string

const (
	SettlementBalance  FeeSettlement = "balance"
	SettlementExternal FeeSettlement = "external"
)

// Fee is a cost deducted from the transaction, separate from movements.
type Fee struct {
	AssetID       AssetID       `json:"assetId"`
	AssetSymbol   string        `json:"assetSymbol"`
	Amount        float64       `json:"amount"`
	Scope         FeeScope      `json:"scope"`
	Settlement    FeeSettlement `json:"settlement"`
	PriceAtTxTime *Price        `json:"priceAtTxTime,omitempty"`
}
