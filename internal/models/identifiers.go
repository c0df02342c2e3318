// Package models defines the canonical data model shared by every stage of
// the ingestion and enrichment pipeline: raw/normalized records, canonical
// transactions, movements, fees, prices, links, cursors and overrides.
package models

import "strings"

// AssetID is the canonical cross-source identifier for a tradable asset.
//
// Shapes:
//
//	blockchain:<chain>:native
//	blockchain:<chain>:<contractAddressOrSymbol>
//	exchange:<name>:<symbol>
//	fiat:<iso>
type AssetID string

const (
	assetKindBlockchain = "blockchain"
	assetKindExchange   = "exchange"
	assetKindFiat       = "fiat"
)

// NativeAssetID builds the canonical id for a chain's native currency.
func NativeAssetID(chain string) AssetID {
	return AssetID(assetKindBlockchain + ":" + strings.ToLower(chain) + ":native")
}

// ContractAssetID builds the canonical id for a token with a contract address.
func ContractAssetID(chain, contractAddress string) AssetID {
	return AssetID(assetKindBlockchain + ":" + strings.ToLower(chain) + ":" + strings.ToLower(contractAddress))
}

// SecondaryNativeAssetID builds the canonical id for a secondary native/gas
// token on a chain that lacks a contract address (e.g. a chain with two
// native currencies).
func SecondaryNativeAssetID(chain, symbol string) AssetID {
	return AssetID(assetKindBlockchain + ":" + strings.ToLower(chain) + ":" + strings.ToLower(symbol))
}

// ExchangeAssetID builds the canonical id for an exchange-native balance.
func ExchangeAssetID(exchange, symbol string) AssetID {
	return AssetID(assetKindExchange + ":" + strings.ToLower(exchange) + ":" + strings.ToUpper(symbol))
}

// FiatAssetID builds the canonical id for a fiat currency.
func FiatAssetID(iso string) AssetID {
	return AssetID(assetKindFiat + ":" + strings.ToUpper(iso))
}

// IsBlockchain reports whether the asset id names a blockchain asset.
func (a AssetID) IsBlockchain() bool {
	return strings.HasPrefix(string(a), assetKindBlockchain+":")
}

// IsFiat reports whether the asset id names a fiat currency.
func (a AssetID) IsFiat() bool {
	return strings.HasPrefix(string(a), assetKindFiat+":")
}

// CursorKind enumerates the shape of a streaming cursor's primary position.
type CursorKind string

const (
	CursorKindTimestamp   CursorKind = "timestamp"
	CursorKindBlockNumber CursorKind = "blockNumber"
	CursorKindPageToken   CursorKind = "pageToken"
	CursorKindSlot        CursorKind = "slot"
)
