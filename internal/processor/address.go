package processor

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// normalizeAddress lower-cases an address for comparison against the
// queried-address set (spec §3: "counterparties... normalized to
// lower-case"). EVM-shaped hex addresses are round-tripped through
// go-ethereum's common.Address first, which validates and left-pads the
// hex payload the same way the rest of the Ethereum ecosystem does;
// anything that doesn't parse as an EVM address (Tezos, Solana, Substrate,
// exchange account ids, ...) is just lower-cased directly.
func normalizeAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if common.IsHexAddress(trimmed) {
		return strings.ToLower(common.HexToAddress(trimmed).Hex())
	}
	return strings.ToLower(trimmed)
}
