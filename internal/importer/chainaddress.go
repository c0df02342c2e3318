package importer

import (
	"blockwatch.cc/tzgo/tezos"
	"github.com/Zilliqa/gozilliqa-sdk/bech32"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stellar/go/strkey"
	subkey "github.com/vedhavyas/go-subkey"

	"github.com/arcsign/exitbook/internal/errs"
)

// ValidateChainAddress checks that address is well-formed for chain before
// a BlockchainImporter spends a provider call scanning it (spec §4.4: "the
// importer validates its params before streaming"). Each branch decodes the
// address with the same library the teacher used to *derive* that chain's
// addresses (internal/services/address/*.go, now deleted — see DESIGN.md),
// re-purposed here for validation instead of derivation, since the
// ingestion pipeline is only ever handed an address to scan, never a seed
// to derive one from.
//
// Chains with no dedicated branch (Bitcoin-family, EVM and any other) fall
// through unchecked here.
func ValidateChainAddress(chain, address string) error {
	switch chain {
	case "tezos":
		if _, err := tezos.ParseAddress(address); err != nil {
			return errs.Wrap(errs.Validation, "invalid tezos address", err)
		}
	case "zilliqa":
		if _, err := bech32.FromBech32Addr(address); err != nil {
			return errs.Wrap(errs.Validation, "invalid zilliqa address", err)
		}
	case "solana":
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return errs.Wrap(errs.Validation, "invalid solana address", err)
		}
	case "stellar":
		if !strkey.IsValidEd25519PublicKey(address) {
			return errs.New(errs.Validation, "invalid stellar address")
		}
	case "polkadot", "kusama":
		if _, _, err := subkey.SS58Decode(address); err != nil {
			return errs.Wrap(errs.Validation, "invalid substrate address", err)
		}
	case "tron":
		decoded, err := base58.Decode(address)
		if err != nil || len(decoded) < 21 || decoded[0] != 0x41 {
			return errs.New(errs.Validation, "invalid tron address")
		}
	}
	return nil
}
