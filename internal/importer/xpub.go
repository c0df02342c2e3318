package importer

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/arcsign/exitbook/internal/errs"
)

// Chain indices for BIP32 non-hardened derivation from an extended public
// key: 0 is the receive (external) chain, 1 is the change (internal) chain.
const (
	xpubExternalChain = uint32(0)
	xpubInternalChain = uint32(1)
)

// DefaultAddressGap is the spec §4.4 default: stop deriving a chain once
// this many consecutive addresses show no activity.
const DefaultAddressGap = 20

// ActivityProbe reports whether address has ever had any transaction
// activity, driving the gap-scan. Its concrete implementation calls the
// registered provider(s) for the chain (e.g. via
// providermgr.ExecuteWithFailover + ApiClient.GetAddressTransactions) — kept
// as a caller-supplied function since the gap-scanner itself only needs the
// yes/no answer, not a provider-specific request shape.
type ActivityProbe func(ctx context.Context, address string) (bool, error)

// XpubGapScanner derives addresses from an extended public key (xpub, ypub,
// zpub — the btcsuite decoder, not the version bytes, determines that) and
// finds the non-empty set via gap-scan (spec §4.4: "derive addresses
// sequentially until addressGap consecutive empty addresses are seen").
// Grounded on internal/services/hdkey's DerivePath (BIP32 child derivation)
// and internal/services/address's DeriveBitcoinAddress (P2PKH encoding),
// re-expressed here directly against the xpub's own extended key rather
// than a master seed, since an xpub importer never sees a private key.
type XpubGapScanner struct {
	Params  *chaincfg.Params // defaults to chaincfg.MainNetParams if nil
	Gap     int              // defaults to DefaultAddressGap if <= 0
	HasActivity ActivityProbe
}

func (s XpubGapScanner) withDefaults() XpubGapScanner {
	if s.Params == nil {
		s.Params = &chaincfg.MainNetParams
	}
	if s.Gap <= 0 {
		s.Gap = DefaultAddressGap
	}
	return s
}

// deriveAddress derives the P2PKH address at m/<chain>/<index> under xpub.
func (s XpubGapScanner) deriveAddress(xpub *hdkeychain.ExtendedKey, chainIdx, index uint32) (string, error) {
	chainKey, err := xpub.Derive(chainIdx)
	if err != nil {
		return "", fmt.Errorf("derive chain %d: %w", chainIdx, err)
	}
	childKey, err := chainKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("derive index %d: %w", index, err)
	}
	pubKey, err := childKey.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("extract public key: %w", err)
	}
	addr, err := btcutil.NewAddressPubKey(pubKey.SerializeCompressed(), s.Params)
	if err != nil {
		return "", fmt.Errorf("encode address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// Scan parses extendedPubKey and returns every address with confirmed
// activity across both the external and internal chains, deduplicated.
// The gap-scan runs both chains independently, each stopping at Gap
// consecutive empty addresses.
func (s XpubGapScanner) Scan(ctx context.Context, extendedPubKey string) ([]string, error) {
	s = s.withDefaults()
	if s.HasActivity == nil {
		return nil, errs.New(errs.InvalidArgs, "xpub gap-scan: no activity probe configured")
	}

	xpub, err := hdkeychain.NewKeyFromString(extendedPubKey)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, "invalid extended public key", err)
	}
	if xpub.IsPrivate() {
		return nil, errs.New(errs.Validation, "xpub gap-scan: refusing an extended private key")
	}

	var mu sync.Mutex
	var active []string

	scanChain := func(chainIdx uint32) error {
		empty := 0
		for index := uint32(0); empty < s.Gap; index++ {
			if err := ctx.Err(); err != nil {
				return errs.Wrap(errs.Cancelled, "xpub gap-scan cancelled", err)
			}
			addr, err := s.deriveAddress(xpub, chainIdx, index)
			if err != nil {
				return errs.Wrap(errs.Internal, "xpub gap-scan: derivation failed", err)
			}
			has, err := s.HasActivity(ctx, addr)
			if err != nil {
				return errs.Wrap(errs.Network, "xpub gap-scan: activity probe failed", err)
			}
			if has {
				empty = 0
				mu.Lock()
				active = append(active, addr)
				mu.Unlock()
				continue
			}
			empty++
		}
		return nil
	}

	if err := scanChain(xpubExternalChain); err != nil {
		return nil, err
	}
	if err := scanChain(xpubInternalChain); err != nil {
		return nil, err
	}
	return active, nil
}

// XpubImporter composes a gap-scan over an extended public key with a
// BlockchainImporter driven over every derived address, deduplicating
// transactions that appear on both the receive and change paths (a sweep
// transaction touches both — spec §4.4).
type XpubImporter struct {
	scanner    XpubGapScanner
	blockchain *BlockchainImporter
}

// NewXpubImporter constructs an XpubImporter.
func NewXpubImporter(scanner XpubGapScanner, blockchain *BlockchainImporter) *XpubImporter {
	return &XpubImporter{scanner: scanner, blockchain: blockchain}
}

// ValidateParams requires the extended public key in Params.Address.
func (im *XpubImporter) ValidateParams(params Params) error {
	if params.Address == "" {
		return errs.New(errs.InvalidArgs, "xpub importer: extended public key required in Address")
	}
	return nil
}

// ImportStreaming gap-scans for active addresses, then streams the
// blockchain importer over all of them, deduplicating by transaction id
// across addresses.
func (im *XpubImporter) ImportStreaming(ctx context.Context, params Params, yield BatchFunc) error {
	if err := im.ValidateParams(params); err != nil {
		return err
	}

	addresses, err := im.scanner.Scan(ctx, params.Address)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	dedupedYield := func(b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		filtered := b.NormalizedRecords[:0]
		for _, r := range b.NormalizedRecords {
			key := r.TxHash
			if key == "" {
				key = r.ExternalID
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			filtered = append(filtered, r)
		}
		b.NormalizedRecords = filtered
		return yield(b)
	}

	derivedParams := params
	derivedParams.Address = ""
	derivedParams.Addresses = addresses
	return im.blockchain.ImportStreaming(ctx, derivedParams, dedupedYield)
}
