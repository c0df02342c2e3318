package importer

import (
	"context"
	"time"

	"github.com/arcsign/exitbook/internal/providermgr"
)

// BlockchainImporter drives one or more addresses' operation-type streams
// (native transfers, token transfers, internal calls, ...) for one chain
// (spec §4.4's blockchain importer semantics).
type BlockchainImporter struct {
	manager   *providermgr.Manager
	chain     string
	source    string
	streams   []OperationStream
	normalize NormalizeFunc
	clock     func() time.Time
}

// NewBlockchainImporter constructs a BlockchainImporter. streams declares
// every operation type this chain's provider adapters expose (e.g. native,
// token, internal); each runs concurrently per address.
func NewBlockchainImporter(manager *providermgr.Manager, chain, source string, streams []OperationStream, normalize NormalizeFunc) *BlockchainImporter {
	return &BlockchainImporter{manager: manager, chain: chain, source: source, streams: streams, normalize: normalize, clock: time.Now}
}

// ValidateParams requires at least one address, and that every address is
// well-formed for im.chain (see ValidateChainAddress).
func (im *BlockchainImporter) ValidateParams(params Params) error {
	if params.Address == "" && len(params.Addresses) == 0 {
		return errNoAddress
	}

	addresses := params.Addresses
	if len(addresses) == 0 {
		addresses = []string{params.Address}
	}
	for _, addr := range addresses {
		if err := ValidateChainAddress(im.chain, addr); err != nil {
			return err
		}
	}
	return nil
}

// ImportStreaming drives every address's streams concurrently, tagging each
// emitted batch with its operationType (spec §4.4).
func (im *BlockchainImporter) ImportStreaming(ctx context.Context, params Params, yield BatchFunc) error {
	if err := im.ValidateParams(params); err != nil {
		return err
	}

	addresses := params.Addresses
	if len(addresses) == 0 {
		addresses = []string{params.Address}
	}

	sc := streamContext{manager: im.manager, poolKey: im.chain, source: im.source, normalize: im.normalize, clock: im.clock}

	for _, address := range addresses {
		address := address
		if err := sc.runStreams(ctx, im.streams, func(op string) map[string]any {
			return cursorValue(params.Cursor, op)
		}, address, yield); err != nil {
			return err
		}
	}
	return nil
}
