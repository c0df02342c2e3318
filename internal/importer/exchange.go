package importer

import (
	"context"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/providermgr"
)

var errNoCredentials = errs.New(errs.InvalidArgs, "importer: credentials required")

// ExchangeImporter drives an exchange's named operation streams (trades,
// deposits, withdrawals, ledger, ...) keyed by the exchange's registered
// provider pool (spec §4.4's exchange semantics, correlated downstream by
// the Processor via order id).
type ExchangeImporter struct {
	manager   *providermgr.Manager
	source    string
	streams   []OperationStream
	normalize NormalizeFunc
	clock     func() time.Time
}

// NewExchangeImporter constructs an ExchangeImporter.
func NewExchangeImporter(manager *providermgr.Manager, source string, streams []OperationStream, normalize NormalizeFunc) *ExchangeImporter {
	return &ExchangeImporter{manager: manager, source: source, streams: streams, normalize: normalize, clock: time.Now}
}

// ValidateParams requires credentials (concrete shape is provider-specific
// and out of scope; only presence is checked here).
func (im *ExchangeImporter) ValidateParams(params Params) error {
	if len(params.Credentials) == 0 {
		return errNoCredentials
	}
	return nil
}

// ImportStreaming drives every configured stream concurrently for this
// exchange, tagging each batch with its operationType.
func (im *ExchangeImporter) ImportStreaming(ctx context.Context, params Params, yield BatchFunc) error {
	if err := im.ValidateParams(params); err != nil {
		return err
	}

	sc := streamContext{manager: im.manager, poolKey: im.source, source: im.source, normalize: im.normalize, clock: im.clock}
	return sc.runStreams(ctx, im.streams, func(op string) map[string]any {
		return cursorValue(params.Cursor, op)
	}, "", yield)
}
