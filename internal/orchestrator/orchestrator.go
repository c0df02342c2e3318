// Package orchestrator is the Orchestrator (spec §4.11): composes
// import -> store -> process -> link -> enrich -> replay-overrides for one
// source, on top of the components built in §§4.3-4.10. No teacher analog
// exists for a top-level pipeline composer in a wallet CLI; the shape here
// is dictated directly by spec §4.11's text. go.uber.org/multierr, already
// a direct teacher dependency, collects the non-fatal stage errors into one
// return value. The price-enrichment stages return results, not errors, so
// the only error collected this way is an override-log read failure.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/importer"
	"github.com/arcsign/exitbook/internal/ingestionstore"
	"github.com/arcsign/exitbook/internal/linkmatcher"
	"github.com/arcsign/exitbook/internal/logging"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/overridelog"
	"github.com/arcsign/exitbook/internal/priceengine"
	"github.com/arcsign/exitbook/internal/processor"
	"github.com/arcsign/exitbook/internal/utils"
)

// Deps are the shared, long-lived collaborators an Orchestrator drives runs
// against. PriceEngine and OverrideLog may be nil, skipping those stages —
// useful for an import+process-only run (e.g. a first pass before any
// price provider credentials are configured).
type Deps struct {
	Store       ingestionstore.Store
	PriceEngine *priceengine.Engine
	OverrideLog *overridelog.Log
	Matcher     linkmatcher.Config
	Logger      *zap.SugaredLogger
	Clock       func() time.Time
}

// Orchestrator drives one end-to-end run per Request.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator. deps.Logger defaults to a no-op logger;
// deps.Clock defaults to time.Now.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logging.Noop()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Orchestrator{deps: deps}
}

// Request parameterizes one run. Session, when non-nil, resumes an
// interrupted run by reusing its id and cursors (spec §4.11: "An
// interrupted run resumes by reading the session cursors"); when nil, a new
// session is created and persisted.
type Request struct {
	SourceID     string
	SourceType   string
	Session      *models.DataSource
	Importer     importer.Importer
	ImportParams importer.Params

	Processor *processor.Processor

	// ExistingTransactions/ExistingLinks seed this run's cross-source view:
	// the Link Matcher and Price Enrichment Engine operate over every
	// canonical transaction collected so far, not just this source's new
	// ones, since a link pairs transactions across two different sources.
	ExistingTransactions []models.Transaction
	ExistingLinks        []models.Link

	// PriceCurrency is the fiat currency stage 3 (market prices) requests,
	// e.g. "USD".
	PriceCurrency string
}

// Result is everything one run produced.
type Result struct {
	Session         models.DataSource
	RecordsImported int
	Transactions    []models.Transaction
	Links           []models.Link
	GapReport       linkmatcher.GapReport
	DerivedTrade    priceengine.DerivedTradeResult
	FX              priceengine.FXResult
	Market          priceengine.MarketPriceResult
	LinkPropagation priceengine.LinkPropagationResult
	OverrideReplay  overridelog.Result
}

// Run executes import -> store -> process -> link -> enrich ->
// replay-overrides for req. Failure at the import or process stage is
// surfaced immediately and the session is finalized as failed without
// touching already-persisted raw/normalized records (spec §4.11: "does not
// corrupt persisted state"). Link matching and price enrichment report
// their outcomes in the Result and return no error. A failure to read the
// override log does not stop the run: it is collected via multierr and
// returned alongside the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if req.Importer == nil || req.Processor == nil {
		return Result{}, errs.New(errs.InvalidArgs, "orchestrator: importer and processor are required")
	}

	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return Result{}, err
	}

	imported, err := o.runImport(ctx, &session, req)
	if err != nil {
		o.finalize(ctx, &session, models.SessionFailed, err.Error())
		return Result{Session: session}, err
	}

	records, err := o.deps.Store.Load(ctx, ingestionstore.Filters{SourceID: session.ID, Unprocessed: true})
	if err != nil {
		o.finalize(ctx, &session, models.SessionFailed, err.Error())
		return Result{Session: session}, errs.Wrap(errs.Database, "orchestrator: failed to load unprocessed records", err)
	}

	newTxs, err := req.Processor.Process(ctx, records)
	if err != nil {
		o.finalize(ctx, &session, models.SessionFailed, err.Error())
		return Result{Session: session}, err
	}

	if len(records) > 0 {
		if err := o.deps.Store.MarkAsProcessed(ctx, session.ID, fingerprintsOf(records)); err != nil {
			o.deps.Logger.Warnw("orchestrator: failed to mark records processed", "session", session.ID, "error", err)
		}
	}

	allTxs := make([]models.Transaction, 0, len(req.ExistingTransactions)+len(newTxs))
	allTxs = append(allTxs, req.ExistingTransactions...)
	allTxs = append(allTxs, newTxs...)

	newLinks, gapReport := linkmatcher.Match(allTxs, req.ExistingLinks, o.deps.Matcher)
	allLinks := make([]models.Link, 0, len(req.ExistingLinks)+len(newLinks))
	allLinks = append(allLinks, req.ExistingLinks...)
	allLinks = append(allLinks, newLinks...)

	result := Result{
		RecordsImported: imported,
		Transactions:    allTxs,
		Links:           allLinks,
		GapReport:       gapReport,
	}

	var stageErr error
	if o.deps.PriceEngine != nil {
		result.DerivedTrade = o.deps.PriceEngine.DerivedTrade(allTxs)
		result.FX = o.deps.PriceEngine.FXNormalize(ctx, allTxs)
		result.Market = o.deps.PriceEngine.MarketPrices(ctx, allTxs, req.PriceCurrency)
		result.LinkPropagation = o.deps.PriceEngine.LinkPropagation(allTxs, allLinks)
	}

	if o.deps.OverrideLog != nil {
		events, err := o.deps.OverrideLog.ReadAll()
		if err != nil {
			stageErr = multierr.Append(stageErr, errs.Wrap(errs.Internal, "orchestrator: failed to read override log", err))
		} else {
			state := newRunState(allTxs, allLinks)
			result.OverrideReplay = overridelog.Replay(events, state, state)
		}
	}

	o.finalize(ctx, &session, models.SessionCompleted, "")
	result.Session = session
	return result, stageErr
}

// runImport drives the importer to completion, persisting every batch and
// checkpointing its cursor as it arrives, so a crash mid-stream leaves the
// session resumable from the last durable cursor (spec §5: "each batch
// boundary ... is also a checkpoint").
func (o *Orchestrator) runImport(ctx context.Context, session *models.DataSource, req Request) (int, error) {
	if err := req.Importer.ValidateParams(req.ImportParams); err != nil {
		return 0, err
	}

	total := 0
	err := req.Importer.ImportStreaming(ctx, req.ImportParams, func(b importer.Batch) error {
		inserted, err := o.deps.Store.SaveBatch(ctx, session.ID, b.RawRecords, b.NormalizedRecords)
		if err != nil {
			return errs.Wrap(errs.Database, "orchestrator: failed to persist batch", err)
		}
		total += inserted

		if b.OperationType != "" {
			if err := o.deps.Store.UpdateCursor(ctx, session.ID, b.OperationType, b.Cursor); err != nil {
				return errs.Wrap(errs.Database, "orchestrator: failed to checkpoint cursor", err)
			}
		}
		return nil
	})
	return total, err
}

func (o *Orchestrator) resolveSession(ctx context.Context, req Request) (models.DataSource, error) {
	if req.Session != nil {
		return *req.Session, nil
	}

	id, err := utils.GenerateSecureUUID()
	if err != nil {
		return models.DataSource{}, errs.Wrap(errs.Internal, "orchestrator: failed to generate session id", err)
	}

	session := models.DataSource{
		ID:           id,
		SourceID:     req.SourceID,
		SourceType:   req.SourceType,
		Status:       models.SessionStarted,
		ImportParams: importParamsSnapshot(req.ImportParams),
		Cursors:      make(map[string]models.Cursor),
		StartedAt:    o.deps.Clock(),
	}
	if err := o.deps.Store.CreateSession(ctx, session); err != nil {
		return models.DataSource{}, errs.Wrap(errs.Database, "orchestrator: failed to create session", err)
	}
	return session, nil
}

func (o *Orchestrator) finalize(ctx context.Context, session *models.DataSource, status models.DataSourceStatus, errMessage string) {
	session.Transition(status, errMessage, o.deps.Clock())
	if err := o.deps.Store.Finalize(ctx, session.ID, status, errMessage, nil); err != nil {
		o.deps.Logger.Warnw("orchestrator: failed to finalize session", "session", session.ID, "error", err)
	}
}

func fingerprintsOf(records []models.NormalizedRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Fingerprint
	}
	return ids
}

// importParamsSnapshot turns an importer.Params into the plain map the
// ingestion store persists, for FindCompletedWithMatchingParams comparisons.
func importParamsSnapshot(p importer.Params) map[string]any {
	snap := map[string]any{}
	if p.Address != "" {
		snap["address"] = p.Address
	}
	if len(p.Addresses) > 0 {
		snap["addresses"] = p.Addresses
	}
	if p.CSVDirectory != "" {
		snap["csvDirectory"] = p.CSVDirectory
	}
	if len(p.CSVDirectories) > 0 {
		snap["csvDirectories"] = p.CSVDirectories
	}
	if p.Since != nil {
		snap["since"] = *p.Since
	}
	if p.Until != nil {
		snap["until"] = *p.Until
	}
	return snap
}
