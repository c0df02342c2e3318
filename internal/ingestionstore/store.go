// Package ingestionstore is the Ingestion Store (spec §4.5): append-only
// persistence of raw + normalized records keyed by a deterministic
// fingerprint, idempotent upserts, and cursor checkpointing per
// (dataSourceId, operationType).
//
// Grounded on internal/db (leanlp-BTC-coinjoin)'s PostgresStore — pgxpool
// connection, ON CONFLICT upserts, explicit Begin/Commit transactions per
// batch — generalized from a forensics-heuristics schema to two tables,
// external_transactions and import_sessions. There is no
// subscription_checkpoints table: per-operation cursors are stored in the
// session row's cursors column.
package ingestionstore

import (
	"context"

	"github.com/arcsign/exitbook/internal/models"
)

// Filters scopes a Load query. Zero-value fields are unfiltered.
type Filters struct {
	SourceID    string
	Status      models.RecordStatus
	Provider    string
	// Unprocessed, when true, excludes records already flagged by
	// MarkAsProcessed — the Orchestrator's way of not reprocessing
	// already-processed raw records by fingerprint (spec §4.11).
	Unprocessed bool
}

// Store is the persistence contract every concrete backend implements.
type Store interface {
	// CreateSession starts a new data source / ingestion session.
	CreateSession(ctx context.Context, ds models.DataSource) error

	// SaveBatch inserts rawRecords and normalizedRecords atomically as one
	// unit. Duplicate fingerprints are not errors: the existing raw row is
	// kept (raw records are immutable after insert); normalized rows may be
	// overwritten in place since revalidation is allowed to update them
	// while the fingerprint stays stable. Returns the count of NEW raw rows
	// actually inserted (excludes rows skipped as duplicates).
	SaveBatch(ctx context.Context, dataSourceID string, rawRecords []models.RawRecord, normalizedRecords []models.NormalizedRecord) (int, error)

	// MarkAsProcessed flags normalized records as consumed by the Processor.
	// Idempotent: marking an already-processed id again is a no-op.
	MarkAsProcessed(ctx context.Context, sourceID string, ids []string) error

	// Load returns normalized records matching filters.
	Load(ctx context.Context, filters Filters) ([]models.NormalizedRecord, error)

	// UpdateCursor merges cursor into the session's per-operationType cursor
	// map, so multi-operation imports (native + token transfers, etc.)
	// coexist without clobbering each other.
	UpdateCursor(ctx context.Context, dataSourceID, operationType string, cursor models.Cursor) error

	// Finalize transitions a session to a terminal status.
	Finalize(ctx context.Context, sessionID string, status models.DataSourceStatus, errMessage string, metadata map[string]any) error

	// FindCompletedWithMatchingParams shortcuts a full re-import when the
	// same (sourceID, sourceType, params) already completed successfully.
	FindCompletedWithMatchingParams(ctx context.Context, sourceID, sourceType string, params map[string]any) (*models.DataSource, bool, error)
}
