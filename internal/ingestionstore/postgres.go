package ingestionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
)

// PostgresStore is the relational backend for the ingestion store, with two
// tables: import_sessions and external_transactions. It has no
// subscription_checkpoints table; per-operation cursors live in
// import_sessions.cursors. Grounded on
// internal/db/postgres.go (leanlp-BTC-coinjoin)'s pgxpool connect/ping,
// explicit Begin/Commit-per-batch, and ON CONFLICT upsert idiom.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pgxpool against connStr and verifies connectivity.
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errs.Wrap(errs.Database, "unable to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(errs.Database, "database ping failed", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the tables this store depends on if they do not yet
// exist. Production deployments are expected to manage schema via an
// external migration tool; this exists for local/dev bootstrapping.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to initialize schema", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS import_sessions (
	id                    TEXT PRIMARY KEY,
	source_id             TEXT NOT NULL,
	source_type           TEXT NOT NULL,
	status                TEXT NOT NULL,
	import_params         JSONB NOT NULL DEFAULT '{}',
	cursors               JSONB NOT NULL DEFAULT '{}',
	verification_metadata JSONB,
	started_at            TIMESTAMPTZ NOT NULL,
	completed_at          TIMESTAMPTZ,
	error                 TEXT
);

CREATE TABLE IF NOT EXISTS external_transactions (
	fingerprint      TEXT PRIMARY KEY,
	data_source_id   TEXT NOT NULL REFERENCES import_sessions(id),
	provider_name    TEXT NOT NULL,
	source_address   TEXT,
	received_at      TIMESTAMPTZ NOT NULL,
	raw_payload      JSONB NOT NULL,
	normalized       JSONB,
	status           TEXT NOT NULL DEFAULT 'pending',
	processed        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_external_transactions_source ON external_transactions(data_source_id);
CREATE INDEX IF NOT EXISTS idx_external_transactions_provider ON external_transactions(provider_name);
`

func (s *PostgresStore) CreateSession(ctx context.Context, ds models.DataSource) error {
	params, err := json.Marshal(ds.ImportParams)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal import params", err)
	}
	cursors, err := json.Marshal(ds.Cursors)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal cursors", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO import_sessions (id, source_id, source_type, status, import_params, cursors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ds.ID, ds.SourceID, ds.SourceType, ds.Status, params, cursors, ds.StartedAt)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to create session", err)
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, dataSourceID string, rawRecords []models.RawRecord, normalizedRecords []models.NormalizedRecord) (int, error) {
	normalizedByFingerprint := make(map[string]models.NormalizedRecord, len(normalizedRecords))
	for _, n := range normalizedRecords {
		normalizedByFingerprint[n.Fingerprint] = n
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.Database, "failed to begin batch transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, raw := range rawRecords {
		rawPayload := raw.RawPayload
		if rawPayload == nil {
			rawPayload = json.RawMessage("{}")
		}

		var normalizedJSON []byte
		status := string(models.RecordStatusPending)
		if n, ok := normalizedByFingerprint[raw.Fingerprint]; ok {
			normalizedJSON, err = json.Marshal(n)
			if err != nil {
				return inserted, errs.Wrap(errs.Internal, "failed to marshal normalized record", err)
			}
			status = string(n.Status)
		}

		var isNew bool
		err = tx.QueryRow(ctx, `
			INSERT INTO external_transactions
				(fingerprint, data_source_id, provider_name, source_address, received_at, raw_payload, normalized, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (fingerprint) DO UPDATE
				SET normalized = COALESCE(EXCLUDED.normalized, external_transactions.normalized),
				    status     = CASE WHEN EXCLUDED.normalized IS NOT NULL THEN EXCLUDED.status ELSE external_transactions.status END
			WHERE external_transactions.normalized IS NULL OR EXCLUDED.normalized IS NOT NULL
			RETURNING (xmax = 0)
		`, raw.Fingerprint, dataSourceID, raw.ProviderName, raw.SourceAddress, raw.ReceivedAt, rawPayload, normalizedJSON, status).Scan(&isNew)
		if err != nil && err != pgx.ErrNoRows {
			return inserted, errs.Wrap(errs.Database, "failed to upsert record", err)
		}
		if isNew {
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return inserted, errs.Wrap(errs.Database, "failed to commit batch", err)
	}
	return inserted, nil
}

func (s *PostgresStore) MarkAsProcessed(ctx context.Context, sourceID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE external_transactions SET processed = TRUE
		WHERE data_source_id = $1 AND fingerprint = ANY($2)
	`, sourceID, ids)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to mark records processed", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, filters Filters) ([]models.NormalizedRecord, error) {
	query := `SELECT normalized FROM external_transactions WHERE normalized IS NOT NULL`
	args := []any{}
	argN := 1

	if filters.SourceID != "" {
		query += fmt.Sprintf(" AND data_source_id = $%d", argN)
		argN++
		args = append(args, filters.SourceID)
	}
	if filters.Provider != "" {
		query += fmt.Sprintf(" AND provider_name = $%d", argN)
		argN++
		args = append(args, filters.Provider)
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		argN++
		args = append(args, string(filters.Status))
	}
	if filters.Unprocessed {
		query += " AND processed = FALSE"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.Database, "failed to load normalized records", err)
	}
	defer rows.Close()

	var out []models.NormalizedRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.Wrap(errs.Database, "failed to scan normalized record", err)
		}
		var rec models.NormalizedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, errs.Wrap(errs.Internal, "failed to decode normalized record", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateCursor(ctx context.Context, dataSourceID, operationType string, cursor models.Cursor) error {
	cursorJSON, err := json.Marshal(cursor)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal cursor", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE import_sessions
		SET cursors = jsonb_set(cursors, ARRAY[$2::text], $3::jsonb, true)
		WHERE id = $1
	`, dataSourceID, operationType, cursorJSON)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to update cursor", err)
	}
	return nil
}

func (s *PostgresStore) Finalize(ctx context.Context, sessionID string, status models.DataSourceStatus, errMessage string, metadata map[string]any) error {
	var metaJSON []byte
	var err error
	if metadata != nil {
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return errs.Wrap(errs.Internal, "failed to marshal verification metadata", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE import_sessions
		SET status = $2, error = NULLIF($3, ''), completed_at = $4, verification_metadata = COALESCE($5, verification_metadata)
		WHERE id = $1
	`, sessionID, string(status), errMessage, time.Now(), metaJSON)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to finalize session", err)
	}
	return nil
}

func (s *PostgresStore) FindCompletedWithMatchingParams(ctx context.Context, sourceID, sourceType string, params map[string]any) (*models.DataSource, bool, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, false, errs.Wrap(errs.Internal, "failed to marshal params", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, source_id, source_type, status, import_params, cursors, started_at, completed_at
		FROM import_sessions
		WHERE source_id = $1 AND source_type = $2 AND status = 'completed' AND import_params = $3::jsonb
		ORDER BY started_at DESC
		LIMIT 1
	`, sourceID, sourceType, paramsJSON)

	var ds models.DataSource
	var importParamsRaw, cursorsRaw []byte
	err = row.Scan(&ds.ID, &ds.SourceID, &ds.SourceType, &ds.Status, &importParamsRaw, &cursorsRaw, &ds.StartedAt, &ds.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.Database, "failed to query completed session", err)
	}
	if err := json.Unmarshal(importParamsRaw, &ds.ImportParams); err != nil {
		return nil, false, errs.Wrap(errs.Internal, "failed to decode import params", err)
	}
	if err := json.Unmarshal(cursorsRaw, &ds.Cursors); err != nil {
		return nil, false, errs.Wrap(errs.Internal, "failed to decode cursors", err)
	}
	return &ds, true, nil
}
