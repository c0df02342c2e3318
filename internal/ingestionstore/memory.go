package ingestionstore

import (
	"context"
	"sync"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
)

// MemoryStore is an in-memory Store, used by tests and by callers that do
// not need durability across process restarts.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*models.DataSource
	raw        map[string]models.RawRecord        // fingerprint -> raw
	normalized map[string]models.NormalizedRecord  // fingerprint -> normalized
	sourceOf   map[string]string                   // fingerprint -> dataSourceID
	processed  map[string]bool                     // fingerprint -> processed
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*models.DataSource),
		raw:        make(map[string]models.RawRecord),
		normalized: make(map[string]models.NormalizedRecord),
		sourceOf:   make(map[string]string),
		processed:  make(map[string]bool),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, ds models.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := ds
	if cp.Cursors == nil {
		cp.Cursors = make(map[string]models.Cursor)
	}
	m.sessions[ds.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveBatch(ctx context.Context, dataSourceID string, rawRecords []models.RawRecord, normalizedRecords []models.NormalizedRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalizedByFingerprint := make(map[string]models.NormalizedRecord, len(normalizedRecords))
	for _, n := range normalizedRecords {
		normalizedByFingerprint[n.Fingerprint] = n
	}

	inserted := 0
	for _, raw := range rawRecords {
		if _, exists := m.raw[raw.Fingerprint]; !exists {
			m.raw[raw.Fingerprint] = raw
			m.sourceOf[raw.Fingerprint] = dataSourceID
			inserted++
		}
		if n, ok := normalizedByFingerprint[raw.Fingerprint]; ok {
			m.normalized[raw.Fingerprint] = n
		}
	}
	return inserted, nil
}

func (m *MemoryStore) MarkAsProcessed(ctx context.Context, sourceID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if m.sourceOf[id] == sourceID {
			m.processed[id] = true
		}
	}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, filters Filters) ([]models.NormalizedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.NormalizedRecord
	for fp, rec := range m.normalized {
		if filters.SourceID != "" && m.sourceOf[fp] != filters.SourceID {
			continue
		}
		if filters.Provider != "" && rec.ProviderName != filters.Provider {
			continue
		}
		if filters.Status != "" && rec.Status != filters.Status {
			continue
		}
		if filters.Unprocessed && m.processed[fp] {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemoryStore) UpdateCursor(ctx context.Context, dataSourceID, operationType string, cursor models.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sessions[dataSourceID]
	if !ok {
		return errs.Newf(errs.NotFound, "session %s not found", dataSourceID)
	}
	if ds.Cursors == nil {
		ds.Cursors = make(map[string]models.Cursor)
	}
	ds.Cursors[operationType] = cursor
	return nil
}

func (m *MemoryStore) Finalize(ctx context.Context, sessionID string, status models.DataSourceStatus, errMessage string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds, ok := m.sessions[sessionID]
	if !ok {
		return errs.Newf(errs.NotFound, "session %s not found", sessionID)
	}
	ds.Transition(status, errMessage, time.Now())
	if metadata != nil {
		ds.VerificationMetadata = metadata
	}
	return nil
}

func (m *MemoryStore) FindCompletedWithMatchingParams(ctx context.Context, sourceID, sourceType string, params map[string]any) (*models.DataSource, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.DataSource
	for _, ds := range m.sessions {
		if ds.SourceID != sourceID || ds.SourceType != sourceType || ds.Status != models.SessionCompleted {
			continue
		}
		if !paramsEqual(ds.ImportParams, params) {
			continue
		}
		if best == nil || ds.StartedAt.After(best.StartedAt) {
			best = ds
		}
	}
	if best == nil {
		return nil, false, nil
	}
	cp := *best
	return &cp, true, nil
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
