package models

import "time"

// CursorPrimary is the resumable position marker of a streaming operation.
type CursorPrimary struct {
	Kind  CursorKind `json:"kind"`
	Value string     `json:"value"`
}

// Cursor is scoped to (source, operationType). A cursor authored by one
// provider may only be replayed on another provider of the same chain after
// that provider's replayWindow has been applied (see internal/providermgr).
type Cursor struct {
	Primary         CursorPrimary  `json:"primary"`
	LastTransactionID string       `json:"lastTransactionId,omitempty"`
	TotalFetched    int64          `json:"totalFetched"`
	Metadata        CursorMetadata `json:"metadata"`
}

// CursorMetadata carries bookkeeping plus provider-private fields. FileName/
// RowCount are populated by CSV importers; ProviderPrivate holds anything
// else a provider needs to resume (e.g. a page token internal to it).
type CursorMetadata struct {
	ProviderName    string         `json:"providerName"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	IsComplete      bool           `json:"isComplete"`
	FileName        string         `json:"fileName,omitempty"`
	RowCount        int            `json:"rowCount,omitempty"`
	ProviderPrivate map[string]any `json:"providerPrivate,omitempty"`
}

// DataSourceStatus is the lifecycle status of an ingestion session.
type DataSourceStatus string

const (
	SessionStarted   DataSourceStatus = "started"
	SessionCompleted DataSourceStatus = "completed"
	SessionFailed    DataSourceStatus = "failed"
	SessionCancelled DataSourceStatus = "cancelled"
)

// IsTerminal reports whether the session has reached a terminal status.
func (s DataSourceStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// DataSource is one run of an import: its parameters, status, and cursors
// (one per operation type, since multi-operation imports coexist).
type DataSource struct {
	ID                   string                 `json:"id"`
	SourceID             string                 `json:"sourceId"`
	SourceType           string                 `json:"sourceType"`
	Status               DataSourceStatus       `json:"status"`
	ImportParams         map[string]any         `json:"importParams"`
	Cursors              map[string]Cursor      `json:"cursors"` // keyed by operationType
	VerificationMetadata map[string]any         `json:"verificationMetadata,omitempty"`
	StartedAt            time.Time              `json:"startedAt"`
	CompletedAt          *time.Time             `json:"completedAt,omitempty"`
	Error                string                 `json:"error,omitempty"`
}

// Transition moves the session to a terminal status exactly once.
func (d *DataSource) Transition(status DataSourceStatus, errMsg string, at time.Time) {
	if d.Status.IsTerminal() {
		return
	}
	d.Status = status
	d.Error = errMsg
	if status.IsTerminal() {
		d.CompletedAt = &at
	}
}
