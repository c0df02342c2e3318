// Package overridelog is the Override Log (spec §4.10): an append-only
// NDJSON file of user decisions (confirm/reject link, set price), keyed by
// transaction fingerprints rather than database ids, so overrides survive
// re-ingestion.
//
// Grounded on internal/services/audit/logger.go's AuditLogger
// (mutex-guarded append-only NDJSON file, synced to disk, tolerant NDJSON
// reader that skips malformed lines) generalized from a fixed
// AuditLogEntry shape to models.OverrideEvent.
package overridelog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
)

// Log is the append-only override event store.
type Log struct {
	mu       sync.Mutex
	filePath string
}

// Open opens (creating parent directories as needed) the override log at
// filePath. The file itself is created lazily on first Append.
func Open(filePath string) (*Log, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.Database, "failed to create override log directory", err)
	}
	return &Log{filePath: filePath}, nil
}

// Append writes event as one NDJSON line, fsyncing before returning.
func (l *Log) Append(event models.OverrideEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap(errs.Database, "failed to open override log", err)
	}
	defer file.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.Internal, "failed to marshal override event", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		return errs.Wrap(errs.Database, "failed to append override event", err)
	}
	return file.Sync()
}

// ReadAll returns every override event recorded so far, in file order.
// Malformed lines are skipped rather than failing the read — the log is a
// durability-over-strictness artifact.
func (l *Log) ReadAll() ([]models.OverrideEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Database, "failed to read override log", err)
	}
	defer file.Close()

	var events []models.OverrideEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event models.OverrideEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}
