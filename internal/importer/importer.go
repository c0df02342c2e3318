// Package importer is the Importer (spec §4.4): one per data source, pulling
// raw provider records through the Provider Manager's streaming failover and
// normalizing them into the pipeline's common record shape. Concrete
// provider wire formats are out of scope (spec §1); every source-specific
// transform is a caller-supplied NormalizeFunc.
//
// Grounded on src/chainadapter's RPC-transport layer for the streaming
// substrate (reused wholesale via internal/providermgr.Manager.ExecuteStreaming,
// not reimplemented here) and on golang.org/x/sync/errgroup, already part of
// the teacher's dependency surface, for running an import's concurrent
// operation-type streams (spec §4.4: "one importer may drive several
// operation types concurrently").
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/providermgr"
)

// Params is the fully enumerated input surface of an import run (spec
// §4.4). Which fields are required depends on the concrete importer;
// ValidateParams reports that.
type Params struct {
	Address        string
	Addresses      []string
	CSVDirectory   string
	CSVDirectories []string
	Credentials    map[string]string
	Since          *int64 // unix ms
	Until          *int64 // unix ms
	Cursor         map[string]models.Cursor // keyed by operationType
}

// Batch is one emitted unit of an import run, matching spec §4.4's
// importStreaming yield shape.
type Batch struct {
	RawRecords        []models.RawRecord
	NormalizedRecords []models.NormalizedRecord
	Cursor            models.Cursor
	OperationType     string
	IsComplete        bool
}

// BatchFunc receives one Batch as it is produced; returning an error aborts
// the stream.
type BatchFunc func(Batch) error

// NormalizeFunc turns one provider-shaped raw record into the pipeline's
// normalized record. Validation failures are reported as an error and are
// skipped by the caller, never fatal to the batch (spec §4.4: "logged and
// skipped, never fatal").
type NormalizeFunc func(providerName string, raw map[string]any) (models.NormalizedRecord, error)

// Importer is the capability contract spec §4.4 names for every source.
type Importer interface {
	ValidateParams(params Params) error
	ImportStreaming(ctx context.Context, params Params, yield BatchFunc) error
}

// recordFingerprint computes sha256(source||':'||externalId), hex-encoded —
// the same construction as internal/fingerprint.Transaction, duplicated here
// deliberately: a raw record's fingerprint is keyed before any canonical
// transaction exists, so it must not depend on that package's Transaction
// model.
func recordFingerprint(source, externalID string) string {
	sum := sha256.Sum256([]byte(source + ":" + externalID))
	return hex.EncodeToString(sum[:])
}

// OperationStream is one named, independently-cursored feed an importer
// drives — e.g. a chain's native transfers, token transfers, and internal
// calls are three OperationStreams sharing one address (spec §4.4: "native +
// token transfers + internal transactions").
type OperationStream struct {
	OperationType string
	Fetch         providermgr.PageFetcher
	IDOf          func(record map[string]any) string
}

// streamContext bundles what runStreams needs to drive every configured
// stream for one chain/source pool concurrently and funnel results through
// one caller callback.
type streamContext struct {
	manager   *providermgr.Manager
	poolKey   string // chain name or exchange source name
	source    string // fingerprint namespace for each record's external id
	normalize NormalizeFunc
	clock     func() time.Time
}

// runStreams drives the streams concurrently via errgroup, at most 3 at a
// time, normalizes each
// page's records, and serializes delivery to yield under a mutex (yield is
// never called concurrently from two goroutines at once).
func (sc streamContext) runStreams(ctx context.Context, streams []OperationStream, cursorOf func(operationType string) map[string]any, address string, yield BatchFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(3)
	var mu sync.Mutex

	for _, stream := range streams {
		stream := stream
		g.Go(func() error {
			startCursor := cursorOf(stream.OperationType)
			return sc.manager.ExecuteStreaming(gctx, sc.poolKey, stream.OperationType, stream.Fetch, startCursor, stream.IDOf, func(b providermgr.Batch) error {
				batch, err := sc.toBatch(stream.OperationType, address, b)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				return yield(batch)
			})
		})
	}
	return g.Wait()
}

// toBatch normalizes one providermgr.Batch's raw records into the spec §4.4
// shape, skipping (not failing on) individual normalization errors.
func (sc streamContext) toBatch(operationType, address string, b providermgr.Batch) (Batch, error) {
	raws := make([]models.RawRecord, 0, len(b.Data))
	normalized := make([]models.NormalizedRecord, 0, len(b.Data))

	for _, rec := range b.Data {
		externalID := externalIDOf(rec)
		payload, err := json.Marshal(rec)
		if err != nil {
			continue // unmarshalable provider record: logged upstream, skipped here
		}
		fp := recordFingerprint(sc.source, externalID)
		raws = append(raws, models.RawRecord{
			Fingerprint:   fp,
			ProviderName:  b.Stats.Provider,
			SourceAddress: address,
			ReceivedAt:    sc.clock(),
			RawPayload:    payload,
		})

		nr, err := sc.normalize(b.Stats.Provider, rec)
		if err != nil {
			continue // spec §4.4: validation failures are logged+skipped, never fatal
		}
		nr.Fingerprint = fp
		nr.ProviderName = b.Stats.Provider
		if nr.ExternalID == "" {
			nr.ExternalID = externalID
		}
		if nr.SourceAddress == "" {
			nr.SourceAddress = address
		}
		normalized = append(normalized, nr)
	}

	cursor := models.Cursor{
		Metadata: models.CursorMetadata{
			ProviderName: b.Stats.Provider,
			UpdatedAt:    sc.clock(),
			IsComplete:   b.IsComplete,
		},
	}
	if v, ok := b.Cursor["primary"]; ok {
		if s, ok := v.(string); ok {
			cursor.Primary = models.CursorPrimary{Kind: models.CursorKindPageToken, Value: s}
		}
	}

	return Batch{RawRecords: raws, NormalizedRecords: normalized, Cursor: cursor, OperationType: operationType, IsComplete: b.IsComplete}, nil
}

func externalIDOf(rec map[string]any) string {
	for _, key := range []string{"id", "txid", "hash", "transactionId"} {
		if v, ok := rec[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func cursorValue(cursors map[string]models.Cursor, operationType string) map[string]any {
	c, ok := cursors[operationType]
	if !ok {
		return nil
	}
	return map[string]any{"primary": c.Primary.Value}
}

var errNoAddress = errs.New(errs.InvalidArgs, "importer: address or addresses required")
