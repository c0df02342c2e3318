package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcsign/exitbook/internal/errs"
	"github.com/arcsign/exitbook/internal/importer"
	"github.com/arcsign/exitbook/internal/ingestionstore"
	"github.com/arcsign/exitbook/internal/models"
	"github.com/arcsign/exitbook/internal/orchestrator"
	"github.com/arcsign/exitbook/internal/processor"
)

// fakeImporter emits a fixed set of batches, ignoring params.
type fakeImporter struct {
	batches     []importer.Batch
	validateErr error
}

func (f *fakeImporter) ValidateParams(importer.Params) error { return f.validateErr }

func (f *fakeImporter) ImportStreaming(ctx context.Context, params importer.Params, yield importer.BatchFunc) error {
	for _, b := range f.batches {
		if err := yield(b); err != nil {
			return err
		}
	}
	return nil
}

func nativeDepositBatch(externalID, txHash string, at time.Time) importer.Batch {
	rec := models.NormalizedRecord{
		ID: externalID, ExternalID: externalID, Fingerprint: "fp-" + externalID,
		TxHash: txHash, Timestamp: at, Status: models.RecordStatusSuccess,
		From: "0xsender", To: "0xabc0000000000000000000000000000000000001",
		Amounts: map[string]string{"ETH": "1.5"},
	}
	return importer.Batch{
		RawRecords:        []models.RawRecord{{Fingerprint: rec.Fingerprint, ProviderName: "ethereum", ReceivedAt: at}},
		NormalizedRecords: []models.NormalizedRecord{rec},
		OperationType:     "native",
		Cursor:            models.Cursor{Metadata: models.CursorMetadata{UpdatedAt: at}},
		IsComplete:        true,
	}
}

func newProcessor() *processor.Processor {
	return processor.New(processor.Config{
		Kind:             processor.SourceBlockchain,
		Chain:            "ethereum",
		QueriedAddresses: []string{"0xAbC0000000000000000000000000000000000001"},
		NativeSymbol:     "ETH",
		Source:           "ethereum",
	})
}

func TestRun_ImportsProcessesAndCompletesSession(t *testing.T) {
	store := ingestionstore.NewMemoryStore()
	o := orchestrator.New(orchestrator.Deps{Store: store})

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	im := &fakeImporter{batches: []importer.Batch{nativeDepositBatch("tx1", "0xhash1", at)}}

	result, err := o.Run(context.Background(), orchestrator.Request{
		SourceID: "acct-1", SourceType: "ethereum",
		Importer: im, Processor: newProcessor(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
	assert.Equal(t, 1, result.RecordsImported)
	require.Len(t, result.Transactions, 1)
	assert.Len(t, result.Transactions[0].Movements.Inflows, 1)
}

func TestRun_SecondRunDoesNotReprocessSameRecord(t *testing.T) {
	store := ingestionstore.NewMemoryStore()
	o := orchestrator.New(orchestrator.Deps{Store: store})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	im := &fakeImporter{batches: []importer.Batch{nativeDepositBatch("tx1", "0xhash1", at)}}
	first, err := o.Run(context.Background(), orchestrator.Request{
		SourceID: "acct-1", SourceType: "ethereum", Importer: im, Processor: newProcessor(),
	})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 1)

	// Same importer replays the identical batch (as an interrupted/rerun
	// import would); the record was already marked processed, so a second
	// run against a fresh session sees no unprocessed records to process.
	second, err := o.Run(context.Background(), orchestrator.Request{
		SourceID: "acct-1", SourceType: "ethereum", Importer: im, Processor: newProcessor(),
		ExistingTransactions: first.Transactions,
	})
	require.NoError(t, err)
	assert.Len(t, second.Transactions, 1, "existing transaction carried forward, no duplicate reprocessed")
}

func TestRun_ImportFailureFinalizesSessionAsFailedWithoutPanicking(t *testing.T) {
	store := ingestionstore.NewMemoryStore()
	o := orchestrator.New(orchestrator.Deps{Store: store})

	im := &fakeImporter{validateErr: errs.New(errs.InvalidArgs, "missing address")}
	_, err := o.Run(context.Background(), orchestrator.Request{
		SourceID: "acct-1", SourceType: "ethereum", Importer: im, Processor: newProcessor(),
	})
	require.Error(t, err)
}

func TestRun_RequiresImporterAndProcessor(t *testing.T) {
	o := orchestrator.New(orchestrator.Deps{Store: ingestionstore.NewMemoryStore()})
	_, err := o.Run(context.Background(), orchestrator.Request{})
	require.Error(t, err)
}
