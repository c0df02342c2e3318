package models

import (
	"encoding/json"
	"time"

	"github.com/arcsign/exitbook/internal/errs"
)

// RecordStatus is the lifecycle status of a normalized record.
type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "success"
	RecordStatusFailed  RecordStatus = "failed"
	RecordStatusPending RecordStatus = "pending"
)

// RawRecord is an opaque blob as returned by one provider, plus envelope.
// Immutable after insert.
type RawRecord struct {
	Fingerprint  string          `json:"fingerprint"`
	ProviderName string          `json:"providerName"`
	SourceAddress string         `json:"sourceAddress,omitempty"`
	ReceivedAt   time.Time       `json:"receivedAt"`
	RawPayload   json.RawMessage `json:"rawPayload"`
}

// NormalizedRecord is a provider-specific but schema-validated shape.
// Immutable after insert (re-validation may overwrite; fingerprint stable).
type NormalizedRecord struct {
	ID            string            `json:"id"`
	Fingerprint   string            `json:"fingerprint"`
	ProviderName  string            `json:"providerName"`
	ExternalID    string            `json:"externalId"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        RecordStatus      `json:"status"`
	From          string            `json:"from,omitempty"`
	To            string            `json:"to,omitempty"`
	Amounts       map[string]string `json:"amounts"` // assetSymbol -> decimal string
	Fees          map[string]string `json:"fees,omitempty"`
	OperationType string            `json:"operationType"` // e.g. native, token, internal, receipt
	SourceAddress string            `json:"sourceAddress,omitempty"`

	// Source-kind-specific extensions.
	BlockHeight   *uint64  `json:"blockHeight,omitempty"`
	TxHash        string   `json:"txHash,omitempty"`
	Signatures    []string `json:"signatures,omitempty"`
	UTXOChanges   []string `json:"utxoChanges,omitempty"`
	ReceiptEvents []string `json:"receiptEvents,omitempty"`
	ContractAddr  string   `json:"contractAddress,omitempty"`
	MethodName    string   `json:"methodName,omitempty"`
	TransactionTypeHint string `json:"transactionTypeHint,omitempty"`

	// Exchange-specific extensions (spec §4.6's exchange correlation path).
	OrderID string `json:"orderId,omitempty"`
	RowType string `json:"rowType,omitempty"` // e.g. interest, fiat_deposit, advanced_trade_fill
	Network string `json:"network,omitempty"` // CSV-sourced blockchain metadata, only meaningful with a non-empty TxHash

	ProviderData map[string]any `json:"providerData,omitempty"`
}

// Validate checks the required-field invariants of a normalized record.
func (r *NormalizedRecord) Validate() error {
	if r.ID == "" {
		return errs.New(errs.Validation, "normalized record missing id")
	}
	if r.Timestamp.IsZero() {
		return errs.New(errs.Validation, "normalized record missing timestamp")
	}
	switch r.Status {
	case RecordStatusSuccess, RecordStatusFailed, RecordStatusPending:
	default:
		return errs.Newf(errs.Validation, "normalized record has invalid status: %s", r.Status)
	}
	return nil
}
