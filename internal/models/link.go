package models

import (
	"time"

	"github.com/arcsign/exitbook/internal/errs"
)

var errLinkTerminal = errs.New(errs.ConflictingState, "link status is terminal and cannot be re-transitioned")

// LinkStatus is the state-machine status of a cross-source link. Per spec
// §4.8, suggested -> {confirmed, rejected} and terminal thereafter.
type LinkStatus string

const (
	LinkSuggested LinkStatus = "suggested"
	LinkConfirmed LinkStatus = "confirmed"
	LinkRejected  LinkStatus = "rejected"
)

// IsTerminal reports whether re-running the matcher may no longer mutate
// this status.
func (s LinkStatus) IsTerminal() bool {
	return s == LinkConfirmed || s == LinkRejected
}

// MatchCriteria records why a link was proposed, for audit/debugging.
type MatchCriteria struct {
	AssetMatch       string  `json:"assetMatch"` // "exact" | "normalized"
	AmountSimilarity float64 `json:"amountSimilarity"`
	TimingFactor     float64 `json:"timingFactor"`
	GapHours         float64 `json:"gapHours"`
}

// Link asserts that a withdrawal on one source became a deposit on another.
type Link struct {
	ID                   string        `json:"id"`
	SourceTransactionID  string        `json:"sourceTransactionId"`
	TargetTransactionID  string        `json:"targetTransactionId"`
	AssetSymbol          string        `json:"assetSymbol"`
	SourceAmount         float64       `json:"sourceAmount"`
	TargetAmount         float64       `json:"targetAmount"`
	LinkType             string        `json:"linkType"`
	ConfidenceScore      float64       `json:"confidenceScore"`
	MatchCriteria        MatchCriteria `json:"matchCriteria"`
	Status               LinkStatus    `json:"status"`
	ReviewedBy           string        `json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time    `json:"reviewedAt,omitempty"`
}

// Valid enforces the §3 link invariants.
func (l *Link) Valid() bool {
	if l.ConfidenceScore < 0 || l.ConfidenceScore > 1 {
		return false
	}
	return l.SourceAmount >= l.TargetAmount
}

// Confirm transitions a suggested link to confirmed. No-op (idempotent) if
// already confirmed; refuses to reopen a rejected link.
func (l *Link) Confirm(actor string, at time.Time) error {
	if l.Status == LinkConfirmed {
		return nil
	}
	if l.Status == LinkRejected {
		return errLinkTerminal
	}
	l.Status = LinkConfirmed
	l.ReviewedBy = actor
	l.ReviewedAt = &at
	return nil
}

// Reject transitions a suggested link to rejected. Idempotent; refuses to
// flip a confirmed link.
func (l *Link) Reject(actor string, at time.Time) error {
	if l.Status == LinkRejected {
		return nil
	}
	if l.Status == LinkConfirmed {
		return errLinkTerminal
	}
	l.Status = LinkRejected
	l.ReviewedBy = actor
	l.ReviewedAt = &at
	return nil
}
