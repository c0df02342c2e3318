// Package errs defines the structured error taxonomy shared by every
// component of the ingestion and enrichment pipeline (spec §7). Operations
// return a *Error instead of throwing; only genuinely unexpected conditions
// panic, and those are recovered and converted at the Orchestrator boundary.
package errs

import "fmt"

// Code is one of the kinds in the error taxonomy (kinds, not provider-specific
// names).
type Code string

const (
	InvalidArgs         Code = "InvalidArgs"
	NotFound            Code = "NotFound"
	Network             Code = "Network"
	Timeout             Code = "Timeout"
	RateLimited         Code = "RateLimited"
	Auth                Code = "Auth"
	Validation          Code = "Validation"
	Database            Code = "Database"
	ProviderUnavailable Code = "ProviderUnavailable"
	ConflictingState    Code = "ConflictingState"
	Cancelled           Code = "Cancelled"
	Internal            Code = "Internal"
)

// Error is the structured error type threaded through every module
// boundary. Provider-originated errors additionally carry Provider/Operation/
// Retriable/StatusCode.
type Error struct {
	Code       Code
	Message    string
	Provider   string
	Operation  string
	Retriable  bool
	StatusCode int
	Cause      error

	// Details carries a structured per-item breakdown for batch
	// operations that fail in more than one place at once (e.g. the
	// Processor's strict-mode group failures) — set via WithDetails.
	Details map[string]any
}

// WithDetails attaches a structured detail map and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WrapProvider creates a provider-attributed *Error, the shape every
// Provider Manager failover decision inspects.
func WrapProvider(code Code, message, provider, operation string, retriable bool, statusCode int, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Provider:   provider,
		Operation:  operation,
		Retriable:  retriable,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// Is reports whether err is an *Error of the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// IsRetriable reports whether err is an *Error explicitly marked retriable,
// or of a code the Provider Manager treats as retriable by default
// (Network, Timeout, RateLimited, ProviderUnavailable).
func IsRetriable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	if e.Retriable {
		return true
	}
	switch e.Code {
	case Network, Timeout, RateLimited, ProviderUnavailable:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err signals a cancellation.
func IsCancelled(err error) bool {
	return Is(err, Cancelled)
}
