package cli

import (
	"time"

	"github.com/arcsign/exitbook/internal/errs"
)

// Response is the stable JSON response envelope (spec §6):
//
//	{success, command, timestamp, data?, error?{code,message,details?,stack?}, metadata?}
type Response struct {
	Success   bool           `json:"success"`
	Command   string         `json:"command"`
	Timestamp string         `json:"timestamp"` // ISO-8601
	Data      any            `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
	Metadata  *Metadata      `json:"metadata,omitempty"`
}

// ResponseError is the error shape embedded in Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Metadata carries response-level bookkeeping.
type Metadata struct {
	DurationMs int64  `json:"durationMs,omitempty"`
	Version    string `json:"version,omitempty"`
}

// Success builds a successful envelope for command, timestamped now.
func Success(command string, data any, meta *Metadata) Response {
	return Response{
		Success:   true,
		Command:   command,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
		Metadata:  meta,
	}
}

// Failure builds a failed envelope from a domain error. stack is only
// populated when development is true, matching the spec's "stack is only
// included in development mode".
func Failure(command string, err error, development bool, meta *Metadata) Response {
	resp := Response{
		Success:   false,
		Command:   command,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metadata:  meta,
	}

	de, ok := err.(*errs.Error)
	if !ok {
		de = errs.Wrap(errs.Internal, err.Error(), err)
	}

	resp.Error = &ResponseError{
		Code:    string(de.Code),
		Message: de.Message,
	}
	if development {
		resp.Error.Stack = de.Error()
	}
	return resp
}

// ExitCode maps an errs.Code to the spec's stable process exit codes.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	de, ok := err.(*errs.Error)
	if !ok {
		return 1
	}
	switch de.Code {
	case errs.InvalidArgs:
		return 2
	case errs.Auth:
		return 3
	case errs.NotFound:
		return 4
	case errs.RateLimited:
		return 5
	case errs.Network:
		return 6
	case errs.Database:
		return 7
	case errs.Validation:
		return 8
	case errs.Cancelled:
		return 9
	case errs.Timeout:
		return 10
	case errs.ProviderUnavailable, errs.ConflictingState, errs.Internal:
		return 1
	default:
		return 1
	}
}
