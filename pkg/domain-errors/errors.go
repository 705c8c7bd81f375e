// Package domainerrors defines the typed error taxonomy shared across the
// verification modules. Services return these so transport and command layers
// can translate outcomes into user messages without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure.
type Code string

const (
	// CodeAlreadyVerified: the subject already holds a completed verification
	// in the backend record store.
	CodeAlreadyVerified Code = "already_verified"
	// CodeAlreadyPending: a live verification record exists for the subject.
	CodeAlreadyPending Code = "already_pending"
	// CodeNotFound: no record or mapping exists for the given key/subject.
	CodeNotFound Code = "not_found"
	// CodeNotAwaitingApproval: the record exists but is not in the
	// pending-manual-approval state.
	CodeNotAwaitingApproval Code = "not_awaiting_approval"
	// CodeProvider: the identity-verification provider rejected or failed a
	// session create/status/delete call.
	CodeProvider Code = "provider_error"
	// CodeBackend: the backend record store rejected or failed a call.
	CodeBackend Code = "backend_error"
	// CodeStillProcessing: provider-side deletion refused because the session
	// is still being processed internally. Retryable.
	CodeStillProcessing Code = "still_processing"
	// CodePersistence: ledger persistence failed. Logged, never fatal.
	CodePersistence Code = "persistence_error"

	CodeBadRequest Code = "bad_request"
	CodeInternal   Code = "internal"
)

// Error carries a Code plus a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a domain error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// outside the taxonomy.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the status the transport layer should respond
// with. Background-only codes fall through to 500.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeAlreadyVerified, CodeAlreadyPending:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotAwaitingApproval:
		return http.StatusConflict
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeProvider, CodeBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
