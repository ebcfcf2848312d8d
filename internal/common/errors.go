package common

import (
	"errors"
	"fmt"

	"github.com/yuehanbi/receipt2excel/constants"
)

// ErrorKind is the closed set of pipeline failure kinds.
type ErrorKind string

const (
	// SchemaMismatch: the recognizer returned an incomplete or malformed
	// record. Recoverable by re-upload, never retried automatically.
	SchemaMismatch ErrorKind = "SCHEMA_MISMATCH"
	// ServiceUnavailable: the recognition service could not be reached or
	// timed out. Safe to retry the same stage.
	ServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	// ExportError: malformed numeric data; needs user correction first.
	ExportError ErrorKind = "EXPORT_ERROR"
	// StorageError: upload failed; safe to retry upload without re-export.
	StorageError ErrorKind = "STORAGE_ERROR"
)

// StageError is the failure variant returned from every pipeline stage. It
// always names the offending document's fingerprint and its current state.
type StageError struct {
	Kind        ErrorKind
	Fingerprint string
	State       constants.DocState
	Cause       error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: fingerprint=%s state=%s: %v", e.Kind, e.Fingerprint, e.State, e.Cause)
	}
	return fmt.Sprintf("%s: fingerprint=%s state=%s", e.Kind, e.Fingerprint, e.State)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError attaches pipeline context to a stage failure.
func NewStageError(kind ErrorKind, fingerprint string, state constants.DocState, cause error) *StageError {
	return &StageError{Kind: kind, Fingerprint: fingerprint, State: state, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Common application errors
var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrBadState     = errors.New("operation not valid in current state")
)
