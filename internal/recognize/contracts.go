package recognize

import (
	"context"
	"fmt"

	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
)

// Recognizer is the extraction boundary the pipeline depends on. It sends
// image bytes to the recognition service and returns a validated record plus
// the raw JSON the service produced. It performs no persistence and no retry.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string) (entity.ExpenseRecord, []byte, error)
}

// RecognitionError is the typed failure from the adapter. Kind is either
// common.SchemaMismatch (malformed record) or common.ServiceUnavailable
// (unreachable or timed out).
type RecognitionError struct {
	Kind   common.ErrorKind
	Detail string
	Cause  error
}

func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("recognize: %s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("recognize: %s: %s", e.Kind, e.Detail)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// NewSchemaMismatch wraps a malformed-record failure.
func NewSchemaMismatch(detail string, cause error) *RecognitionError {
	return &RecognitionError{Kind: common.SchemaMismatch, Detail: detail, Cause: cause}
}

// NewServiceUnavailable wraps a transport or timeout failure.
func NewServiceUnavailable(detail string, cause error) *RecognitionError {
	return &RecognitionError{Kind: common.ServiceUnavailable, Detail: detail, Cause: cause}
}
