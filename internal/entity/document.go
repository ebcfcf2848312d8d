package entity

import (
	"time"

	"github.com/yuehanbi/receipt2excel/constants"
)

// Document is the per-upload unit of pipeline state.
type Document struct {
	Fingerprint string
	FileName    string
	State       constants.DocState

	// RawBytes hold the uploaded image until export, then are discarded.
	RawBytes []byte

	// RawRecord is set once by recognition and never mutated afterwards.
	RawRecord *ExpenseRecord
	// EditedRecord is seeded from RawRecord and replaced on every edit round.
	EditedRecord *ExpenseRecord

	// Artifact holds the rendered workbook only between Exported and Stored.
	// ExportBatch ties together the documents rendered into one workbook;
	// documents from different batches hold different artifacts and must
	// not be stored in one call.
	Artifact    []byte
	ExportBatch string
	ArtifactURL string

	UploadedAt time.Time
	LastError  string
}

// NewDocument starts a lifecycle for freshly uploaded bytes.
func NewDocument(fingerprint, fileName string, raw []byte) *Document {
	return &Document{
		Fingerprint: fingerprint,
		FileName:    fileName,
		State:       constants.StateUploaded,
		RawBytes:    raw,
		UploadedAt:  time.Now().UTC(),
	}
}
