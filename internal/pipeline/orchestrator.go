// Package pipeline sequences one session's documents through the intake
// lifecycle: Uploaded → Hashed → (DuplicateSkipped | Recognizing) →
// (RecognitionFailed | Recognized) → Editing → Confirmed → Exported →
// Stored. DuplicateSkipped, RecognitionFailed and Stored are terminal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/yuehanbi/receipt2excel/constants"
	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
	"github.com/yuehanbi/receipt2excel/internal/export"
	"github.com/yuehanbi/receipt2excel/internal/ingest"
	"github.com/yuehanbi/receipt2excel/internal/observability/metrics"
	"github.com/yuehanbi/receipt2excel/internal/recognize"
	"github.com/yuehanbi/receipt2excel/internal/review"
	"github.com/yuehanbi/receipt2excel/internal/storage"
	"github.com/yuehanbi/receipt2excel/internal/store"
)

// Renderer is what the orchestrator needs from the export stage.
type Renderer interface {
	Render(records []entity.ExpenseRecord) ([]byte, error)
}

// Config holds the two network timeouts the pipeline applies.
type Config struct {
	RecognizeTimeout time.Duration
	StorageTimeout   time.Duration
}

// Orchestrator drives the state machine. It owns no state itself; every
// operation works against the caller's session store.
type Orchestrator struct {
	recognizer recognize.Recognizer
	exporter   Renderer
	uploader   storage.ObjectStorage
	metrics    *metrics.PipelineMetrics
	logger     *slog.Logger
	cfg        Config
	now        func() time.Time
}

func NewOrchestrator(
	recognizer recognize.Recognizer,
	exporter Renderer,
	uploader storage.ObjectStorage,
	pm *metrics.PipelineMetrics,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RecognizeTimeout <= 0 {
		cfg.RecognizeTimeout = 45 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 30 * time.Second
	}
	return &Orchestrator{
		recognizer: recognizer,
		exporter:   exporter,
		uploader:   uploader,
		metrics:    pm,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// IntakeOutcome reports one upload's result. Duplicate is informational,
// not an error: the existing document was left untouched.
type IntakeOutcome struct {
	Document  *entity.Document
	Duplicate bool
}

// Intake hashes the upload, short-circuits duplicates, and runs recognition
// exactly once per in-store fingerprint. On recognition failure the typed
// error is returned and the document leaves the store, so the same bytes
// can be re-uploaded to retry recognition.
func (o *Orchestrator) Intake(ctx context.Context, st *store.RecordStore, fileName string, raw []byte) (IntakeOutcome, error) {
	doc := entity.NewDocument(ingest.Fingerprint(raw), fileName, raw)
	doc.State = constants.StateHashed

	inserted, fresh := st.InsertIfAbsent(doc)
	if !fresh {
		o.logger.Info("pipeline.intake.duplicate",
			"session", common.SessionIDFromContext(ctx),
			"fingerprint", doc.Fingerprint,
			"existing_state", inserted.State,
		)
		o.metrics.ObserveIntake("duplicate")
		return IntakeOutcome{Document: inserted, Duplicate: true}, nil
	}

	doc.State = constants.StateRecognizing
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RecognizeTimeout)
	defer cancel()

	start := o.now()
	rec, _, err := o.recognizer.Recognize(rctx, raw, constants.MimeTypeForExt(filepath.Ext(fileName)))
	o.metrics.ObserveRecognizeSeconds(time.Since(start).Seconds())
	if err != nil {
		kind := recognitionKind(err)
		doc.State = constants.StateRecognitionFailed
		doc.LastError = err.Error()
		// Evict the failed document so re-uploading the same bytes runs
		// recognition again instead of hitting the duplicate check.
		st.Remove(doc.Fingerprint)
		o.metrics.ObserveIntake("failed")
		o.metrics.ObserveStageFailure(string(kind))
		o.logger.Error("pipeline.recognize.failed",
			"fingerprint", doc.Fingerprint,
			"kind", kind,
			"error", err,
		)
		return IntakeOutcome{Document: doc}, common.NewStageError(kind, doc.Fingerprint, doc.State, err)
	}

	doc.RawRecord = &rec
	doc.State = constants.StateRecognized

	// Recognized → Editing is automatic; the edited record starts as a copy.
	edited := rec.Clone()
	doc.EditedRecord = &edited
	doc.State = constants.StateEditing

	o.metrics.ObserveIntake("recognized")
	o.logger.Info("pipeline.recognize.ok",
		"fingerprint", doc.Fingerprint,
		"expense_id", rec.ExpenseID,
		"submitter", rec.Submitter,
		"line_items", len(rec.LineItems),
	)
	return IntakeOutcome{Document: doc}, nil
}

// Edit applies one round of field edits against the latest edited record.
// An unparseable round is rejected whole and the prior values are retained.
func (o *Orchestrator) Edit(ctx context.Context, st *store.RecordStore, fingerprint string, edits review.FieldEdits) (*entity.Document, error) {
	doc, ok := st.Get(fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, fingerprint)
	}
	if doc.State != constants.StateEditing {
		return doc, fmt.Errorf("%w: edit in state %s", common.ErrBadState, doc.State)
	}

	updated, err := review.ApplyEdits(*doc.EditedRecord, edits)
	if err != nil {
		return doc, fmt.Errorf("%w: %v", common.ErrInvalidInput, err)
	}
	doc.EditedRecord = &updated

	o.logger.Info("pipeline.edit.ok",
		"session", common.SessionIDFromContext(ctx),
		"fingerprint", fingerprint,
	)
	return doc, nil
}

// Confirm moves Editing → Confirmed. Confirming an already confirmed
// document is a no-op returning the same state.
func (o *Orchestrator) Confirm(ctx context.Context, st *store.RecordStore, fingerprint string) (*entity.Document, error) {
	doc, ok := st.Get(fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, fingerprint)
	}
	switch doc.State {
	case constants.StateConfirmed:
		return doc, nil
	case constants.StateEditing:
		doc.State = constants.StateConfirmed
		o.logger.Info("pipeline.confirm.ok",
			"session", common.SessionIDFromContext(ctx),
			"fingerprint", fingerprint,
		)
		return doc, nil
	default:
		return doc, fmt.Errorf("%w: confirm in state %s", common.ErrBadState, doc.State)
	}
}

// Export renders the confirmed documents into one workbook (N row-groups).
// All-or-nothing: a render failure leaves every batch member in Confirmed
// and surfaces the offending fingerprint. On success each document moves to
// Exported, holds the artifact for upload, and drops its raw image bytes.
func (o *Orchestrator) Export(ctx context.Context, st *store.RecordStore, fingerprints []string) ([]*entity.Document, error) {
	if len(fingerprints) == 0 {
		return nil, fmt.Errorf("%w: no fingerprints to export", common.ErrInvalidInput)
	}

	docs := make([]*entity.Document, 0, len(fingerprints))
	records := make([]entity.ExpenseRecord, 0, len(fingerprints))
	for _, fp := range fingerprints {
		doc, ok := st.Get(fp)
		if !ok {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, fp)
		}
		if doc.State != constants.StateConfirmed {
			return nil, fmt.Errorf("%w: export in state %s (fingerprint %s)", common.ErrBadState, doc.State, fp)
		}
		docs = append(docs, doc)
		records = append(records, *doc.EditedRecord)
	}

	artifact, err := o.exporter.Render(records)
	if err != nil {
		o.metrics.ObserveExport("error")
		offender := docs[0]
		var re *export.RenderError
		if errors.As(err, &re) && re.RecordIndex < len(docs) {
			offender = docs[re.RecordIndex]
		}
		o.logger.Error("pipeline.export.failed",
			"fingerprint", offender.Fingerprint,
			"state", offender.State,
			"error", err,
		)
		return nil, common.NewStageError(common.ExportError, offender.Fingerprint, offender.State, err)
	}

	batch := uuid.NewString()
	for _, doc := range docs {
		doc.Artifact = artifact
		doc.ExportBatch = batch
		doc.RawBytes = nil
		doc.State = constants.StateExported
	}
	o.metrics.ObserveExport("ok")
	o.logger.Info("pipeline.export.ok",
		"session", common.SessionIDFromContext(ctx),
		"documents", len(docs),
		"artifact_bytes", len(artifact),
	)
	return docs, nil
}

// Store uploads one export batch's artifact and finishes the lifecycle: on
// success every document is removed from the store and the URL returned; on
// failure the documents stay in Exported with the artifact retained, so
// Store can be called again without re-exporting. Fingerprints from
// different export batches are rejected whole.
func (o *Orchestrator) Store(ctx context.Context, st *store.RecordStore, fingerprints []string) (string, error) {
	if len(fingerprints) == 0 {
		return "", fmt.Errorf("%w: no fingerprints to store", common.ErrInvalidInput)
	}

	docs := make([]*entity.Document, 0, len(fingerprints))
	for _, fp := range fingerprints {
		doc, ok := st.Get(fp)
		if !ok {
			return "", fmt.Errorf("%w: %s", common.ErrNotFound, fp)
		}
		if doc.State != constants.StateExported {
			return "", fmt.Errorf("%w: store in state %s (fingerprint %s)", common.ErrBadState, doc.State, fp)
		}
		// One Store call uploads one artifact. Documents exported in
		// separate calls hold different workbooks; mixing them would
		// upload one and silently drop the rest.
		if len(docs) > 0 && doc.ExportBatch != docs[0].ExportBatch {
			return "", fmt.Errorf("%w: fingerprints span different export batches (%s)", common.ErrInvalidInput, fp)
		}
		docs = append(docs, doc)
	}

	// The object name comes from the leading record; the timestamp suffix
	// versions repeated exports so nothing is ever overwritten.
	lead := docs[0].EditedRecord
	objectName := storage.ObjectName(lead.Submitter, lead.ExpenseID, o.now())

	sctx, cancel := context.WithTimeout(ctx, o.cfg.StorageTimeout)
	defer cancel()

	url, err := o.uploader.Put(sctx, objectName, docs[0].Artifact)
	if err != nil {
		o.metrics.ObserveUpload("error")
		o.metrics.ObserveStageFailure(string(common.StorageError))
		o.logger.Error("pipeline.store.failed",
			"fingerprint", docs[0].Fingerprint,
			"object", objectName,
			"error", err,
		)
		return "", common.NewStageError(common.StorageError, docs[0].Fingerprint, docs[0].State, err)
	}

	for _, doc := range docs {
		doc.ArtifactURL = url
		doc.Artifact = nil // release the artifact once the upload is durable
		doc.State = constants.StateStored
		st.Remove(doc.Fingerprint)
	}
	o.metrics.ObserveUpload("ok")
	o.logger.Info("pipeline.store.ok",
		"session", common.SessionIDFromContext(ctx),
		"object", objectName,
		"documents", len(docs),
		"url", url,
	)
	return url, nil
}

// ClearAll discards every document unconditionally, regardless of state.
// This is the only way to remove a document before Stored.
func (o *Orchestrator) ClearAll(ctx context.Context, st *store.RecordStore) int {
	n := st.Clear()
	o.logger.Info("pipeline.clear.ok",
		"session", common.SessionIDFromContext(ctx),
		"discarded", n,
	)
	return n
}

// recognitionKind maps any adapter failure onto the closed error-kind set.
// Timeouts and transport errors without a typed wrapper count as outages.
func recognitionKind(err error) common.ErrorKind {
	var re *recognize.RecognitionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return common.ServiceUnavailable
}
