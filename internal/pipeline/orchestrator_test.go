package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/yuehanbi/receipt2excel/constants"
	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
	"github.com/yuehanbi/receipt2excel/internal/recognize"
	"github.com/yuehanbi/receipt2excel/internal/review"
	"github.com/yuehanbi/receipt2excel/internal/store"
)

type fakeRecognizer struct {
	calls    int
	rec      entity.ExpenseRecord
	err      error
	failures int // with err set, fail only the first N calls; 0 means always
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, mimeType string) (entity.ExpenseRecord, []byte, error) {
	f.calls++
	if f.err != nil && (f.failures == 0 || f.calls <= f.failures) {
		return entity.ExpenseRecord{}, nil, f.err
	}
	return f.rec, []byte(`{}`), nil
}

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Render(records []entity.ExpenseRecord) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("xlsx:%d", len(records))), nil
}

type fakeUploader struct {
	calls    int
	failures int
	objects  []string
}

func (f *fakeUploader) Put(ctx context.Context, objectName string, data []byte) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("connection refused")
	}
	f.objects = append(f.objects, objectName)
	return "https://objects.example/" + objectName, nil
}

func sampleRecord() entity.ExpenseRecord {
	return entity.ExpenseRecord{
		ExpenseID:  "BX-2024-001",
		Date:       "2024年3月5日",
		Submitter:  "张三",
		Department: "研发部",
		LineItems: []entity.LineItem{
			{Name: "餐费", Amount: decimal.RequireFromString("120.5")},
		},
		TotalAmount: decimal.RequireFromString("120.5"),
	}
}

func newTestOrchestrator(rec *fakeRecognizer, ren *fakeRenderer, up *fakeUploader) *Orchestrator {
	return NewOrchestrator(rec, ren, up, nil, nil, Config{})
}

func strPtr(s string) *string { return &s }

func TestIntakeRecognizesOncePerFingerprint(t *testing.T) {
	rec := &fakeRecognizer{rec: sampleRecord()}
	orch := newTestOrchestrator(rec, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	first, err := orch.Intake(ctx, st, "a.jpg", []byte("same bytes"))
	if err != nil {
		t.Fatalf("first Intake() error = %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first intake flagged duplicate")
	}
	if first.Document.State != constants.StateEditing {
		t.Fatalf("state = %s, want %s", first.Document.State, constants.StateEditing)
	}
	if first.Document.RawRecord == nil || first.Document.EditedRecord == nil {
		t.Fatalf("recognition results not attached")
	}
	if first.Document.EditedRecord == first.Document.RawRecord {
		t.Fatalf("edited record must be a copy, not an alias")
	}

	second, err := orch.Intake(ctx, st, "renamed.jpg", []byte("same bytes"))
	if err != nil {
		t.Fatalf("duplicate Intake() error = %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("identical bytes not flagged duplicate")
	}
	if second.Document != first.Document {
		t.Fatalf("duplicate must return the existing document")
	}
	if second.Document.FileName != "a.jpg" {
		t.Fatalf("existing document mutated: FileName = %q", second.Document.FileName)
	}
	if rec.calls != 1 {
		t.Fatalf("recognizer called %d times, want 1", rec.calls)
	}
}

func TestIntakeDetectsDuplicateAcrossFileNames(t *testing.T) {
	recA := sampleRecord()
	recB := sampleRecord()
	recB.ExpenseID = "BX-2024-002"

	rec := &fakeRecognizer{rec: recA}
	orch := newTestOrchestrator(rec, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	if _, err := orch.Intake(ctx, st, "a.jpg", []byte("content A")); err != nil {
		t.Fatalf("Intake(a) error = %v", err)
	}
	rec.rec = recB
	out, err := orch.Intake(ctx, st, "a.jpg", []byte("content B"))
	if err != nil {
		t.Fatalf("Intake(b) error = %v", err)
	}
	if out.Duplicate {
		t.Fatalf("different bytes under the same name must not be duplicates")
	}
	if st.Len() != 2 {
		t.Fatalf("store holds %d documents, want 2", st.Len())
	}
}

func TestIntakeRecognitionFailureReportsTypedError(t *testing.T) {
	rec := &fakeRecognizer{err: recognize.NewSchemaMismatch("missing submitter", nil)}
	orch := newTestOrchestrator(rec, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()

	out, err := orch.Intake(context.Background(), st, "a.jpg", []byte("bad receipt"))
	if err == nil {
		t.Fatalf("expected recognition failure")
	}
	if common.KindOf(err) != common.SchemaMismatch {
		t.Fatalf("kind = %s, want %s", common.KindOf(err), common.SchemaMismatch)
	}
	var se *common.StageError
	if !errors.As(err, &se) || se.Fingerprint != out.Document.Fingerprint {
		t.Fatalf("stage error must carry the fingerprint: %v", err)
	}
	if out.Document.State != constants.StateRecognitionFailed {
		t.Fatalf("state = %s, want %s", out.Document.State, constants.StateRecognitionFailed)
	}
	if out.Document.LastError == "" {
		t.Fatalf("LastError not recorded")
	}
	// the failed document does not linger in the store
	if st.Len() != 0 {
		t.Fatalf("store holds %d documents after failure, want 0", st.Len())
	}
}

func TestIntakeRecognitionFailureAllowsReupload(t *testing.T) {
	outage := recognize.NewServiceUnavailable("dial", errors.New("connection refused"))
	rec := &fakeRecognizer{rec: sampleRecord(), err: outage, failures: 1}
	orch := newTestOrchestrator(rec, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	_, err := orch.Intake(ctx, st, "a.jpg", []byte("flaky receipt"))
	if common.KindOf(err) != common.ServiceUnavailable {
		t.Fatalf("kind = %s, want %s", common.KindOf(err), common.ServiceUnavailable)
	}

	// re-uploading the same bytes retries recognition instead of
	// reporting a duplicate of the failed attempt
	again, err := orch.Intake(ctx, st, "a.jpg", []byte("flaky receipt"))
	if err != nil {
		t.Fatalf("re-upload error = %v", err)
	}
	if again.Duplicate {
		t.Fatalf("re-upload after failure must not be a duplicate")
	}
	if again.Document.State != constants.StateEditing {
		t.Fatalf("state = %s, want %s", again.Document.State, constants.StateEditing)
	}
	if rec.calls != 2 {
		t.Fatalf("recognizer called %d times, want 2", rec.calls)
	}

	// a third upload of the now-recognized bytes is a plain duplicate
	third, err := orch.Intake(ctx, st, "a.jpg", []byte("flaky receipt"))
	if err != nil {
		t.Fatalf("third upload error = %v", err)
	}
	if !third.Duplicate {
		t.Fatalf("recognized bytes must dedup")
	}
	if rec.calls != 2 {
		t.Fatalf("recognizer called %d times after dedup, want 2", rec.calls)
	}
}

func TestIntakeUntypedFailureCountsAsOutage(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("dial tcp: connection refused")}
	orch := newTestOrchestrator(rec, &fakeRenderer{}, &fakeUploader{})

	_, err := orch.Intake(context.Background(), store.NewRecordStore(), "a.jpg", []byte("x"))
	if common.KindOf(err) != common.ServiceUnavailable {
		t.Fatalf("kind = %s, want %s", common.KindOf(err), common.ServiceUnavailable)
	}
}

func TestEditUpdatesOnlyEditedRecord(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	out, err := orch.Intake(ctx, st, "a.jpg", []byte("x"))
	if err != nil {
		t.Fatalf("Intake() error = %v", err)
	}

	doc, err := orch.Edit(ctx, st, out.Document.Fingerprint, review.FieldEdits{Submitter: strPtr("李四")})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if doc.EditedRecord.Submitter != "李四" {
		t.Fatalf("edit not applied: %q", doc.EditedRecord.Submitter)
	}
	if doc.RawRecord.Submitter != "张三" {
		t.Fatalf("raw recognition result mutated: %q", doc.RawRecord.Submitter)
	}
	if doc.State != constants.StateEditing {
		t.Fatalf("state = %s, want %s", doc.State, constants.StateEditing)
	}
}

func TestEditRejectsBadRoundAndKeepsPrior(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	out, _ := orch.Intake(ctx, st, "a.jpg", []byte("x"))
	fp := out.Document.Fingerprint

	if _, err := orch.Edit(ctx, st, fp, review.FieldEdits{Submitter: strPtr("李四")}); err != nil {
		t.Fatalf("good round failed: %v", err)
	}
	_, err := orch.Edit(ctx, st, fp, review.FieldEdits{
		Submitter:   strPtr("王五"),
		TotalAmount: strPtr("not a number"),
	})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}

	doc, _ := st.Get(fp)
	if doc.EditedRecord.Submitter != "李四" {
		t.Fatalf("failed round changed the record: %q", doc.EditedRecord.Submitter)
	}
}

func TestEditOutsideEditingState(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	out, _ := orch.Intake(ctx, st, "a.jpg", []byte("x"))
	fp := out.Document.Fingerprint
	if _, err := orch.Confirm(ctx, st, fp); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	if _, err := orch.Edit(ctx, st, fp, review.FieldEdits{Submitter: strPtr("李四")}); !errors.Is(err, common.ErrBadState) {
		t.Fatalf("error = %v, want ErrBadState", err)
	}
	if _, err := orch.Edit(ctx, st, "no-such-fp", review.FieldEdits{}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	out, _ := orch.Intake(ctx, st, "a.jpg", []byte("x"))
	fp := out.Document.Fingerprint

	if _, err := orch.Confirm(ctx, st, fp); err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}
	doc, err := orch.Confirm(ctx, st, fp)
	if err != nil {
		t.Fatalf("repeat Confirm() error = %v", err)
	}
	if doc.State != constants.StateConfirmed {
		t.Fatalf("state = %s, want %s", doc.State, constants.StateConfirmed)
	}
}

func TestExportMovesBatchToExported(t *testing.T) {
	ren := &fakeRenderer{}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, ren, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	b, _ := orch.Intake(ctx, st, "b.jpg", []byte("b"))
	fps := []string{a.Document.Fingerprint, b.Document.Fingerprint}
	for _, fp := range fps {
		if _, err := orch.Confirm(ctx, st, fp); err != nil {
			t.Fatalf("Confirm(%s) error = %v", fp, err)
		}
	}

	docs, err := orch.Export(ctx, st, fps)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if ren.calls != 1 {
		t.Fatalf("renderer called %d times, want one batch render", ren.calls)
	}
	for _, doc := range docs {
		if doc.State != constants.StateExported {
			t.Fatalf("state = %s, want %s", doc.State, constants.StateExported)
		}
		if len(doc.Artifact) == 0 {
			t.Fatalf("artifact not retained for upload")
		}
		if doc.RawBytes != nil {
			t.Fatalf("raw image bytes not released at export")
		}
	}
}

func TestExportRequiresEveryMemberConfirmed(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	b, _ := orch.Intake(ctx, st, "b.jpg", []byte("b"))
	if _, err := orch.Confirm(ctx, st, a.Document.Fingerprint); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	_, err := orch.Export(ctx, st, []string{a.Document.Fingerprint, b.Document.Fingerprint})
	if !errors.Is(err, common.ErrBadState) {
		t.Fatalf("error = %v, want ErrBadState", err)
	}
	// all-or-nothing: the confirmed member stays Confirmed
	doc, _ := st.Get(a.Document.Fingerprint)
	if doc.State != constants.StateConfirmed {
		t.Fatalf("state = %s, want %s", doc.State, constants.StateConfirmed)
	}
}

func TestExportRenderFailureLeavesBatchConfirmed(t *testing.T) {
	ren := &fakeRenderer{err: errors.New("amount is not a finite number")}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, ren, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	fp := a.Document.Fingerprint
	orch.Confirm(ctx, st, fp)

	_, err := orch.Export(ctx, st, []string{fp})
	if common.KindOf(err) != common.ExportError {
		t.Fatalf("kind = %s, want %s", common.KindOf(err), common.ExportError)
	}
	doc, _ := st.Get(fp)
	if doc.State != constants.StateConfirmed {
		t.Fatalf("state = %s, want %s", doc.State, constants.StateConfirmed)
	}
	if doc.Artifact != nil {
		t.Fatalf("failed export must not attach an artifact")
	}
}

func TestStoreFailureIsRetryableWithoutReExport(t *testing.T) {
	up := &fakeUploader{failures: 1}
	ren := &fakeRenderer{}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, ren, up)
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	fp := a.Document.Fingerprint
	orch.Confirm(ctx, st, fp)
	if _, err := orch.Export(ctx, st, []string{fp}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	_, err := orch.Store(ctx, st, []string{fp})
	if common.KindOf(err) != common.StorageError {
		t.Fatalf("kind = %s, want %s", common.KindOf(err), common.StorageError)
	}
	doc, ok := st.Get(fp)
	if !ok {
		t.Fatalf("document dropped on storage failure")
	}
	if doc.State != constants.StateExported {
		t.Fatalf("state = %s, want %s", doc.State, constants.StateExported)
	}
	if len(doc.Artifact) == 0 {
		t.Fatalf("artifact must be retained for retry")
	}

	url, err := orch.Store(ctx, st, []string{fp})
	if err != nil {
		t.Fatalf("retry Store() error = %v", err)
	}
	if url == "" {
		t.Fatalf("retry returned no URL")
	}
	if ren.calls != 1 {
		t.Fatalf("retry re-rendered the workbook")
	}
	if _, ok := st.Get(fp); ok {
		t.Fatalf("stored document must leave the session store")
	}
}

func TestStoreRejectsMixedExportBatches(t *testing.T) {
	up := &fakeUploader{}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, up)
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	b, _ := orch.Intake(ctx, st, "b.jpg", []byte("b"))
	fpA, fpB := a.Document.Fingerprint, b.Document.Fingerprint
	for _, fp := range []string{fpA, fpB} {
		if _, err := orch.Confirm(ctx, st, fp); err != nil {
			t.Fatalf("Confirm(%s) error = %v", fp, err)
		}
	}
	// two separate exports produce two distinct artifacts
	if _, err := orch.Export(ctx, st, []string{fpA}); err != nil {
		t.Fatalf("Export(a) error = %v", err)
	}
	if _, err := orch.Export(ctx, st, []string{fpB}); err != nil {
		t.Fatalf("Export(b) error = %v", err)
	}

	_, err := orch.Store(ctx, st, []string{fpA, fpB})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if up.calls != 0 {
		t.Fatalf("uploader called %d times on a rejected store, want 0", up.calls)
	}
	// nothing was dropped: both documents remain Exported with artifacts
	for _, fp := range []string{fpA, fpB} {
		doc, ok := st.Get(fp)
		if !ok {
			t.Fatalf("document %s removed by rejected store", fp)
		}
		if doc.State != constants.StateExported || len(doc.Artifact) == 0 {
			t.Fatalf("document %s: state %s, artifact %d bytes", fp, doc.State, len(doc.Artifact))
		}
	}

	// each batch stores on its own
	if _, err := orch.Store(ctx, st, []string{fpA}); err != nil {
		t.Fatalf("Store(a) error = %v", err)
	}
	if _, err := orch.Store(ctx, st, []string{fpB}); err != nil {
		t.Fatalf("Store(b) error = %v", err)
	}
	if up.calls != 2 {
		t.Fatalf("uploader called %d times, want one Put per batch", up.calls)
	}
}

func TestStoreAcceptsWholeExportBatch(t *testing.T) {
	up := &fakeUploader{}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, up)
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	b, _ := orch.Intake(ctx, st, "b.jpg", []byte("b"))
	fps := []string{a.Document.Fingerprint, b.Document.Fingerprint}
	for _, fp := range fps {
		if _, err := orch.Confirm(ctx, st, fp); err != nil {
			t.Fatalf("Confirm(%s) error = %v", fp, err)
		}
	}
	if _, err := orch.Export(ctx, st, fps); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	if _, err := orch.Store(ctx, st, fps); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if up.calls != 1 {
		t.Fatalf("uploader called %d times for one batch, want 1", up.calls)
	}
	if st.Len() != 0 {
		t.Fatalf("stored batch must leave the session store")
	}
}

func TestStoreNamesObjectFromLeadingRecord(t *testing.T) {
	up := &fakeUploader{}
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, up)
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	fp := a.Document.Fingerprint
	orch.Confirm(ctx, st, fp)
	if _, err := orch.Edit(ctx, st, fp, review.FieldEdits{}); !errors.Is(err, common.ErrBadState) {
		t.Fatalf("edit after confirm: error = %v, want ErrBadState", err)
	}
	if _, err := orch.Export(ctx, st, []string{fp}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if _, err := orch.Store(ctx, st, []string{fp}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if len(up.objects) != 1 {
		t.Fatalf("uploader stored %d objects, want 1", len(up.objects))
	}
	name := up.objects[0]
	if want := "张三-BX-2024-001-"; len(name) < len(want) || name[:len(want)] != want {
		t.Fatalf("object name = %q, want prefix %q", name, want)
	}
}

func TestClearAllDiscardsEveryState(t *testing.T) {
	orch := newTestOrchestrator(&fakeRecognizer{rec: sampleRecord()}, &fakeRenderer{}, &fakeUploader{})
	st := store.NewRecordStore()
	ctx := context.Background()

	a, _ := orch.Intake(ctx, st, "a.jpg", []byte("a"))
	orch.Intake(ctx, st, "b.jpg", []byte("b"))
	orch.Confirm(ctx, st, a.Document.Fingerprint)

	if n := orch.ClearAll(ctx, st); n != 2 {
		t.Fatalf("ClearAll() = %d, want 2", n)
	}
	if st.Len() != 0 {
		t.Fatalf("store not empty after ClearAll")
	}
}
