package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/yuehanbi/receipt2excel/constants"
	"github.com/yuehanbi/receipt2excel/internal/common"
	"github.com/yuehanbi/receipt2excel/internal/entity"
	"github.com/yuehanbi/receipt2excel/internal/review"
)

// documentView is the API projection of a pipeline document. Raw bytes and
// artifact bytes never leave the server.
type documentView struct {
	Fingerprint  string                `json:"fingerprint"`
	FileName     string                `json:"file_name"`
	State        constants.DocState    `json:"state"`
	RawRecord    *entity.ExpenseRecord `json:"raw_record,omitempty"`
	EditedRecord *entity.ExpenseRecord `json:"edited_record,omitempty"`
	ArtifactURL  string                `json:"artifact_url,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
}

func viewOf(doc *entity.Document) documentView {
	return documentView{
		Fingerprint:  doc.Fingerprint,
		FileName:     doc.FileName,
		State:        doc.State,
		RawRecord:    doc.RawRecord,
		EditedRecord: doc.EditedRecord,
		ArtifactURL:  doc.ArtifactURL,
		LastError:    doc.LastError,
	}
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	if !allowedUpload(fileHeader.Filename) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only jpg, jpeg and png uploads are accepted"})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	outcome, err := s.orch.Intake(r.Context(), st, fileHeader.Filename, raw)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	if outcome.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"state":    constants.StateDuplicateSkipped,
			"document": viewOf(outcome.Document),
		})
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(outcome.Document))
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	docs := st.List()
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	doc, ok := st.Get(r.PathValue("fingerprint"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(doc))
}

func (s *Server) editDocument(w http.ResponseWriter, r *http.Request) {
	var edits review.FieldEdits
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	doc, err := s.orch.Edit(r.Context(), st, r.PathValue("fingerprint"), edits)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(doc))
}

func (s *Server) confirmDocument(w http.ResponseWriter, r *http.Request) {
	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	doc, err := s.orch.Confirm(r.Context(), st, r.PathValue("fingerprint"))
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(doc))
}

func (s *Server) clearDocuments(w http.ResponseWriter, r *http.Request) {
	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	n := s.orch.ClearAll(r.Context(), st)
	writeJSON(w, http.StatusOK, map[string]int{"discarded": n})
}

func allowedUpload(fileName string) bool {
	ext := constants.NormalizeExt(filepath.Ext(fileName))
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// writePipelineError maps pipeline failures onto HTTP statuses, always
// surfacing the error kind and offending fingerprint when known.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var se *common.StageError
	if errors.As(err, &se) {
		status := http.StatusBadGateway
		switch se.Kind {
		case common.SchemaMismatch, common.ExportError:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{
			"error":       err.Error(),
			"kind":        string(se.Kind),
			"fingerprint": se.Fingerprint,
			"state":       string(se.State),
		})
		return
	}
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrBadState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, common.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
