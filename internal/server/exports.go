package server

import (
	"encoding/json"
	"net/http"

	"github.com/yuehanbi/receipt2excel/internal/common"
)

type exportRequest struct {
	Fingerprints []string `json:"fingerprints"`
}

// exportDocuments renders a batch of confirmed documents into one workbook
// (Confirmed → Exported). All-or-nothing: a failure leaves every member in
// Confirmed, eligible for retry after correction.
func (s *Server) exportDocuments(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	docs, err := s.orch.Export(r.Context(), st, req.Fingerprints)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

// storeArtifacts uploads a previously exported batch (Exported → Stored).
// Upload failures leave the documents in Exported with the artifact
// retained, so this endpoint can be retried without re-exporting.
func (s *Server) storeArtifacts(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	st := s.stores.ForSession(common.SessionIDFromContext(r.Context()))
	url, err := s.orch.Store(r.Context(), st, req.Fingerprints)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"artifact_url": url})
}
