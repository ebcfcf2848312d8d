// Package server exposes the intake pipeline over HTTP. Every document
// route runs inside an authenticated session; the session identity picks
// the record store the pipeline works against.
package server

import (
	"log/slog"
	"net/http"

	"github.com/yuehanbi/receipt2excel/internal/auth"
	"github.com/yuehanbi/receipt2excel/internal/observability/metrics"
	"github.com/yuehanbi/receipt2excel/internal/pipeline"
	"github.com/yuehanbi/receipt2excel/internal/store"
)

type Server struct {
	orch    *pipeline.Orchestrator
	stores  *store.Manager
	auth    *auth.Service
	metrics *metrics.PipelineMetrics
	logger  *slog.Logger
}

func New(
	orch *pipeline.Orchestrator,
	stores *store.Manager,
	authSvc *auth.Service,
	pm *metrics.PipelineMetrics,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{orch: orch, stores: stores, auth: authSvc, metrics: pm, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("POST /v1/auth/register", s.register)
	mux.HandleFunc("POST /v1/auth/login", s.login)

	mux.Handle("POST /v1/documents", s.requireSession(s.uploadDocument))
	mux.Handle("GET /v1/documents", s.requireSession(s.listDocuments))
	mux.Handle("DELETE /v1/documents", s.requireSession(s.clearDocuments))
	mux.Handle("GET /v1/documents/{fingerprint}", s.requireSession(s.getDocument))
	mux.Handle("PUT /v1/documents/{fingerprint}/edits", s.requireSession(s.editDocument))
	mux.Handle("POST /v1/documents/{fingerprint}/confirm", s.requireSession(s.confirmDocument))

	mux.Handle("POST /v1/exports", s.requireSession(s.exportDocuments))
	mux.Handle("POST /v1/uploads", s.requireSession(s.storeArtifacts))

	return s.requestIDMiddleware(s.accessLogMiddleware(mux))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
