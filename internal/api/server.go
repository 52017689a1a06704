// Package api exposes the HTTP interface for submitting audits and fetching
// published reports.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AuditRequest is the POST /v1/audits payload.
type AuditRequest struct {
	URL         string `json:"url"`
	MaxPages    int    `json:"max_pages,omitempty"`
	Scope       string `json:"scope,omitempty"`
	Screenshots bool   `json:"screenshots,omitempty"`
}

// Runner executes one audit and returns the published report directory. The
// server owns no crawl logic; it only schedules runs through this hook.
type Runner func(ctx context.Context, req AuditRequest) (string, error)

// Server wires HTTP handlers to the audit runner and the published reports
// on disk.
type Server struct {
	router     chi.Router
	runner     Runner
	store      *runStore
	reportsDir string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. registry may be
// nil when metrics exposure is not wanted.
func NewServer(runner Runner, reportsDir string, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:     runner,
		store:      newRunStore(),
		reportsDir: reportsDir,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/audits", s.submitAudit)
		r.Get("/audits", s.listAudits)
		r.Get("/audits/{run_id}", s.getAudit)
		r.Get("/reports", s.listReports)
		r.Handle("/reports/*", http.StripPrefix("/v1/reports/", s.reportFiles()))
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req AuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Scope != "" && req.Scope != "site" && req.Scope != "provided" {
		s.writeError(w, http.StatusBadRequest, "scope must be site or provided")
		return
	}

	run := Run{
		ID:        uuid.New(),
		URL:       req.URL,
		State:     RunStateRunning,
		StartedAt: time.Now().UTC(),
	}
	s.store.put(run)

	// The audit outlives the request; its lifetime is bound to the server,
	// not the submitting connection.
	go func() {
		dir, err := s.runner(context.Background(), req)
		if err != nil {
			s.logger.Warn("audit run failed", zap.String("url", req.URL), zap.Error(err))
		}
		s.store.finish(run.ID, dir, err)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID.String()})
}

func (s *Server) listAudits(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": s.store.list()})
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, ok := s.store.get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// listReports enumerates published run directories under the reports root.
func (s *Server) listReports(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.reportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeJSON(w, http.StatusOK, map[string]any{"reports": []string{}})
			return
		}
		s.writeError(w, http.StatusInternalServerError, "cannot list reports")
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reports": names})
}

func (s *Server) reportFiles() http.Handler {
	return http.FileServer(http.Dir(s.reportsDir))
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
