// Package api exposes the HTTP interface for the orchestrator service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvalko/scrape-orchestrator/internal/metrics"
	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Orchestrator is the surface the API needs from the assembled app.
type Orchestrator interface {
	RunBatch(ctx context.Context, targets []string, maxConcurrency int) (orchestrator.BatchReport, error)
}

// BudgetView exposes the ledger state for the budget endpoint.
type BudgetView interface {
	Spent() float64
	Count() int64
	PeriodStart() time.Time
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router  chi.Router
	orch    Orchestrator
	budget  BudgetView
	logger  *zap.Logger
	timeout time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(orch Orchestrator, budget BudgetView, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:    orch,
		budget:  budget,
		logger:  logger,
		timeout: 10 * time.Minute,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", s.runBatch)
		r.Get("/budget", s.getBudget)
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

type batchRequest struct {
	Targets        []string `json:"targets"`
	MaxConcurrency int      `json:"max_concurrency"`
}

// runBatch executes the batch synchronously and returns the report. Batches
// are bounded by the server-side timeout so a stuck collaborator cannot pin
// the handler forever.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Targets) == 0 {
		s.writeError(w, http.StatusBadRequest, "targets are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	report, err := s.orch.RunBatch(ctx, req.Targets, req.MaxConcurrency)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrNoBackends) || errors.Is(err, orchestrator.ErrUnknownBackend) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) getBudget(w http.ResponseWriter, _ *http.Request) {
	if s.budget == nil {
		s.writeError(w, http.StatusNotFound, "budget ledger not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"spent":        s.budget.Spent(),
		"count":        s.budget.Count(),
		"period_start": s.budget.PeriodStart(),
	})
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
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
