// Package web serves the read-only status endpoints: liveness, Prometheus
// metrics and recent run history.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metawebart/formwatch/internal/history"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// RunStore is the subset of the history store the server reads.
type RunStore interface {
	RecentRuns(ctx context.Context, limit int) ([]history.Run, error)
	FormResults(ctx context.Context, runID string) ([]history.FormResult, error)
}

type Server struct {
	addr       string
	store      RunStore
	started    time.Time
	httpServer *http.Server
}

// runView is the JSON shape of one run in /api/runs.
type runView struct {
	history.Run
	Forms []history.FormResult `json:"forms"`
}

// NewServer creates a status server. store may be nil, in which case
// /api/runs answers 503.
func NewServer(addr string, store RunStore) *Server {
	return &Server{addr: addr, store: store, started: time.Now()}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("status server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.handleAPIRuns)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history not available"})
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to load runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load runs"})
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		forms, err := s.store.FormResults(r.Context(), run.RunID)
		if err != nil {
			slog.Error("failed to load form results", "run_id", run.RunID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load runs"})
			return
		}
		if forms == nil {
			forms = []history.FormResult{}
		}
		views = append(views, runView{Run: run, Forms: forms})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": views})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
