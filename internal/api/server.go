// Package api provides the HTTP inspection and control surface of a running
// dataflow graph.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tutu-network/dataflow/internal/app/graph"
	"github.com/tutu-network/dataflow/internal/domain"
	"github.com/tutu-network/dataflow/internal/health"
	"github.com/tutu-network/dataflow/internal/infra/sqlite"
	"github.com/tutu-network/dataflow/internal/infra/telemetry"
)

// Server is the dataflow HTTP API server.
type Server struct {
	graph          *graph.Graph
	version        string
	metricsEnabled bool
	recorder       *telemetry.Recorder // nil disables /api/events
	db             *sqlite.DB          // nil disables /api/runs
	checker        *health.Checker     // nil reports ok
}

// NewServer creates a server over g.
func NewServer(g *graph.Graph, version string) *Server {
	return &Server{graph: g, version: version}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRecorder sets the in-memory event ring served at /api/events.
func (s *Server) SetRecorder(r *telemetry.Recorder) { s.recorder = r }

// SetJournal sets the run journal served at /api/runs.
func (s *Server) SetJournal(db *sqlite.DB) { s.db = db }

// SetChecker sets the health checker reported at /health.
func (s *Server) SetChecker(c *health.Checker) { s.checker = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
		})
		r.Get("/status", s.handleStatus)
		r.Get("/graph", s.handleGraph)
		r.Get("/graph.dot", s.handleGraphDOT)
		r.Get("/tasks", s.handleTasks)
		r.Get("/tasks/{slot}", s.handleTask)
		r.Post("/tasks/{slot}/trigger", s.handleTrigger)

		if s.recorder != nil {
			r.Get("/events", s.handleEvents)
		}
		if s.db != nil {
			r.Get("/runs", s.handleRuns)
			r.Get("/runs/{id}", s.handleRun)
			r.Get("/runs/{id}/events", s.handleRunEvents)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNonExistent), errors.Is(err, domain.ErrNotStored):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStopping), errors.Is(err, domain.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}
