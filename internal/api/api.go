// Package api is the REST surface of the analysis engine: session lifecycle,
// final-score computation and retrieval, health and metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkessel/candor/internal/health"
	"github.com/mkessel/candor/internal/observe"
	"github.com/mkessel/candor/internal/session"
	"github.com/mkessel/candor/pkg/analysis"
)

// Server holds the handler dependencies.
type Server struct {
	manager *session.Manager
	agg     *session.Aggregator
	store   analysis.Store
	metrics *observe.Metrics
	socket  http.Handler
	health  *health.Handler
	log     *slog.Logger
}

// NewServer constructs the REST server. socket may be nil when the event
// socket is disabled (some tests); hc may be nil for a checker-less probe.
func NewServer(manager *session.Manager, agg *session.Aggregator, store analysis.Store, metrics *observe.Metrics, socket http.Handler, hc *health.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if hc == nil {
		hc = health.New()
	}
	return &Server{
		manager: manager,
		agg:     agg,
		store:   store,
		metrics: metrics,
		socket:  socket,
		health:  hc,
		log:     log,
	}
}

// Routes returns the full handler tree wrapped in the observability
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session/{id}/start", s.handleStart)
	mux.HandleFunc("POST /session/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /session/{id}/calculate-final-scores", s.handleCalculate)
	mux.HandleFunc("GET /session/{id}/final-scores", s.handleFinalScores)
	mux.HandleFunc("GET /session/{id}", s.handleLookup)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.socket != nil {
		mux.Handle("GET /ws", s.socket)
	}

	return observe.Middleware(s.metrics)(mux)
}

// startRequest optionally names the candidate and role at session start.
type startRequest struct {
	UserID    string `json:"user_id"`
	JobRoleID string `json:"job_role_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
			return
		}
	}

	id := session.Identity{SessionID: sessionID, UserID: req.UserID, JobRoleID: req.JobRoleID}
	err := s.manager.Start(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "session already running")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "started", "session_id": sessionID})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	err := s.manager.Stop(sessionID)
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "session_id": sessionID})
	}
}

// calculateRequest carries the identity fallbacks for recomputation, for
// sessions whose samples predate the caller's records.
type calculateRequest struct {
	UserID    string `json:"user_id"`
	JobRoleID string `json:"job_role_id"`
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req calculateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
			return
		}
	}

	id := session.Identity{SessionID: sessionID, UserID: req.UserID, JobRoleID: req.JobRoleID}
	score, err := s.agg.Finalize(r.Context(), id)
	if err != nil {
		s.log.Error("finalize failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "finalize failed")
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleFinalScores(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	score, err := s.store.GetFinalScore(r.Context(), sessionID)
	switch {
	case errors.Is(err, analysis.ErrFinalScoreNotFound):
		writeError(w, http.StatusNotFound, "no final score for session")
	case err != nil:
		s.log.Error("final score lookup failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "lookup failed")
	default:
		writeJSON(w, http.StatusOK, score)
	}
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	view, ok := s.manager.Lookup(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
