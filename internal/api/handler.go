// Package api provides HTTP handlers for the agent demo.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agentdemo/internal/config"
	"github.com/ashureev/agentdemo/internal/flow"
	"github.com/ashureev/agentdemo/internal/identity"
	"github.com/ashureev/agentdemo/internal/progress"
	"github.com/ashureev/agentdemo/internal/session"
	"github.com/ashureev/agentdemo/internal/store"
)

// Handler serves the capability endpoints.
type Handler struct {
	cfg      *config.Config
	sessions *session.Manager
	runner   *flow.Runner
	hub      *progress.Hub
	repo     store.Repository
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(cfg *config.Config, sessions *session.Manager, runner *flow.Runner, hub *progress.Hub, repo store.Repository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		hub:      hub,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Get("/image", h.GetImage)
		r.Get("/history", h.GetHistory)

		r.Post("/code-interpreter", h.CodeInterpreter)
		r.Post("/rag", h.RAG)
		r.Post("/rag/clear", h.ClearRAG)
		r.Post("/combined", h.Combined)
		r.Post("/clear", h.ClearOutputs)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sessionID returns the caller's session or writes a 401.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.SessionIDFromContext(r.Context())
	if id == "" {
		Error(w, http.StatusUnauthorized, "missing session")
		return "", false
	}
	return id, true
}

// acquireError maps a session.Manager refusal to an HTTP status.
func acquireError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		Error(w, http.StatusConflict, "flow_in_progress")
	case errors.Is(err, session.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		Error(w, http.StatusTooManyRequests, "rate_limited")
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
