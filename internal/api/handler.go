// Package api provides the operational HTTP surface next to the
// WebSocket session endpoint.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/deskloop/deskloop/internal/config"
	"github.com/deskloop/deskloop/internal/session"
	"github.com/deskloop/deskloop/internal/store"
)

// SessionLister is the view of the session registry the ops surface
// needs.
type SessionLister interface {
	Active() []session.Info
	Count() int
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions SessionLister
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions SessionLister, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		sessions: sessions,
		cfg:      cfg,
	}
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
