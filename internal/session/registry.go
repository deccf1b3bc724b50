// Package session owns one client connection's lifecycle: handshake,
// instance provisioning, command dispatch, event fan-out, teardown.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Info is a read-only snapshot of one live session.
type Info struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Model      string    `json:"model"`
	InstanceID string    `json:"instance_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// Registry tracks live session controllers. It also answers the
// reaper's liveness probes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Controller
	byUser   map[string]map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Controller),
		byUser:   make(map[string]map[string]*Controller),
	}
}

// Register adds a controller. A session ID collision closes the older
// controller; IDs are generated per connection so collisions should not
// occur in practice.
func (r *Registry) Register(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[c.sessionID]; ok && existing != c {
		existing.Shutdown("session replaced")
	}
	r.sessions[c.sessionID] = c

	if _, ok := r.byUser[c.userID]; !ok {
		r.byUser[c.userID] = make(map[string]*Controller)
	}
	r.byUser[c.userID][c.sessionID] = c

	slog.Info("Session registered", "session_id", c.sessionID, "user_id", c.userID)
}

// Unregister removes a controller if it is still the registered one.
func (r *Registry) Unregister(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[c.sessionID]; !ok || current != c {
		return
	}
	delete(r.sessions, c.sessionID)

	if sessions, ok := r.byUser[c.userID]; ok {
		delete(sessions, c.sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, c.userID)
		}
	}
	slog.Info("Session unregistered", "session_id", c.sessionID, "user_id", c.userID)
}

// IsLive reports whether a controller is attached to the session.
func (r *Registry) IsLive(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active returns snapshots of every live session.
func (r *Registry) Active() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, c := range r.sessions {
		infos = append(infos, c.info())
	}
	return infos
}

// CloseUser shuts down every session belonging to one user and
// reports how many it closed.
func (r *Registry) CloseUser(userID, reason string) int {
	r.mu.RLock()
	var targets []*Controller
	for _, c := range r.byUser[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Shutdown(reason)
	}
	return len(targets)
}

// CloseAll shuts down every live session, for server shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	targets := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Shutdown(reason)
	}
}
