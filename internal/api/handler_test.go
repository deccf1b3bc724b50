//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deskloop/deskloop/internal/config"
	"github.com/deskloop/deskloop/internal/domain"
	"github.com/deskloop/deskloop/internal/session"
)

type fakeRepo struct {
	pingErr error
}

func (f *fakeRepo) GetUserID(_ context.Context, _ string) (string, error)      { return "", nil }
func (f *fakeRepo) GetUser(_ context.Context, _ string) (*domain.User, error)  { return nil, nil }
func (f *fakeRepo) GetCredits(_ context.Context, _ string) (float64, error)    { return 0, nil }
func (f *fakeRepo) DecrementCredits(_ context.Context, _ string) error         { return nil }
func (f *fakeRepo) Ping(_ context.Context) error                               { return f.pingErr }
func (f *fakeRepo) Close() error                                               { return nil }

type fakeLister struct {
	active []session.Info
}

func (f *fakeLister) Active() []session.Info { return f.active }
func (f *fakeLister) Count() int             { return len(f.active) }

func testConfig() *config.Config {
	return &config.Config{
		Inference: config.InferenceConfig{DefaultModel: "claude-3-5-sonnet-20241022"},
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusConflict, "busy")

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "busy" {
		t.Errorf("Expected error=busy, got %v", got["error"])
	}
}

func TestModels(t *testing.T) {
	h := NewSessionHandler(NewHandler(&fakeRepo{}, &fakeLister{}, testConfig()))
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Models       []string `json:"models"`
		DefaultModel string   `json:"default_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.DefaultModel != "claude-3-5-sonnet-20241022" {
		t.Errorf("Expected default model, got %q", got.DefaultModel)
	}
	if len(got.Models) == 0 {
		t.Error("Expected a non-empty model list")
	}
	found := false
	for _, m := range got.Models {
		if m == got.DefaultModel {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected default model in allowlist %v", got.Models)
	}
}

func TestSessions(t *testing.T) {
	lister := &fakeLister{active: []session.Info{
		{SessionID: "session-1", UserID: "user-1", Model: "claude-3-5-sonnet-20241022", StartedAt: time.Now()},
		{SessionID: "session-2", UserID: "user-2", Model: "claude-3-5-sonnet-20241022", StartedAt: time.Now()},
	}}
	h := NewSessionHandler(NewHandler(&fakeRepo{}, lister, testConfig()))
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Count    int            `json:"count"`
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.Count != 2 {
		t.Errorf("Expected count 2, got %d", got.Count)
	}
	if len(got.Sessions) != 2 || got.Sessions[0].SessionID != "session-1" {
		t.Errorf("Expected both sessions, got %+v", got.Sessions)
	}
}

func TestHealthOK(t *testing.T) {
	h := NewHealthHandler(&fakeRepo{})
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
}

func TestHealthDegradedWhenStoreUnreachable(t *testing.T) {
	h := NewHealthHandler(&fakeRepo{pingErr: errors.New("database is locked")})
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", w.Code)
	}

	var got map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["status"] != "degraded" {
		t.Errorf("Expected degraded status, got %v", got["status"])
	}
}
