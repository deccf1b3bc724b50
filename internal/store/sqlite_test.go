package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "credits.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo.(*SQLiteStore)
}

func seedUser(t *testing.T, s *SQLiteStore, userID, apiKey string, credits float64) {
	t.Helper()
	now := time.Now().Unix()
	if _, err := s.db.Exec(
		`INSERT INTO users (id, agent_credits, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, credits, now, now,
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO keys (api_key, user_id, created_at) VALUES (?, ?, ?)`,
		apiKey, userID, now,
	); err != nil {
		t.Fatalf("seed key: %v", err)
	}
}

func TestGetUserIDResolvesKey(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "user-1", "sk-alpha", 3)

	got, err := s.GetUserID(context.Background(), "sk-alpha")
	if err != nil {
		t.Fatalf("GetUserID failed: %v", err)
	}
	if got != "user-1" {
		t.Errorf("expected user-1, got %q", got)
	}

	got, err = s.GetUserID(context.Background(), "sk-unknown")
	if err != nil {
		t.Fatalf("GetUserID on unknown key failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty id for unknown key, got %q", got)
	}
}

func TestGetUser(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "user-2", "sk-beta", 1.5)

	user, err := s.GetUser(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user == nil {
		t.Fatal("expected user, got nil")
	}
	if user.AgentCredits != 1.5 {
		t.Errorf("expected 1.5 credits, got %v", user.AgentCredits)
	}

	missing, err := s.GetUser(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("GetUser on missing user failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing user, got %+v", missing)
	}
}

func TestDecrementCreditsStopsAtZero(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "user-3", "sk-gamma", 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.DecrementCredits(ctx, "user-3"); err != nil {
			t.Fatalf("decrement %d failed: %v", i+1, err)
		}
	}

	balance, err := s.GetCredits(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetCredits failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("expected balance 0, got %v", balance)
	}

	if err := s.DecrementCredits(ctx, "user-3"); !errors.Is(err, ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits at zero balance, got %v", err)
	}
}

func TestDecrementCreditsClampsFractionalBalance(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "user-4", "sk-delta", 0.5)
	ctx := context.Background()

	if err := s.DecrementCredits(ctx, "user-4"); err != nil {
		t.Fatalf("decrement failed: %v", err)
	}

	balance, err := s.GetCredits(ctx, "user-4")
	if err != nil {
		t.Fatalf("GetCredits failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("expected fractional balance to clamp at 0, got %v", balance)
	}
}

func TestGetCreditsUnknownUser(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetCredits(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown user")
	}
}
