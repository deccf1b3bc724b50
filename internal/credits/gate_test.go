package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/deskloop/deskloop/internal/domain"
	"github.com/deskloop/deskloop/internal/store"
)

type fakeRepo struct {
	mu             sync.Mutex
	credits        map[string]float64
	decrementCalls int
	getErr         error
	decErr         error
}

func newFakeRepo(credits map[string]float64) *fakeRepo {
	return &fakeRepo{credits: credits}
}

func (f *fakeRepo) GetUserID(ctx context.Context, apiKey string) (string, error) {
	return "", nil
}

func (f *fakeRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return nil, nil
}

func (f *fakeRepo) GetCredits(ctx context.Context, userID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.credits[userID], nil
}

func (f *fakeRepo) DecrementCredits(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrementCalls++
	if f.decErr != nil {
		return f.decErr
	}
	if f.credits[userID] <= 0 {
		return fmt.Errorf("decrement credits for user %s: %w", userID, store.ErrInsufficientCredits)
	}
	f.credits[userID]--
	return nil
}

func (f *fakeRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeRepo) Close() error                   { return nil }

func (f *fakeRepo) decrements() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decrementCalls
}

func TestCheckAndConsumeSpendsExactlyOneCredit(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 2})
	gate := NewGate(repo, "user-1", nil)

	allowed, err := gate.CheckAndConsume(context.Background())
	if err != nil {
		t.Fatalf("CheckAndConsume failed: %v", err)
	}
	if !allowed {
		t.Fatal("expected turn to be allowed")
	}
	if got := repo.decrements(); got != 1 {
		t.Errorf("expected 1 decrement, got %d", got)
	}
	if repo.credits["user-1"] != 1 {
		t.Errorf("expected balance 1, got %v", repo.credits["user-1"])
	}
}

func TestCheckAndConsumeBlocksAtZeroWithoutMutation(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 0})
	gate := NewGate(repo, "user-1", nil)

	allowed, err := gate.CheckAndConsume(context.Background())
	if err != nil {
		t.Fatalf("CheckAndConsume failed: %v", err)
	}
	if allowed {
		t.Fatal("expected turn to be blocked at zero balance")
	}
	if got := repo.decrements(); got != 0 {
		t.Errorf("expected no decrement on blocked turn, got %d", got)
	}
}

func TestCheckAndConsumePropagatesStoreFailure(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 5})
	repo.getErr = errors.New("store unreachable")
	gate := NewGate(repo, "user-1", nil)

	allowed, err := gate.CheckAndConsume(context.Background())
	if err == nil {
		t.Fatal("expected store failure to propagate")
	}
	if allowed {
		t.Error("store failure must never be treated as allowed")
	}
	if got := repo.decrements(); got != 0 {
		t.Errorf("expected no decrement after read failure, got %d", got)
	}
}

func TestCheckAndConsumeLosingSpendRaceBlocks(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 1})
	gate := NewGate(repo, "user-1", nil)

	// Another session drains the balance between our read and spend.
	repo.decErr = fmt.Errorf("decrement credits for user user-1: %w", store.ErrInsufficientCredits)

	allowed, err := gate.CheckAndConsume(context.Background())
	if err != nil {
		t.Fatalf("losing the spend race must block, not fail: %v", err)
	}
	if allowed {
		t.Error("expected turn to be blocked after losing the spend race")
	}
}

func TestCheckAndConsumeDecrementFailure(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 5})
	repo.decErr = errors.New("write failed")
	gate := NewGate(repo, "user-1", nil)

	allowed, err := gate.CheckAndConsume(context.Background())
	if err == nil {
		t.Fatal("expected decrement failure to propagate")
	}
	if allowed {
		t.Error("decrement failure must never be treated as allowed")
	}
}

func TestCheckReadsWithoutSpending(t *testing.T) {
	repo := newFakeRepo(map[string]float64{"user-1": 1})
	gate := NewGate(repo, "user-1", nil)

	allowed, err := gate.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !allowed {
		t.Error("expected positive balance to allow")
	}
	if got := repo.decrements(); got != 0 {
		t.Errorf("Check must not spend, got %d decrements", got)
	}

	repo.credits["user-1"] = 0
	allowed, err = gate.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if allowed {
		t.Error("expected zero balance to block")
	}
}
