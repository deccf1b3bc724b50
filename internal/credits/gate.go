// Package credits enforces the per-turn action quota.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deskloop/deskloop/internal/store"
)

// Gate answers "may this user take one more action-turn?" and commits the
// spend. One gate is bound to one session's resolved user. The store is
// the only synchronization: the gate reads, then spends through the
// store's conditional update, with no extra locking of its own.
type Gate struct {
	repo   store.Repository
	userID string
	logger *slog.Logger
}

// NewGate builds a gate for one user.
func NewGate(repo store.Repository, userID string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, userID: userID, logger: logger}
}

// UserID returns the user the gate is bound to.
func (g *Gate) UserID() string {
	return g.userID
}

// CheckAndConsume reads the balance and, when positive, spends exactly one
// credit. Called once at the start of every turn; a turn never spends
// more. Store failures propagate and are never treated as allowed.
func (g *Gate) CheckAndConsume(ctx context.Context) (bool, error) {
	balance, err := g.repo.GetCredits(ctx, g.userID)
	if err != nil {
		return false, fmt.Errorf("read credit balance: %w", err)
	}
	if balance <= 0 {
		return false, nil
	}

	if err := g.repo.DecrementCredits(ctx, g.userID); err != nil {
		// Another session of this user can spend the last credit
		// between our read and the update. That blocks the turn, it
		// doesn't fail it.
		if errors.Is(err, store.ErrInsufficientCredits) {
			g.logger.Info("credit spend lost race to zero", "user_id", g.userID)
			return false, nil
		}
		return false, fmt.Errorf("spend credit: %w", err)
	}

	g.logger.Debug("credit consumed", "user_id", g.userID, "balance_before", balance)
	return true, nil
}

// Check re-reads the balance without spending. The turn engine calls this
// before every inference iteration after the first, so a long multi-tool
// turn halts promptly once the balance reaches zero.
func (g *Gate) Check(ctx context.Context) (bool, error) {
	balance, err := g.repo.GetCredits(ctx, g.userID)
	if err != nil {
		return false, fmt.Errorf("read credit balance: %w", err)
	}
	return balance > 0, nil
}
