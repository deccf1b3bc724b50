package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deskloop/deskloop/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	decrementMaxAttempts = 3
	decrementRetryDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		agent_credits REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS keys (
		api_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_keys_user ON keys(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUserID resolves an API key to its user ID.
func (s *SQLiteStore) GetUserID(ctx context.Context, apiKey string) (string, error) {
	query := `SELECT user_id FROM keys WHERE api_key = ?`

	var userID string
	err := s.db.QueryRowContext(ctx, query, apiKey).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("scan key row: %w", err)
	}

	return userID, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, agent_credits, created_at, updated_at FROM users WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var createdAt, updatedAt int64

	err := row.Scan(&user.ID, &user.AgentCredits, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// GetCredits returns the user's current agent credit balance.
func (s *SQLiteStore) GetCredits(ctx context.Context, userID string) (float64, error) {
	query := `SELECT agent_credits FROM users WHERE id = ?`

	var credits float64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("scan credits: %w", err)
	}

	return credits, nil
}

// DecrementCredits atomically spends one credit. The conditional update
// keeps the balance from ever going negative under concurrent sessions of
// the same user.
func (s *SQLiteStore) DecrementCredits(ctx context.Context, userID string) error {
	// MAX keeps a fractional remainder from dipping below zero.
	query := `
		UPDATE users
		SET agent_credits = MAX(agent_credits - 1, 0), updated_at = ?
		WHERE id = ? AND agent_credits > 0`

	var lastErr error
	for attempt := 1; attempt <= decrementMaxAttempts; attempt++ {
		result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), userID)
		if err != nil {
			if isBusyError(err) && attempt < decrementMaxAttempts {
				lastErr = err
				time.Sleep(decrementRetryDelay * time.Duration(attempt))
				continue
			}
			return fmt.Errorf("decrement credits: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("decrement credits for user %s: %w", userID, ErrInsufficientCredits)
		}
		return nil
	}

	return fmt.Errorf("decrement credits: %w", lastErr)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// isBusyError reports whether err is a SQLite concurrency error
// (SQLITE_BUSY or "database is locked") that warrants a retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
