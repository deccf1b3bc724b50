// Package domain contains core domain types for the deskloop application.
package domain

import (
	"time"
)

// User represents a credit account resolved from an API key. Rows are
// created and funded by the surrounding platform; this service only reads
// balances and spends them one credit at a time.
type User struct {
	ID           string    `json:"id"`
	AgentCredits float64   `json:"agent_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasCredits returns true if the user can fund at least one more turn.
func (u *User) HasCredits() bool {
	return u.AgentCredits > 0
}
