package token

import (
	"time"

	"searchsync/internal/domain"
)

// State is the outcome of a token check.
type State string

const (
	// StateSatisfied: every required entity is indexed at or past its
	// required version; search reads reflect the client's writes.
	StateSatisfied State = "satisfied"
	// StatePending: at least one required entity has not caught up yet.
	StatePending State = "pending"
	// StateExpired: the token aged out before the caller confirmed it.
	StateExpired State = "expired"
	// StateUnknown: no such token.
	StateUnknown State = "unknown"
)

// Token is a caller-held proof of pending writes: opaque ID plus the minimum
// versions that must be indexed before the caller may trust search results.
// Read-only after issuance; reclaimed after ExpiresAt.
type Token struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Tenant    string         `json:"tenant"`
	Required  []domain.Write `json:"required"`
	IssuedAt  time.Time      `json:"issued_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Expired reports whether the token is past its horizon at now.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
