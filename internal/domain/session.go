package domain

import (
	"context"
	"time"
)

// Session is a server-side authentication record. Its lifetime is
// independent of any connection: clients present the session ID on
// reconnect to skip credential verification.
type Session struct {
	ID          string    `json:"id"`
	Identity    Identity  `json:"identity"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SessionStore persists sessions with a sliding TTL.
type SessionStore interface {
	// Create mints a new session for the identity. The store owns ID
	// generation and expiry stamping.
	Create(ctx context.Context, identity Identity, role Role, permissions []string) (*Session, error)

	// Get returns the session and refreshes its expiry (sliding TTL).
	// Returns ErrSessionNotFound for unknown or expired IDs.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// Delete removes the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error
}
