// Package session provides the in-memory session store. Sessions carry the
// authenticated identity across reconnects and expire on a sliding TTL:
// every successful lookup pushes the expiry out again.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

// Store implements domain.SessionStore in process memory.
type Store struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	ttl      time.Duration
	sessions map[string]*domain.Session
}

// NewStore creates an empty store with the given sliding TTL.
func NewStore(ttl time.Duration, clock clockwork.Clock) *Store {
	return &Store{
		clock:    clock,
		ttl:      ttl,
		sessions: make(map[string]*domain.Session),
	}
}

// Create mints a new session for the identity.
func (s *Store) Create(_ context.Context, identity domain.Identity, role domain.Role, permissions []string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &domain.Session{
		ID:          uuid.NewString(),
		Identity:    identity,
		Role:        role,
		Permissions: append([]string(nil), permissions...),
		ExpiresAt:   s.clock.Now().Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	metrics.SessionsCreated.Inc()

	return copySession(sess), nil
}

// Get returns the session and pushes its expiry out by the TTL.
// Expired sessions are removed on sight.
func (s *Store) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	now := s.clock.Now()
	if !now.Before(sess.ExpiresAt) {
		delete(s.sessions, sessionID)
		metrics.SessionsExpired.Inc()
		return nil, domain.ErrSessionNotFound
	}

	sess.ExpiresAt = now.Add(s.ttl)
	return copySession(sess), nil
}

// Delete removes the session. Unknown IDs are a no-op.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the janitor or a lookup collects them.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartJanitor launches a background sweep that evicts expired sessions
// every interval. The returned function stops the sweep.
func (s *Store) StartJanitor(interval time.Duration) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.Chan():
				s.evictExpired()
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			metrics.SessionsExpired.Inc()
		}
	}
}

// copySession returns a copy so callers cannot mutate store state.
func copySession(sess *domain.Session) *domain.Session {
	out := *sess
	out.Permissions = append([]string(nil), sess.Permissions...)
	return &out
}
