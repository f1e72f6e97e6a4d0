package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/pulsegate/internal/domain"
	"github.com/pscheid92/pulsegate/internal/metrics"
)

// SessionStore implements domain.SessionStore on Redis. The key's TTL is
// the session expiry: every successful Get rewrites the record with a
// fresh TTL, which gives the sliding-expiry behavior.
type SessionStore struct {
	rdb   *goredis.Client
	clock clockwork.Clock
	ttl   time.Duration
}

// NewSessionStore creates a store with the given sliding TTL.
func NewSessionStore(rdb *goredis.Client, ttl time.Duration, clock clockwork.Clock) *SessionStore {
	return &SessionStore{rdb: rdb, clock: clock, ttl: ttl}
}

// Create mints a new session for the identity.
func (s *SessionStore) Create(ctx context.Context, identity domain.Identity, role domain.Role, permissions []string) (*domain.Session, error) {
	sess := &domain.Session{
		ID:          uuid.NewString(),
		Identity:    identity,
		Role:        role,
		Permissions: permissions,
		ExpiresAt:   s.clock.Now().Add(s.ttl),
	}

	if err := s.write(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	return sess, nil
}

// Get returns the session and pushes its expiry out by the TTL. Unknown
// and lapsed keys both report ErrSessionNotFound; Redis itself collects
// lapsed keys, so no janitor is needed here.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	sess.ExpiresAt = s.clock.Now().Add(s.ttl)
	if err := s.write(ctx, &sess); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session. Unknown IDs are a no-op.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

func (s *SessionStore) write(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err()
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
