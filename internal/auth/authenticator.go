package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/pscheid92/pulsegate/internal/config"
	"github.com/pscheid92/pulsegate/internal/domain"
)

// dummyHash is compared against when the key ID is unknown, so the
// response time does not reveal which key IDs exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Authenticator implements domain.Authenticator over a session store, a
// configured API key table, and an external token verifier.
type Authenticator struct {
	sessions domain.SessionStore
	verifier domain.CredentialVerifier
	apiKeys  map[string]config.APIKeyEntry
}

// New creates an authenticator. verifier may be nil when bearer tokens
// are not configured.
func New(sessions domain.SessionStore, verifier domain.CredentialVerifier, apiKeys map[string]config.APIKeyEntry) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		verifier: verifier,
		apiKeys:  apiKeys,
	}
}

// Authenticate tries the supplied credential forms in order. A session ID
// that turns out unknown or expired falls through to the other supplied
// forms; when it was the only credential the client gets ErrInvalidToken
// and can retry with a full credential.
func (a *Authenticator) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.AuthResult, error) {
	if creds.SessionID != "" {
		sess, err := a.sessions.Get(ctx, creds.SessionID)
		if err == nil {
			return &domain.AuthResult{Session: sess, Method: domain.AuthMethodSession}, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("session lookup: %w", err)
		}
		if creds.APIKey == "" && creds.Token == "" {
			return nil, fmt.Errorf("session %q: %w", creds.SessionID, domain.ErrInvalidToken)
		}
	}

	if creds.APIKey != "" {
		return a.authenticateAPIKey(ctx, creds)
	}

	if creds.Token != "" {
		return a.authenticateToken(ctx, creds.Token)
	}

	return nil, fmt.Errorf("no credentials supplied: %w", domain.ErrAuthFailed)
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, creds domain.Credentials) (*domain.AuthResult, error) {
	entry, known := a.apiKeys[creds.APIKey]
	hash := entry.SecretHash
	if !known {
		hash = dummyHash
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.APISecret)); err != nil || !known {
		return nil, fmt.Errorf("api key rejected: %w", domain.ErrAuthFailed)
	}

	sess, err := a.sessions.Create(ctx, domain.Identity(entry.Identity), domain.Role(entry.Role), nil)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &domain.AuthResult{Session: sess, Method: domain.AuthMethodAPIKey}, nil
}

func (a *Authenticator) authenticateToken(ctx context.Context, token string) (*domain.AuthResult, error) {
	if a.verifier == nil {
		return nil, fmt.Errorf("bearer tokens not configured: %w", domain.ErrAuthFailed)
	}

	verified, err := a.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("verifier: %w", errors.Join(domain.ErrAuthFailed, err))
	}
	if !verified.Active {
		return nil, fmt.Errorf("identity %q: %w", verified.Identity, domain.ErrAccountDeactivated)
	}

	sess, err := a.sessions.Create(ctx, verified.Identity, verified.Role, verified.Permissions)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &domain.AuthResult{Session: sess, Method: domain.AuthMethodToken}, nil
}
