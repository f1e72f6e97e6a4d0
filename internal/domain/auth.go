package domain

import "context"

// Credentials is the authenticate payload. The resolver tries the fields in
// a fixed order: session ID first, then API key, then bearer token.
type Credentials struct {
	SessionID string `json:"session_id,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`
	Token     string `json:"token,omitempty"`
}

// AuthMethod records which credential form succeeded.
type AuthMethod string

const (
	AuthMethodSession AuthMethod = "session"
	AuthMethodAPIKey  AuthMethod = "api_key"
	AuthMethodToken   AuthMethod = "token"
)

// AuthResult is the outcome of a successful authentication.
type AuthResult struct {
	Session *Session
	Method  AuthMethod
}

// Authenticator resolves credentials into a session. Failures map onto the
// sentinel errors ErrInvalidToken, ErrAuthFailed and ErrAccountDeactivated.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials) (*AuthResult, error)
}

// VerifiedIdentity is what a credential verifier extracts from a valid token.
type VerifiedIdentity struct {
	Identity    Identity
	Role        Role
	Permissions []string
	Active      bool
}

// CredentialVerifier checks a bearer token with an external authority.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*VerifiedIdentity, error)
}
