package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/pulsegate/internal/domain"
)

// tokenClaims is the claim shape the verifier expects. An absent active
// claim means active; deactivated accounts carry an explicit false.
type tokenClaims struct {
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Active      *bool    `json:"active,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens issued by the identity
// authority that shares the configured secret.
type JWTVerifier struct {
	secret []byte
	clock  clockwork.Clock
}

// NewJWTVerifier creates a verifier for the shared secret.
func NewJWTVerifier(secret string, clock clockwork.Clock) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), clock: clock}
}

// Verify parses and validates the token. All parse and validation
// failures map to domain.ErrInvalidToken; the caller decides what an
// inactive account means.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.VerifiedIdentity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("parse token: %w", domain.ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", domain.ErrInvalidToken)
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleAdmin {
		role = domain.RoleMember
	}

	return &domain.VerifiedIdentity{
		Identity:    domain.Identity(claims.Subject),
		Role:        role,
		Permissions: claims.Permissions,
		Active:      claims.Active == nil || *claims.Active,
	}, nil
}
