package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/pulsegate/internal/domain"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims tokenClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)

	token := signToken(t, tokenClaims{
		Role:        "admin",
		Permissions: []string{"moderate"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}, testSecret)

	verified, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), verified.Identity)
	assert.Equal(t, domain.RoleAdmin, verified.Role)
	assert.Equal(t, []string{"moderate"}, verified.Permissions)
	assert.True(t, verified.Active)
}

func TestJWTVerifier_UnknownRoleDowngradesToMember(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)

	token := signToken(t, tokenClaims{
		Role:             "superuser",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"},
	}, testSecret)

	verified, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, verified.Role)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewJWTVerifier(testSecret, clock)

	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	}, testSecret)

	clock.Advance(2 * time.Hour)

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := NewJWTVerifier(testSecret, clockwork.NewFakeClock())

	token := signToken(t, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}, "other-secret")

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestJWTVerifier_RejectsNonHS256(t *testing.T) {
	v := NewJWTVerifier(testSecret, clockwork.NewFakeClock())

	// alg=none is the classic downgrade attempt.
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, verr := v.Verify(context.Background(), token)
	assert.ErrorIs(t, verr, domain.ErrInvalidToken)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	v := NewJWTVerifier(testSecret, clockwork.NewFakeClock())

	token := signToken(t, tokenClaims{Role: "admin"}, testSecret)

	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestJWTVerifier_ExplicitInactive(t *testing.T) {
	v := NewJWTVerifier(testSecret, clockwork.NewFakeClock())

	inactive := false
	token := signToken(t, tokenClaims{
		Active:           &inactive,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}, testSecret)

	verified, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, verified.Active)
}

func TestBreakerVerifier_PassesThrough(t *testing.T) {
	inner := &stubVerifier{identity: &domain.VerifiedIdentity{Identity: "alice", Active: true}}
	b := NewBreakerVerifier(inner)

	verified, err := b.Verify(context.Background(), "jwt")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("alice"), verified.Identity)
}

func TestBreakerVerifier_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &stubVerifier{err: errors.New("authority unreachable")}
	b := NewBreakerVerifier(inner)

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := b.Verify(context.Background(), "jwt")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrAuthFailed)
	}

	// Breaker is open now: fail fast without touching the verifier.
	calls := inner.calls
	_, err := b.Verify(context.Background(), "jwt")
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
	assert.Equal(t, calls, inner.calls)
}

func TestBreakerVerifier_ClientFaultsDoNotTrip(t *testing.T) {
	inner := &stubVerifier{err: domain.ErrInvalidToken}
	b := NewBreakerVerifier(inner)

	for i := 0; i < breakerFailureThreshold*2; i++ {
		_, err := b.Verify(context.Background(), "jwt")
		assert.ErrorIs(t, err, domain.ErrInvalidToken)
	}
	assert.Equal(t, breakerFailureThreshold*2, inner.calls)
}
