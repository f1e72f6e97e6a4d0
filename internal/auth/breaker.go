package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pscheid92/pulsegate/internal/domain"
)

const (
	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// BreakerVerifier wraps a credential verifier in a circuit breaker.
// Rejected tokens are the client's fault and do not count as failures;
// only verifier errors trip the breaker. While open, verification fails
// fast with ErrAuthFailed so dispatch never hangs on a dead authority.
type BreakerVerifier struct {
	inner   domain.CredentialVerifier
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerVerifier wraps the verifier.
func NewBreakerVerifier(inner domain.CredentialVerifier) *BreakerVerifier {
	settings := gobreaker.Settings{
		Name:    "credential-verifier",
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrInvalidToken) ||
				errors.Is(err, domain.ErrAccountDeactivated)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Credential verifier breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerVerifier{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Verify runs the wrapped verifier through the breaker.
func (b *BreakerVerifier) Verify(ctx context.Context, token string) (*domain.VerifiedIdentity, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Verify(ctx, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("verifier unavailable: %w", domain.ErrAuthFailed)
		}
		return nil, err
	}
	return result.(*domain.VerifiedIdentity), nil
}
