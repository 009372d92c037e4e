package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
)

// BreakerSettings tunes the circuit breaker around the provider.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Breaker guards a Gateway with a circuit breaker. Caller mistakes (bad
// assertions, unknown identities, duplicate emails) do not count as
// provider failures.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

var _ Gateway = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next Gateway, s BreakerSettings, log *zap.Logger) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "identity-provider",
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: isCallerError,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func isCallerError(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrInvalidAssertion) ||
		errors.Is(err, domain.ErrIdentityNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, context.Canceled)
}

func call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", domain.ErrUpstreamIdentity, err)
		}
		return zero, err
	}
	return out.(T), nil
}

func (b *Breaker) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	return call(b, func() (string, error) {
		return b.next.CreateIdentity(ctx, email, password, displayName)
	})
}

func (b *Breaker) GetIdentity(ctx context.Context, externalID string) (domain.ExternalProfile, error) {
	return call(b, func() (domain.ExternalProfile, error) {
		return b.next.GetIdentity(ctx, externalID)
	})
}

func (b *Breaker) VerifyAssertion(ctx context.Context, idToken string) (domain.ExternalProfile, error) {
	return call(b, func() (domain.ExternalProfile, error) {
		return b.next.VerifyAssertion(ctx, idToken)
	})
}

func (b *Breaker) VerificationLink(ctx context.Context, email string) (string, error) {
	return call(b, func() (string, error) {
		return b.next.VerificationLink(ctx, email)
	})
}

func (b *Breaker) DeleteIdentity(ctx context.Context, externalID string) error {
	_, err := call(b, func() (struct{}, error) {
		return struct{}{}, b.next.DeleteIdentity(ctx, externalID)
	})
	return err
}

func (b *Breaker) UpdatePassword(ctx context.Context, externalID, password string) error {
	_, err := call(b, func() (struct{}, error) {
		return struct{}{}, b.next.UpdatePassword(ctx, externalID, password)
	})
	return err
}
