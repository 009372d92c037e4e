package domain

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("resource conflict")
	ErrRateLimited  = errors.New("rate limit exceeded")

	// ErrInvalidToken is returned for bad signatures, expired tokens and
	// refresh tokens that were superseded by a newer one.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidAssertion is returned when the identity provider rejects a
	// client supplied ID token.
	ErrInvalidAssertion = errors.New("invalid identity assertion")

	// ErrIdentityNotFound is returned when the identity provider has no
	// record for the requested external id.
	ErrIdentityNotFound = errors.New("external identity not found")

	// ErrUpstreamIdentity wraps any other identity provider failure.
	ErrUpstreamIdentity = errors.New("identity provider error")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every failing field of a request.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Error())
	}
	return strings.Join(parts, ", ")
}
