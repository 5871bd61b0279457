package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured indicates a provider has no configuration. This is a
	// static condition, not a failure: an unconfigured provider is never
	// attempted and never contributes to breaker state.
	ErrNotConfigured = errors.New("provider is not configured")
	// ErrTimeout indicates an attempt exceeded its time budget. Timeouts
	// count as failures for circuit breaker purposes.
	ErrTimeout = errors.New("provider operation timed out")
	// ErrAllUnavailable indicates every configured provider was either
	// skipped by its breaker or failed its attempt. Routers translate this
	// into a neutral result for reads; writes propagate it under the strict
	// write policy.
	ErrAllUnavailable = errors.New("all providers unavailable")
)

// AttemptError records a single failed attempt against one provider.
type AttemptError struct {
	Provider  Provider
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %s on provider %s: %v", e.Operation, attemptErrKind(e.Err), e.Provider, e.Err)
}

// Unwrap exposes the underlying driver or timeout error.
func (e *AttemptError) Unwrap() error {
	return e.Err
}

func attemptErrKind(err error) string {
	if errors.Is(err, ErrTimeout) {
		return "timeout"
	}

	return "attempt failed"
}
