package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Manager manages circuit breakers for backing providers
type Manager interface {
	// GetOrCreate returns existing circuit breaker or creates a new one
	GetOrCreate(providerName string, config Config) CircuitBreaker

	// Execute runs a function through the circuit breaker
	Execute(providerName string, fn func() (any, error)) (any, error)

	// GetState returns the current state
	GetState(providerName string) State

	// GetCounts returns the current counts for a circuit breaker
	GetCounts(providerName string) Counts

	// IsAvailable returns true if the breaker would let a call through,
	// i.e. it is closed or half-open (admitting trial calls)
	IsAvailable(providerName string) bool

	// Reset resets circuit breaker to closed state
	Reset(providerName string)

	// RegisterStateChangeListener registers a listener for circuit breaker state changes
	RegisterStateChangeListener(listener StateChangeListener)
}

// CircuitBreaker wraps sony/gobreaker with our interface
type CircuitBreaker interface {
	Execute(fn func() (any, error)) (any, error)
	State() State
	Counts() Counts
}

// Config holds circuit breaker configuration
type Config struct {
	ConsecutiveFailures uint32        // Consecutive failures to trigger open state
	OpenTimeout         time.Duration // Wait time in open state before half-open trial
	MaxRequests         uint32        // Max trial requests in half-open state
	Interval            time.Duration // Closed-state statistics window (0 = cumulative)
	FailureRatio        float64       // Failure ratio to trigger open (e.g., 0.5 for 50%)
	MinRequests         uint32        // Min requests before checking ratio (0 = ratio disabled)
}

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts represents circuit breaker statistics
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// circuitBreaker is the internal implementation wrapping gobreaker
type circuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
}

func (cb *circuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return cb.breaker.Execute(fn)
}

func (cb *circuitBreaker) State() State {
	return convertGobreakerState(cb.breaker.State())
}

func (cb *circuitBreaker) Counts() Counts {
	counts := cb.breaker.Counts()

	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// StateChangeListener is notified when circuit breaker state changes
type StateChangeListener interface {
	// OnStateChange is called when a circuit breaker changes state
	OnStateChange(providerName string, from State, to State)
}
