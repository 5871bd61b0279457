package circuitbreaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/LerianStudio/lib-failover/failover/log"
	"github.com/sony/gobreaker"
)

type manager struct {
	breakers  map[string]*gobreaker.CircuitBreaker
	configs   map[string]Config // Store configs for safe reset
	listeners []StateChangeListener
	mu        sync.RWMutex
	logger    log.Logger
}

// NewManager creates a new circuit breaker manager
func NewManager(logger log.Logger) Manager {
	if logger == nil {
		logger = &log.NopLogger{}
	}

	return &manager{
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		configs:   make(map[string]Config),
		listeners: make([]StateChangeListener, 0),
		logger:    logger,
	}
}

func (m *manager) GetOrCreate(providerName string, config Config) CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[providerName]
	m.mu.RUnlock()

	if exists {
		return &circuitBreaker{breaker: breaker}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists = m.breakers[providerName]; exists {
		return &circuitBreaker{breaker: breaker}
	}

	config = config.normalize()

	breaker = gobreaker.NewCircuitBreaker(m.buildSettings(providerName, config))
	m.breakers[providerName] = breaker
	m.configs[providerName] = config // Store config for safe reset

	m.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.String("provider", providerName))

	return &circuitBreaker{breaker: breaker}
}

// buildSettings translates a Config into gobreaker settings with our
// trip policy and state change fan-out attached.
func (m *manager) buildSettings(providerName string, config Config) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "provider-" + providerName,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= config.ConsecutiveFailures {
				return true
			}

			if config.MinRequests == 0 || counts.Requests < config.MinRequests {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return failureRatio >= config.FailureRatio
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			m.handleStateChange(providerName, from, to)
		},
	}
}

func (m *manager) Execute(providerName string, fn func() (any, error)) (any, error) {
	m.mu.RLock()
	breaker, exists := m.breakers[providerName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("circuit breaker not found for provider: %s (call GetOrCreate first)", providerName)
	}

	result, err := breaker.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker is open - request rejected immediately",
				log.String("provider", providerName))

			return nil, fmt.Errorf("provider %s is currently unavailable (circuit breaker open): %w", providerName, err)
		}

		if err == gobreaker.ErrTooManyRequests {
			m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker is half-open - too many trial requests",
				log.String("provider", providerName))

			return nil, fmt.Errorf("provider %s is recovering (too many requests): %w", providerName, err)
		}
	}

	return result, err
}

func (m *manager) GetState(providerName string) State {
	m.mu.RLock()
	breaker, exists := m.breakers[providerName]
	m.mu.RUnlock()

	if !exists {
		return StateUnknown
	}

	return convertGobreakerState(breaker.State())
}

func (m *manager) GetCounts(providerName string) Counts {
	m.mu.RLock()
	breaker, exists := m.breakers[providerName]
	m.mu.RUnlock()

	if !exists {
		return Counts{}
	}

	counts := breaker.Counts()

	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func (m *manager) IsAvailable(providerName string) bool {
	// Closed and half-open both admit calls. Half-open admission beyond
	// MaxRequests is decided by gobreaker at Execute time.
	return m.GetState(providerName) != StateOpen
}

func (m *manager) Reset(providerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[providerName]; !exists {
		return
	}

	m.logger.Log(context.Background(), log.LevelInfo, "resetting circuit breaker",
		log.String("provider", providerName))

	// Get stored config
	config, configExists := m.configs[providerName]
	if !configExists {
		m.logger.Log(context.Background(), log.LevelWarn, "no stored config found for provider, cannot recreate",
			log.String("provider", providerName))
		delete(m.breakers, providerName)

		return
	}

	// Recreate circuit breaker with same configuration
	m.breakers[providerName] = gobreaker.NewCircuitBreaker(m.buildSettings(providerName, config))
}

// RegisterStateChangeListener registers a listener for state change notifications
func (m *manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
	m.logger.Log(context.Background(), log.LevelDebug, "registered state change listener",
		log.Int("total", len(m.listeners)))
}

// handleStateChange processes state changes and notifies listeners
func (m *manager) handleStateChange(providerName string, from gobreaker.State, to gobreaker.State) {
	m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker state changed",
		log.String("provider", providerName),
		log.String("from", from.String()),
		log.String("to", to.String()))

	switch to {
	case gobreaker.StateOpen:
		m.logger.Log(context.Background(), log.LevelError, "circuit breaker opened - provider is unhealthy, requests will fast-fail",
			log.String("provider", providerName))
	case gobreaker.StateHalfOpen:
		m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker half-open - testing provider recovery",
			log.String("provider", providerName))
	case gobreaker.StateClosed:
		m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker closed - provider is healthy",
			log.String("provider", providerName))
	}

	// Notify listeners
	fromState := convertGobreakerState(from)
	toState := convertGobreakerState(to)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		// Notify in goroutine to avoid blocking circuit breaker operations
		go func(l StateChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Log(context.Background(), log.LevelError, "circuit breaker state change listener panic",
						log.String("provider", providerName), log.Any("panic", r))
				}
			}()

			l.OnStateChange(providerName, fromState, toState)
		}(listener)
	}
}

// convertGobreakerState converts gobreaker.State to our State type
func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}
