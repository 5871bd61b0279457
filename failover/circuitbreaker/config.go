package circuitbreaker

import "time"

// Default policy constants. Three consecutive failures open a provider's
// breaker; after a minute it admits one trial call.
const (
	DefaultConsecutiveFailures = 3
	DefaultOpenTimeout         = 60 * time.Second
	DefaultMaxRequests         = 1
)

// DefaultConfig returns the standard per-provider breaker policy.
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: DefaultConsecutiveFailures,
		OpenTimeout:         DefaultOpenTimeout,
		MaxRequests:         DefaultMaxRequests,
	}
}

// normalize fills zero-valued knobs with the defaults so a partially
// populated Config never produces a breaker that can't trip or recover.
func (c Config) normalize() Config {
	if c.ConsecutiveFailures == 0 {
		c.ConsecutiveFailures = DefaultConsecutiveFailures
	}

	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}

	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}

	return c
}
