// Package circuitbreaker manages one circuit breaker per backing provider,
// built on sony/gobreaker. A provider's breaker opens after a configured
// number of consecutive failures and, after the open timeout elapses, admits
// a single trial call before deciding availability again. A successful trial
// closes the breaker and resets its failure counter.
package circuitbreaker
