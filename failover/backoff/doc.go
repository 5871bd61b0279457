// Package backoff provides exponential backoff utilities with jitter support
// used to rate-limit provider reconnect attempts.
package backoff
