// Package health aggregates failover router state into operator-facing
// reports. It combines per-provider circuit breaker snapshots with synthetic
// write-read-delete probes so a readiness endpoint can distinguish "breaker
// thinks the provider is fine" from "the provider actually round-trips data".
package health
