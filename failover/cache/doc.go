// Package cache unifies two independent Redis/Valkey providers behind one
// key-value facade with circuit-breaker failover.
//
// Values are JSON-encoded to a provider-agnostic text form before reaching
// either provider, so a value written to one provider round-trips correctly
// when a later read is served by the other.
//
// Outage behavior is asymmetric by design: reads degrade to neutral results
// (nil, 0, -1, empty slice) with a nil error, while writes either fail with
// provider.ErrAllUnavailable (WriteStrict) or succeed as a no-op
// (WriteLenient) depending on the configured write policy. Callers that need
// to distinguish "key absent" from "backend down" must consult the health
// snapshot.
package cache
