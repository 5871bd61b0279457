// Package provider implements the shared failover algorithm used by the
// cache and datastore routers: attempt providers in priority order, guard
// each attempt with that provider's circuit breaker and an optional
// per-attempt timeout, and return the first success.
//
// The two providers of a router are independent. A write served by the
// secondary is never replayed against the primary once it recovers; this
// layer provides availability, not consistency.
package provider
