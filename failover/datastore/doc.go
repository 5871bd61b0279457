// Package datastore unifies two independent MongoDB providers behind one
// generic operation-dispatch facade with circuit-breaker failover.
//
// Every entity shares a single failover algorithm through Execute and the
// typed Repository, instead of hand-writing one failover path per entity.
//
// The two providers never reconcile: a write that fails over to the
// secondary is not replayed against the primary when it recovers. Callers
// must treat the stores as eventually divergent; this layer provides
// availability, not consistency.
package datastore
