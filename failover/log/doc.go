// Package log defines the structured logging contract used across the
// failover library. Components accept a Logger and never log through a
// concrete implementation; see the zap package for the production backend.
package log
