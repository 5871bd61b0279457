package log

import "context"

// NopLogger discards every log event. Routers and clients fall back to it
// when no logger is configured, so logging calls never need a nil check.
type NopLogger struct{}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &NopLogger{}
}

// Log discards the event.
func (l *NopLogger) Log(_ context.Context, _ Level, _ string, _ ...Field) {}

// With returns the receiver unchanged; there is no state to bind fields to.
//
//nolint:ireturn
func (l *NopLogger) With(_ ...Field) Logger {
	return l
}

// WithGroup returns the receiver unchanged.
//
//nolint:ireturn
func (l *NopLogger) WithGroup(_ string) Logger {
	return l
}

// Enabled reports false for every level.
func (l *NopLogger) Enabled(_ Level) bool {
	return false
}

// Sync has nothing to flush.
func (l *NopLogger) Sync(_ context.Context) error { return nil }
