// Package opentelemetry provides small helpers for recording errors and
// events on OpenTelemetry spans consistently across the library.
package opentelemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Semantic attribute keys and values used by the provider clients.
const (
	AttrDBSystem  = "db.system"
	AttrOperation = "failover.operation"
	AttrProvider  = "failover.provider"

	DBSystemRedis   = "redis"
	DBSystemMongoDB = "mongodb"
)

// HandleSpanError sets the span status to error and records the error on the span.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && err != nil {
		(*span).SetStatus(codes.Error, message+": "+err.Error())
		(*span).RecordError(err)
	}
}

// HandleSpanEvent adds an event with attributes to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}
