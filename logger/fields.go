package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across jobpulse.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRequestID     = "request_id"
	FieldUserID        = "user_id"
	FieldTimerID       = "timer_id"
	FieldApplicationID = "application_id"
	FieldRunID         = "run_id"
	FieldDocumentID    = "document_id"
	FieldJobID         = "job_id"

	// Components
	FieldComponent = "component"
	FieldService   = "service"

	// Operations
	FieldOperation = "operation"
	FieldKind      = "kind"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldDueAt      = "due_at"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Status
	FieldStatus = "status"
	FieldStage  = "stage"

	// Log glyph (꩜, ✿, ❀, ⊔, ...)
	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	requestIDKey contextKey = "logger_request_id"
	timerIDKey   contextKey = "logger_timer_id"
	componentKey contextKey = "logger_component"
)

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithTimerID adds the timer being handled to the context for logging
func WithTimerID(ctx context.Context, timerID string) context.Context {
	return context.WithValue(ctx, timerIDKey, timerID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// RequestIDFromContext returns the request ID stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if timerID, ok := ctx.Value(timerIDKey).(string); ok && timerID != "" {
		fields = append(fields, FieldTimerID, timerID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns l with fields extracted from ctx.
func FromContext(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	d := &Dispatcher{logger: logger.ComponentLogger("pulse.dispatcher")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
