// Package logger provides the structured logging contract used across the module.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the operation ID found in ctx.
	WithContext(ctx context.Context) Logger
}

type operationIDKey struct{}

// ContextWithOperationID tags ctx so that WithContext loggers include operation_id.
func ContextWithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationIDFromContext returns the operation ID stored in ctx, if any.
func OperationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(operationIDKey{}).(string); ok {
		return id
	}
	return ""
}
