package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across dmypyls.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldSession   = "session"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldTransport = "transport"

	// Worker commands
	FieldCommand    = "command"
	FieldSubcommand = "subcommand"
	FieldWorkDir    = "cwd"
	FieldExitCode   = "exit_code"
	FieldStdout     = "stdout"
	FieldStderr     = "stderr"
	FieldPending    = "pending"

	// Files and positions
	FieldRoot   = "root"
	FieldPath   = "path"
	FieldURI    = "uri"
	FieldLine   = "line"
	FieldColumn = "column"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldWaitMS     = "wait_ms"

	// Errors
	FieldError = "error"

	// Status
	FieldState    = "state"
	FieldDegraded = "degraded"
	FieldCount    = "count"
	FieldVersion  = "version"
	FieldPattern  = "pattern"
	FieldAddress  = "address"
)

type contextKey string

const (
	sessionKey   contextKey = "logger_session"
	requestIDKey contextKey = "logger_request_id"
)

// WithSession adds a worker session id to the context for logging
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// WithRequestID adds an LSP request id to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if session, ok := ctx.Value(sessionKey).(string); ok && session != "" {
		fields = append(fields, FieldSession, session)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext returns base with the context's logging fields attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Supervisor struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewSupervisor() *Supervisor {
//	    return &Supervisor{
//	        logger: logger.ComponentLogger("worker.supervisor"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
