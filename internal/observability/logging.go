// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

var logLevel = new(slog.LevelVar)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetLevel changes the minimum level of GlobalLogger. Unknown names fall back to info.
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns ctx unchanged when it already carries a
// correlation ID, otherwise a child context with a fresh one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if ExtractCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// SyncLogger provides structured logging for a client-side sync component
// (following store, comment synchronizer, feed, search).
type SyncLogger struct {
	component string
	logger    *Logger
}

// NewSyncLogger creates a new SyncLogger for the given component.
func NewSyncLogger(component string) *SyncLogger {
	return &SyncLogger{
		component: component,
		logger:    GlobalLogger,
	}
}

func (l *SyncLogger) attrs(ctx context.Context, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogMutation logs a local state change.
func (l *SyncLogger) LogMutation(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := append(l.attrs(ctx, fields), slog.String("operation", operation))
	l.logger.DebugContext(ctx, "local mutation", attrs...)
}

// LogMirrorFailure logs a best-effort remote call that failed. The local
// state is kept as-is.
func (l *SyncLogger) LogMirrorFailure(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := append(l.attrs(ctx, fields),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	l.logger.WarnContext(ctx, "remote mirror failed", attrs...)
}

// LogLoadFailure logs a fetch that degraded to an empty or cached state.
func (l *SyncLogger) LogLoadFailure(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := append(l.attrs(ctx, fields),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	l.logger.WarnContext(ctx, "load failed, degrading", attrs...)
}

// LogDiscard logs a dropped event or response (duplicate push, stale search).
func (l *SyncLogger) LogDiscard(ctx context.Context, reason string, fields map[string]interface{}) {
	attrs := append(l.attrs(ctx, fields), slog.String("reason", reason))
	l.logger.DebugContext(ctx, "discarded", attrs...)
}

// LogPanic logs a recovered panic from a callback.
func (l *SyncLogger) LogPanic(ctx context.Context, recovered any, fields map[string]interface{}) {
	attrs := append(l.attrs(ctx, fields), slog.Any("panic", recovered))
	l.logger.ErrorContext(ctx, "recovered panic in callback", attrs...)
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.DebugContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.DebugContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}
