// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "user_id"
	// ImportIDKey is the context key for the experiment import ID
	ImportIDKey contextKey = "import_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests pass io.Discard.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard)
}

// WithContext returns a logger with context values extracted.
// Supports request_id, user_id, and import_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		newLogger = newLogger.WithUserID(userID)
	}

	if importID, ok := ctx.Value(ImportIDKey).(string); ok && importID != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("import_id", importID)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// WithUserID returns a logger with user ID
func (l *Logger) WithUserID(userID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("user_id", userID)),
	}
}

// WithImport returns a logger scoped to one experiment import.
func (l *Logger) WithImport(importID, programID, workflow string) *Logger {
	return &Logger{
		Logger: l.With(
			slog.String("import_id", importID),
			slog.String("program_id", programID),
			slog.String("workflow", workflow),
		),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// ImportStage logs the outcome of one pipeline stage.
func (l *Logger) ImportStage(stage string, elapsed time.Duration, err error) {
	if err != nil {
		l.Warn("import_stage",
			slog.String("stage", stage),
			slog.Int64("elapsed_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Debug("import_stage",
		slog.String("stage", stage),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
}

// Compensation logs a rollback attempt made while unwinding a failed import.
func (l *Logger) Compensation(stage string, count int, err error) {
	if err != nil {
		l.Error("import_compensation",
			slog.String("stage", stage),
			slog.Int("count", count),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Info("import_compensation",
		slog.String("stage", stage),
		slog.Int("count", count),
	)
}

// BrAPICall logs one batched call against the BrAPI service.
func (l *Logger) BrAPICall(operation, entity string, count int, elapsed time.Duration, err error) {
	attrs := []any{
		slog.String("operation", operation),
		slog.String("entity", entity),
		slog.Int("count", count),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		l.Error("brapi_call", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	l.Debug("brapi_call", attrs...)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
