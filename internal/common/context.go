package common

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyDocumentID contextKey = "document_id"
	ContextKeyLogger     contextKey = "logger"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithDocumentID tags the context with the document being processed.
func WithDocumentID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ContextKeyDocumentID, id)
}

// DocumentIDFromContext extracts the document ID from context
func DocumentIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(ContextKeyDocumentID).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// WithLogger stores a request-scoped logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ContextKeyLogger, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when none is set.
// The returned logger carries request_id and document_id when present.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger, ok := ctx.Value(ContextKeyLogger).(*slog.Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		logger = logger.With("req_id", rid)
	}
	if id := DocumentIDFromContext(ctx); id != uuid.Nil {
		logger = logger.With("document_id", id)
	}
	return logger
}
