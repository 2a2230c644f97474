package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	connectionIDKey contextKey = "connection_id"
	requestIDKey    contextKey = "request_id"
	requestTypeKey  contextKey = "request_type"
)

// WithConnectionID annotates context with the control connection identifier.
func WithConnectionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, connectionIDKey, id)
}

// WithRequest annotates context with the request id and type being handled.
func WithRequest(ctx context.Context, id, requestType string) context.Context {
	if id != "" {
		ctx = context.WithValue(ctx, requestIDKey, id)
	}
	if requestType != "" {
		ctx = context.WithValue(ctx, requestTypeKey, requestType)
	}
	return ctx
}

// ConnectionIDFromContext extracts the connection identifier if present.
func ConnectionIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, connectionIDKey)
}

// RequestIDFromContext extracts the request identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := stringValue(ctx, connectionIDKey); ok {
		fields = append(fields, slog.String(FieldConnectionID, id))
	}
	if id, ok := stringValue(ctx, requestIDKey); ok {
		fields = append(fields, slog.String(FieldRequestID, id))
	}
	if kind, ok := stringValue(ctx, requestTypeKey); ok {
		fields = append(fields, slog.String(FieldRequestType, kind))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
