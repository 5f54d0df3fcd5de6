package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	startTimeKey contextKey = "start_time"
)

// NewRequestID returns a fresh correlation ID for an admin request or a
// frame being processed
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// WithRequestID stores a correlation ID in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithStartTime stores the start of an operation in ctx
func WithStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, start)
}

// RequestID returns the correlation ID stored in ctx
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Duration returns the time elapsed since the start time stored in ctx
func Duration(ctx context.Context) time.Duration {
	start, ok := ctx.Value(startTimeKey).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start)
}

// LogFields returns the correlation fields of ctx for structured logging
func LogFields(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if id := RequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	if id := TraceID(ctx); id != "" {
		fields["trace_id"] = id
	}
	return fields
}
