package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context, falling back to Default
func FromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	l := Default()
	return &l
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithTraceContext tags ctx with traceID (generated when empty) and returns
// a logger carrying it
func WithTraceContext(ctx context.Context, base zerolog.Logger, traceID string) (context.Context, zerolog.Logger) {
	if traceID == "" {
		traceID = GenerateTraceID()
	}
	l := base.With().Str("trace_id", traceID).Logger()
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return NewContext(ctx, l), l
}

// TraceID returns the trace ID stored in ctx, if any
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}
