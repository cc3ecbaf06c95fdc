package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context, falling back to Default
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Default()
}

// NewContext attaches a logger to ctx
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithTraceContext adds a fresh trace ID and returns the narrowed logger
func WithTraceContext(ctx context.Context) (context.Context, zerolog.Logger) {
	l := FromContext(ctx).With().Str("trace_id", GenerateTraceID()).Logger()
	return NewContext(ctx, l), l
}

// RunContext narrows a logger to one replay run
func RunContext(l zerolog.Logger, runID string, seed int64) zerolog.Logger {
	return l.With().Str("run_id", runID).Int64("seed", seed).Logger()
}

// InstrumentContext narrows a logger to one instrument
func InstrumentContext(l zerolog.Logger, instrument string) zerolog.Logger {
	return l.With().Str("instrument", instrument).Logger()
}

// APIContext creates a logger for HTTP request handling
func APIContext(l zerolog.Logger, method, path string) zerolog.Logger {
	return l.With().
		Str("component", "api").
		Str("method", method).
		Str("path", path).
		Logger()
}
