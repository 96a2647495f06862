package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// Transport logs every outgoing request at debug level and failures at warn.
// The request id header, when present, is included.
type Transport struct {
	Base      http.RoundTripper
	Component string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logger := FromContext(req.Context())
	if t.Component != "" {
		logger = logger.WithComponent(t.Component)
	}
	fields := NewFields().WithRequestID(req.Header.Get("X-Request-ID"))
	if err != nil {
		fields[FieldMethod] = req.Method
		fields[FieldPath] = req.URL.Path
		fields[FieldDuration] = duration
		logger.WarnContext(req.Context(), "Outgoing request failed", fields.WithError(err).ToSlice()...)
		return nil, err
	}
	fields.WithHTTPResponse(req.Method, req.URL.Path, resp.StatusCode, duration)
	if resp.StatusCode >= 500 {
		logger.WarnContext(req.Context(), "Outgoing request returned server error", fields.ToSlice()...)
	} else {
		logger.DebugContext(req.Context(), "Outgoing request completed", fields.ToSlice()...)
	}
	return resp, nil
}
