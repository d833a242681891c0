package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// HTTP headers for trace propagation
const (
	TraceIDHeader   = "X-Trace-ID"
	SpanIDHeader    = "X-Span-ID"
	RequestIDHeader = "X-Request-ID"
)

// TraceInfo contains the identifiers attached to audit entries and response
// headers.
type TraceInfo struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// GenerateID generates a random 32-character hex ID (128 bits)
func GenerateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// GenerateShortID generates a random 16-character hex ID (64 bits) for span IDs
func GenerateShortID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}

// NewTraceInfo creates a new trace with generated IDs
func NewTraceInfo() *TraceInfo {
	return &TraceInfo{
		TraceID: GenerateID(),
		SpanID:  GenerateShortID(),
	}
}

// WithTraceInfo adds trace information to a context
func WithTraceInfo(ctx context.Context, info *TraceInfo) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, info.TraceID)
	return context.WithValue(ctx, spanIDKey, info.SpanID)
}

// FromContext extracts trace information from a context. A recording
// OpenTelemetry span wins over IDs stored with WithTraceInfo.
func FromContext(ctx context.Context) *TraceInfo {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return &TraceInfo{
			TraceID: sc.TraceID().String(),
			SpanID:  sc.SpanID().String(),
		}
	}

	info := &TraceInfo{}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		info.TraceID = traceID
	}
	if spanID, ok := ctx.Value(spanIDKey).(string); ok {
		info.SpanID = spanID
	}
	return info
}

// EnsureTraceContext ensures the context has trace information, adding it
// if missing. An incoming request ID is reused as the trace ID.
func EnsureTraceContext(ctx context.Context, requestID string) context.Context {
	if FromContext(ctx).TraceID != "" {
		return ctx
	}
	info := NewTraceInfo()
	if requestID != "" {
		info.TraceID = requestID
	}
	return WithTraceInfo(ctx, info)
}

// Headers returns the trace info as HTTP response headers. Empty
// fields are omitted.
func (t *TraceInfo) Headers() map[string]string {
	h := map[string]string{}
	if t.TraceID != "" {
		h[TraceIDHeader] = t.TraceID
	}
	if t.SpanID != "" {
		h[SpanIDHeader] = t.SpanID
	}
	return h
}
