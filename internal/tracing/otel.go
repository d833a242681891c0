// Package tracing provides OpenTelemetry spans for pipeline stages,
// generator calls, HTTP requests and MCP tools, plus request-scoped trace
// IDs used by the audit log.
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Gautam2086/SignalTrace"

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
}

// Global tracer
var globalTracer trace.Tracer

// InitOTel initializes OpenTelemetry with the given configuration.
// Returns a shutdown function that should be called on application exit.
func InitOTel(cfg OTelConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(instrumentationName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// setTracer installs t as the global tracer.
func setTracer(t trace.Tracer) {
	globalTracer = t
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return globalTracer
}

// RunSpan starts the root span of one analysis run.
func RunSpan(ctx context.Context, runID, filename string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "signaltrace.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("signaltrace.run_id", runID),
			attribute.String("signaltrace.filename", filename),
		),
	)
}

// StageSpan starts a span for one pipeline stage (parse, aggregate, ...).
func StageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "signaltrace.stage."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("signaltrace.stage", stage)),
	)
}

// GeneratorSpan starts a span for one explanation attempt.
func GeneratorSpan(ctx context.Context, provider string, attempt int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "signaltrace.generator."+provider,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("signaltrace.generator.provider", provider),
			attribute.Int("signaltrace.generator.attempt", attempt),
		),
	)
}

// HTTPSpan starts a server span for an API request. route is the mux
// route template.
func HTTPSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
}

// ToolSpan starts a new span for an MCP tool execution
func ToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "mcp.tool."+toolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("mcp.tool.name", toolName)),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetAttributes(attribute.Bool("signaltrace.success", true))
}

// SetCount records an item count (lines, incidents, records) on the span.
func SetCount(span trace.Span, name string, n int) {
	span.SetAttributes(attribute.Int("signaltrace."+name, n))
}

// SetHTTPStatus records the response status and marks 5xx responses as
// failed.
func SetHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	if status >= 500 {
		span.SetStatus(codes.Error, "server error")
		return
	}
	SetSuccess(span)
}
