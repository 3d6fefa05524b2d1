package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "greenearth"

// TracerProvider owns the SDK provider when tracing is enabled. A disabled
// provider is a no-op.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "greenearth-calls",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init exports spans of the call server to Jaeger and installs the W3C
// trace context propagator.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return install(tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)), nil
}

func install(tp *tracesdk.TracerProvider) *TracerProvider {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &TracerProvider{tp: tp}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp == nil {
		return nil
	}
	return tp.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

var (
	CallIDKey      = attribute.Key("call.id")
	UserIDKey      = attribute.Key("user.id")
	RecordingIDKey = attribute.Key("recording.id")
	ObjectKeyKey   = attribute.Key("storage.object_key")
	SizeKey        = attribute.Key("recording.size_bytes")
	DurationKey    = attribute.Key("recording.duration_ms")
	OutcomeKey     = attribute.Key("recording.outcome")
)

// AnnotateRecording attaches a finished recording to the span in ctx.
func AnnotateRecording(ctx context.Context, recordingID, outcome string, duration time.Duration, size int) {
	AddSpanAttributes(ctx,
		RecordingIDKey.String(recordingID),
		OutcomeKey.String(outcome),
		DurationKey.Int64(duration.Milliseconds()),
		SizeKey.Int(size),
	)
}

func TraceHTTPRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s", method),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(path),
		),
	)
}

func TraceWebSocketMessage(ctx context.Context, messageType string, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "websocket."+messageType,
		trace.WithAttributes(
			attribute.String("websocket.message_type", messageType),
			UserIDKey.String(userID),
		),
	)
}

func TraceWebRTC(ctx context.Context, operation string, callID, userID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "webrtc."+operation,
		trace.WithAttributes(
			attribute.String("webrtc.operation", operation),
			CallIDKey.String(callID),
			UserIDKey.String(userID),
		),
	)
}

// TraceCallOperation opens a span for a call lifecycle step of one user.
func TraceCallOperation[C ~string, U ~string](ctx context.Context, operation string, callID C, userID U) (context.Context, trace.Span) {
	return StartSpan(ctx, "call."+operation,
		trace.WithAttributes(
			attribute.String("call.operation", operation),
			CallIDKey.String(string(callID)),
			UserIDKey.String(string(userID)),
		),
	)
}

func TraceStorageOperation(ctx context.Context, operation, backend, key string) (context.Context, trace.Span) {
	return StartSpan(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", backend),
			ObjectKeyKey.String(key),
		),
	)
}

func TraceDatabaseOperation(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, "db."+operation,
		trace.WithAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.table", table),
		),
	)
}
