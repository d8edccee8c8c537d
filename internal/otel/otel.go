package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/bucketflow/internal/eventbus"
	events "github.com/hanpama/bucketflow/internal/events"
	plan "github.com/hanpama/bucketflow/internal/plan"
	reqid "github.com/hanpama/bucketflow/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("bucketflow")}
	sub.register()

	return tp.Shutdown, nil
}

type stepKey struct {
	rid  int64
	step plan.StepID
}

type subscriber struct {
	tracer      trace.Tracer
	httpSpans   sync.Map // rid -> trace.Span
	bucketSpans sync.Map // rid -> trace.Span
	stepSpans   sync.Map // stepKey -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.BucketStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "bucket.execute")
		span.SetAttributes(
			attribute.Int("bucket.size", e.Size),
			attribute.Int("bucket.steps", e.Steps),
			attribute.String("bucket.reason", e.Reason),
		)
		s.bucketSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.BucketFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.bucketSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Bool("bucket.has_errors", e.HasErrors))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StepStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.bucketSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		} else if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "step.execute")
		span.SetAttributes(attribute.Int("step.id", int(e.Step)))
		s.stepSpans.Store(stepKey{rid: rid, step: e.Step}, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.StepFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.stepSpans.LoadAndDelete(stepKey{rid: rid, step: e.Step})
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Bool("step.failed", e.Failed))
		span.End()
	})
}
