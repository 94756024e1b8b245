// Package otel turns bus events into OpenTelemetry spans.
package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/querycore/internal/eventbus"
	events "github.com/hanpama/querycore/internal/events"
	reqid "github.com/hanpama/querycore/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentation = "github.com/hanpama/querycore"

// Setup exports spans over OTLP/gRPC to endpoint and subscribes a Subscriber
// to the global bus. An empty endpoint disables tracing. The returned func
// unsubscribes and flushes the exporter.
func Setup(endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, err
	}
	res := resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(service))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	unsubscribe := NewSubscriber(provider.Tracer(instrumentation)).Register()
	return func(ctx context.Context) error {
		unsubscribe()
		return provider.Shutdown(ctx)
	}, nil
}

// Subscriber opens a request span on events.RequestReceived and an operation
// span below it on events.OperationStarted. Spans are tracked by request ID,
// so publishers must carry one in their context.
type Subscriber struct {
	tracer trace.Tracer
	open   sync.Map // request ID -> *requestSpans
}

type requestSpans struct {
	mu        sync.Mutex
	request   trace.Span
	operation trace.Span
}

func NewSubscriber(tracer trace.Tracer) *Subscriber {
	return &Subscriber{tracer: tracer}
}

// Register subscribes s to the global bus.
func (s *Subscriber) Register() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(s.requestReceived),
		eventbus.Subscribe(s.requestServed),
		eventbus.Subscribe(s.operationStarted),
		eventbus.Subscribe(s.operationFinished),
		eventbus.Subscribe(func(ctx context.Context, e events.ValidationFailed) {
			s.annotate(ctx, "graphql.validation.failed",
				attribute.String("graphql.document.id", e.DocumentID),
				attribute.Int("graphql.error_count", len(e.Errors)))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.CollectionDiagnostics) {
			for _, d := range e.Diagnostics {
				s.annotate(ctx, "graphql.collection.diagnostic",
					attribute.String("code", string(d.Code)),
					attribute.String("message", d.Message))
			}
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.SegmentPoolOverflow) {
			s.annotate(ctx, "executor.segment_pool.overflow",
				attribute.Int("capacity", e.Capacity),
				attribute.Int64("overflow", e.Overflow))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *Subscriber) spans(ctx context.Context, create bool) *requestSpans {
	rid, _ := reqid.FromContext(ctx)
	if !create {
		v, ok := s.open.Load(rid)
		if !ok {
			return nil
		}
		return v.(*requestSpans)
	}
	v, _ := s.open.LoadOrStore(rid, &requestSpans{})
	return v.(*requestSpans)
}

func (s *Subscriber) requestReceived(ctx context.Context, e events.RequestReceived) {
	rid, _ := reqid.FromContext(ctx)
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(e.Request.Header))
	_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
		attribute.String("request.id", rid),
	)
	rs := s.spans(ctx, true)
	rs.mu.Lock()
	rs.request = span
	rs.mu.Unlock()
}

func (s *Subscriber) requestServed(ctx context.Context, e events.RequestServed) {
	rs := s.spans(ctx, false)
	if rs == nil {
		return
	}
	rid, _ := reqid.FromContext(ctx)
	s.open.Delete(rid)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.operation != nil {
		rs.operation.End()
	}
	if rs.request == nil {
		return
	}
	rs.request.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
	if e.Status >= 500 {
		rs.request.SetStatus(codes.Error, "")
	}
	rs.request.End()
}

func (s *Subscriber) operationStarted(ctx context.Context, e events.OperationStarted) {
	rs := s.spans(ctx, true)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	parent := ctx
	if rs.request != nil {
		parent = trace.ContextWithSpan(ctx, rs.request)
	}
	_, rs.operation = s.tracer.Start(parent, "graphql.operation")
	rs.operation.SetAttributes(
		attribute.String("graphql.operation.name", e.Name),
		attribute.String("graphql.operation.type", e.Type),
		attribute.String("graphql.document.id", e.DocumentID),
	)
}

func (s *Subscriber) operationFinished(ctx context.Context, e events.OperationFinished) {
	rs := s.spans(ctx, false)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	span := rs.operation
	rs.operation = nil
	if rs.request == nil {
		rid, _ := reqid.FromContext(ctx)
		s.open.Delete(rid)
	}
	rs.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
	if len(e.Errors) > 0 {
		span.SetStatus(codes.Error, e.Errors[0].Error())
	}
	span.End()
}

// annotate adds an event to the innermost open span of the request in ctx.
func (s *Subscriber) annotate(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	rs := s.spans(ctx, false)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	span := rs.operation
	if span == nil {
		span = rs.request
	}
	if span != nil {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
