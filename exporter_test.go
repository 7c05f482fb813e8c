package sentry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func initTracer(t *testing.T, exporter sdktrace.SpanExporter) trace.Tracer {
	t.Helper()
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		require.NoError(t, tracerProvider.Shutdown(context.Background()))
	})
	return tracerProvider.Tracer("my-test01")
}

func TestExporterSendsLocalRootsAsTransactions(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{Release: "2.0"})
	tracer := initTracer(t, NewSpanExporter(client))

	ctx, root := tracer.Start(context.Background(), "GET /orders",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.method", "GET"), attribute.Int("http.status_code", 200)))
	_, child := tracer.Start(ctx, "SELECT orders",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")))
	child.SetStatus(codes.Error, "deadlock")
	child.End()
	assert.Empty(t, transport.sent())
	root.End()

	envelopes := transport.sent()
	require.Len(t, envelopes, 1)
	dsc := envelopes[0].Header.Trace
	require.NotNil(t, dsc)
	assert.Equal(t, []string{DSCTraceID, DSCPublicKey, DSCRelease, DSCTransaction, DSCSampled}, dsc.Keys())
	traceID, _ := dsc.Get(DSCTraceID)
	assert.Equal(t, root.SpanContext().TraceID().String(), traceID)

	tx := transport.events(t)[0]
	assert.Equal(t, transactionType, tx.Type)
	assert.Equal(t, "GET /orders", tx.Transaction)
	assert.Equal(t, "2.0", tx.Release)
	tc := tx.Contexts[traceContextKey]
	assert.Equal(t, opHTTPServer, tc["op"])
	assert.Equal(t, string(SpanStatusOK), tc["status"])
	assert.Equal(t, root.SpanContext().SpanID().String(), tc["span_id"])
	assert.NotContains(t, tc, "parent_span_id")

	require.Len(t, tx.Spans, 1)
	span := tx.Spans[0]
	assert.Equal(t, opDB, span.Op)
	assert.Equal(t, "SELECT orders", span.Description)
	assert.Equal(t, SpanStatusInternalError, span.Status)
	assert.Equal(t, "deadlock", span.Tags["otel.status_description"])
	assert.Equal(t, "postgresql", span.Data["db.system"])
	assert.Equal(t, "my-test01", span.Data["otel.library.name"])
	assert.Equal(t, convertSpanID(root.SpanContext().SpanID()), span.ParentSpanID)
}

func TestExporterForwardsUpstreamSamplingContext(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{Release: "mine"})
	tracer := initTracer(t, NewSpanExporter(client))

	carrier := propagation.MapCarrier{
		SentryTraceHeader: "5b1f3a0e2c4d4e6f8a9b0c1d2e3f4a5b-a1b2c3d4e5f60718-1",
		BaggageHeader:     "sentry-trace_id=5b1f3a0e2c4d4e6f8a9b0c1d2e3f4a5b,sentry-release=theirs,sentry-sample_rate=0.5",
	}
	ctx := NewPropagator().Extract(context.Background(), carrier)
	_, span := tracer.Start(ctx, "consume", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.system", "kafka")))
	span.End()

	envelopes := transport.sent()
	require.Len(t, envelopes, 1)
	assert.Equal(t, carrier[BaggageHeader], envelopes[0].Header.Trace.String())

	tc := transport.events(t)[0].Contexts[traceContextKey]
	assert.Equal(t, "5b1f3a0e2c4d4e6f8a9b0c1d2e3f4a5b", tc["trace_id"])
	assert.Equal(t, "a1b2c3d4e5f60718", tc["parent_span_id"])
	assert.Equal(t, opQueueProcess, tc["op"])
}

func TestExporterShutdown(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{})
	exporter := NewSpanExporter(client)

	require.NoError(t, exporter.Shutdown(context.Background()))
	require.NoError(t, exporter.Shutdown(context.Background()))

	err := exporter.ExportSpans(context.Background(), tracetest.SpanStubs{{Name: "late"}}.Snapshots())
	assert.ErrorIs(t, err, errExporterShutdown)
	assert.Empty(t, transport.sent())
}

func TestConvertKind(t *testing.T) {
	tests := []struct {
		kind  trace.SpanKind
		attrs []attribute.KeyValue
		want  string
	}{
		{trace.SpanKindServer, []attribute.KeyValue{attribute.String("http.request.method", "GET")}, opHTTPServer},
		{trace.SpanKindClient, []attribute.KeyValue{attribute.String("http.method", "GET")}, opHTTPClient},
		{trace.SpanKindClient, []attribute.KeyValue{attribute.String("rpc.service", "Greeter")}, opRPC},
		{trace.SpanKindProducer, []attribute.KeyValue{attribute.String("messaging.system", "kafka")}, opQueuePublish},
		{trace.SpanKindInternal, nil, "internal"},
		{trace.SpanKindUnspecified, nil, opDefault},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertKind(tt.kind, attributeMap(tt.attrs)))
	}
}

func TestConvertStatusPrefersHTTPCode(t *testing.T) {
	attrs := attributeMap([]attribute.KeyValue{attribute.Int("http.response.status_code", 503)})
	assert.Equal(t, SpanStatusUnavailable, convertStatus(sdktrace.Status{Code: codes.Ok}, attrs))
	assert.Equal(t, SpanStatusInternalError, convertStatus(sdktrace.Status{Code: codes.Error}, nil))
	assert.Equal(t, SpanStatusOK, convertStatus(sdktrace.Status{Code: codes.Unset}, nil))
}
