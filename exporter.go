package sentry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var _ sdktrace.SpanExporter = (*SpanExporter)(nil)

var errExporterShutdown = errors.New("sentry: span exporter is shut down")

const maxPendingTraces = 1000

// SpanExporter sends OpenTelemetry spans as transactions. Each local root
// span becomes one transaction holding the children exported before it.
type SpanExporter struct {
	client *Client

	mu      sync.Mutex
	pending *simplelru.LRU[TraceID, []*Span]
	stopped bool
}

// NewSpanExporter returns an exporter sending through client. A nil client
// resolves the globally bound one at export time.
func NewSpanExporter(client *Client) *SpanExporter {
	// Traces whose root never arrives are evicted oldest first.
	pending, _ := simplelru.NewLRU[TraceID, []*Span](maxPendingTraces, nil)
	return &SpanExporter{client: client, pending: pending}
}

// ExportSpans is called synchronously by the span processor. Children are
// buffered until their local root arrives; roots are captured right away.
func (e *SpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errExporterShutdown
	}

	var roots []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if isLocalRoot(s) {
			roots = append(roots, s)
			continue
		}
		id := convertTraceID(s.SpanContext().TraceID())
		children, _ := e.pending.Get(id)
		if len(children) >= maxSpans {
			continue
		}
		e.pending.Add(id, append(children, convertSpan(s)))
	}

	transactions := make([]*Event, 0, len(roots))
	for _, root := range roots {
		id := convertTraceID(root.SpanContext().TraceID())
		children, _ := e.pending.Get(id)
		e.pending.Remove(id)
		transactions = append(transactions, e.toTransaction(root, children))
	}
	e.mu.Unlock()

	client := e.client
	if client == nil {
		client = ClientFromContext(ctx)
	}
	if client == nil {
		return nil
	}
	for _, event := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		client.CaptureEvent(context.Background(), event, nil)
	}
	return nil
}

func (e *SpanExporter) toTransaction(root sdktrace.ReadOnlySpan, children []*Span) *Event {
	span := convertSpan(root)

	event := NewEvent()
	event.Type = transactionType
	event.Transaction = span.Name
	event.StartTime = span.StartTime
	event.Timestamp = span.EndTime
	event.Tags = span.Tags

	tc := Context{
		"trace_id": span.TraceID.String(),
		"span_id":  span.SpanID.String(),
		"op":       span.Op,
		"status":   span.Status,
	}
	if span.ParentSpanID.IsValid() {
		tc["parent_span_id"] = span.ParentSpanID.String()
	}
	if len(span.Data) > 0 {
		tc["data"] = span.Data
	}
	event.Contexts[traceContextKey] = tc

	for _, child := range children {
		if child.SpanID != span.SpanID {
			event.Spans = append(event.Spans, child)
		}
	}

	dsc, ok := inboundContexts.get(span.TraceID)
	if !ok {
		dsc = DynamicSamplingContext{}
		dsc.Set(DSCTraceID, span.TraceID.String())
		client := e.client
		if client == nil {
			client = ClientFromContext(context.Background())
		}
		if client != nil {
			fillClientDynamicSamplingContext(&dsc, client)
		}
		if span.Name != "" {
			dsc.Set(DSCTransaction, span.Name)
		}
		dsc.Set(DSCSampled, span.Sampled.String())
		dsc.Frozen = true
	}
	event.dynamicSamplingContext = &dsc
	return event
}

// Shutdown stops accepting spans and flushes the client within the
// deadline of ctx.
func (e *SpanExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.pending.Purge()
	e.mu.Unlock()

	client := e.client
	if client == nil {
		client = ClientFromContext(ctx)
	}
	if client == nil {
		return nil
	}
	timeout := defaultCloseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !client.Flush(timeout) {
		return context.DeadlineExceeded
	}
	return nil
}
