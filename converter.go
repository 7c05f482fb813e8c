package sentry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	opHTTPServer   = "http.server"
	opHTTPClient   = "http.client"
	opDB           = "db"
	opQueuePublish = "queue.publish"
	opQueueProcess = "queue.process"
	opRPC          = "rpc"
	opDefault      = "default"

	attrHTTPMethod        = attribute.Key("http.method")
	attrHTTPRequestMethod = attribute.Key("http.request.method")
	attrHTTPStatusCode    = attribute.Key("http.status_code")
	attrHTTPResponseCode  = attribute.Key("http.response.status_code")
	attrDBSystem          = attribute.Key("db.system")
	attrMessagingSystem   = attribute.Key("messaging.system")
	attrRPCService        = attribute.Key("rpc.service")
)

func convertTraceID(id trace.TraceID) TraceID { return TraceID(id) }

func convertSpanID(id trace.SpanID) SpanID { return SpanID(id) }

func otelTraceID(id TraceID) trace.TraceID { return trace.TraceID(id) }

func otelSpanID(id SpanID) trace.SpanID { return trace.SpanID(id) }

// convertKind derives a span operation from the OTel kind and the semantic
// convention attributes present on the span.
func convertKind(kind trace.SpanKind, attrs map[attribute.Key]attribute.Value) string {
	_, isHTTP := attrs[attrHTTPMethod]
	if _, ok := attrs[attrHTTPRequestMethod]; ok {
		isHTTP = true
	}
	_, isDB := attrs[attrDBSystem]
	_, isRPC := attrs[attrRPCService]
	_, isMessaging := attrs[attrMessagingSystem]

	switch {
	case isHTTP && kind == trace.SpanKindServer:
		return opHTTPServer
	case isHTTP && kind == trace.SpanKindClient:
		return opHTTPClient
	case isDB:
		return opDB
	case isRPC:
		return opRPC
	case isMessaging && kind == trace.SpanKindProducer:
		return opQueuePublish
	case isMessaging && kind == trace.SpanKindConsumer:
		return opQueueProcess
	}

	switch kind {
	case trace.SpanKindServer:
		return "server"
	case trace.SpanKindClient:
		return "client"
	case trace.SpanKindProducer:
		return "producer"
	case trace.SpanKindConsumer:
		return "consumer"
	case trace.SpanKindInternal:
		return "internal"
	default:
		return opDefault
	}
}

// convertStatus maps the OTel status, refined by the HTTP status code
// attribute when there is one.
func convertStatus(status sdktrace.Status, attrs map[attribute.Key]attribute.Value) SpanStatus {
	for _, key := range []attribute.Key{attrHTTPResponseCode, attrHTTPStatusCode} {
		if v, ok := attrs[key]; ok && v.Type() == attribute.INT64 {
			return spanStatusFromHTTP(int(v.AsInt64()))
		}
	}
	switch status.Code {
	case codes.Error:
		return SpanStatusInternalError
	default:
		return SpanStatusOK
	}
}

func attributeMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

// convertSpan turns a finished OTel span into a Sentry span. Attributes
// become span data; the error description, if any, becomes a tag.
func convertSpan(s sdktrace.ReadOnlySpan) *Span {
	attrs := attributeMap(s.Attributes())
	span := &Span{
		TraceID:     convertTraceID(s.SpanContext().TraceID()),
		SpanID:      convertSpanID(s.SpanContext().SpanID()),
		Op:          convertKind(s.SpanKind(), attrs),
		Description: s.Name(),
		Name:        s.Name(),
		Status:      convertStatus(s.Status(), attrs),
		Tags:        make(map[string]string),
		Data:        make(map[string]interface{}, len(attrs)),
		StartTime:   s.StartTime(),
		EndTime:     s.EndTime(),
		Sampled:     sampledFromBool(s.SpanContext().IsSampled()),
	}
	if s.Parent().SpanID().IsValid() {
		span.ParentSpanID = convertSpanID(s.Parent().SpanID())
	}
	for k, v := range attrs {
		span.Data[string(k)] = v.AsInterface()
	}
	if s.Status().Code == codes.Error && s.Status().Description != "" {
		span.Tags["otel.status_description"] = s.Status().Description
	}
	if lib := s.InstrumentationScope(); lib.Name != "" {
		span.Data["otel.library.name"] = lib.Name
	}
	return span
}

// isLocalRoot reports whether s starts this process's part of a trace.
func isLocalRoot(s sdktrace.ReadOnlySpan) bool {
	return !s.Parent().IsValid() || s.Parent().IsRemote()
}
