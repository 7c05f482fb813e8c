package sentry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPHandlerContinuesTrace(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 0})

	var inner *Span
	handler := NewHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = SpanFromContext(r.Context())
		SetTag(r.Context(), "handler", "users")
		CaptureMessage(r.Context(), "inside handler")
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/users/42?debug=1", nil)
	req.Header.Set(SentryTraceHeader, "12312012123120121231201212312012-1121201211212012-1")
	req.Header.Add(BaggageHeader, "vendor=a")
	req.Header.Add(BaggageHeader, "sentry-trace_id=12312012123120121231201212312012,sentry-sample_rate=1")
	req.Header.Set("Authorization", "Bearer secret")
	req = req.WithContext(withClient(client))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NotNil(t, inner)
	assert.Equal(t, "12312012123120121231201212312012", inner.TraceID.String())
	assert.Equal(t, SampledTrue, inner.Sampled)

	envelopes := transport.sent()
	require.Len(t, envelopes, 2)
	assert.Equal(t, "sentry-trace_id=12312012123120121231201212312012,sentry-sample_rate=1", envelopes[1].Header.Trace.String())

	events := transport.events(t)
	require.Len(t, events, 2)
	msg, tx := events[0], events[1]
	assert.Equal(t, "inside handler", msg.Message)
	assert.Equal(t, "users", msg.Tags["handler"])
	require.NotNil(t, msg.Request)
	assert.Equal(t, "http://api.example.com/users/42", msg.Request.URL)
	assert.Equal(t, "debug=1", msg.Request.QueryString)
	assert.NotContains(t, msg.Request.Headers, "Authorization")
	assert.Equal(t, inner.SpanID.String(), msg.Contexts[traceContextKey]["span_id"])

	assert.Equal(t, transactionType, tx.Type)
	assert.Equal(t, "GET /users/42", tx.Transaction)
	assert.Equal(t, "1121201211212012", tx.Contexts[traceContextKey]["parent_span_id"])
	assert.Equal(t, string(SpanStatusNotFound), tx.Contexts[traceContextKey]["status"])

	// The request's tags stay on its own isolation scope.
	assert.NotContains(t, IsolationScope(req.Context()).ApplyToEvent(NewEvent(), nil).Tags, "handler")
}

func TestHTTPHandlerRecoversPanics(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 1})
	panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	req := httptest.NewRequest(http.MethodPost, "/jobs", nil).WithContext(withClient(client))

	assert.NotPanics(t, func() {
		NewHTTPHandler(panicking, WithRepanic(false)).ServeHTTP(httptest.NewRecorder(), req)
	})
	events := transport.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, LevelFatal, events[0].Level)
	assert.Equal(t, "boom", events[0].Message)
	assert.Equal(t, string(SpanStatusInternalError), events[1].Contexts[traceContextKey]["status"])

	other := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("bust") })
	assert.PanicsWithValue(t, "bust", func() {
		NewHTTPHandler(other).ServeHTTP(httptest.NewRecorder(), req)
	})
	events = transport.events(t)
	require.Len(t, events, 4)
	assert.Equal(t, "bust", events[2].Message)
}

func TestHTTPHandlerRepeatedPanicIsDeduplicated(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 1})
	handler := NewHTTPHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), WithRepanic(false))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil).WithContext(withClient(client))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	events := transport.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, "boom", events[0].Message)
	assert.Equal(t, transactionType, events[1].Type)
	assert.Equal(t, transactionType, events[2].Type)
}

func TestInjectTraceHeadersKeepsThirdPartyBaggage(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{TracesSampleRate: 1, Release: "1.0"})
	span := StartSpan(withClient(client), "op")

	h := http.Header{}
	h.Set(BaggageHeader, "vendor=a;p=1,sentry-release=stale,other=b")
	InjectTraceHeaders(span.Context(), h)

	assert.Equal(t, span.ToSentryTrace().String(), h.Get(SentryTraceHeader))
	assert.Equal(t, "vendor=a;p=1,other=b,"+span.ToBaggage(), h.Get(BaggageHeader))
}

func TestInjectTraceHeadersWithoutSpan(t *testing.T) {
	ctx := ContinueTrace(context.Background(),
		"12312012123120121231201212312012-1121201211212012-0",
		"sentry-trace_id=12312012123120121231201212312012")

	h := http.Header{}
	InjectTraceHeaders(ctx, h)
	st, err := ParseSentryTrace(h.Get(SentryTraceHeader))
	require.NoError(t, err)
	assert.Equal(t, "12312012123120121231201212312012", st.TraceID.String())
	assert.Equal(t, SampledFalse, st.Sampled)
	assert.Equal(t, "sentry-trace_id=12312012123120121231201212312012", h.Get(BaggageHeader))
}

func TestRoundTripper(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 1})
	root := StartSpan(withClient(client), "task")

	var outgoing *http.Request
	rt := NewRoundTripper(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		outgoing = r
		return &http.Response{StatusCode: http.StatusTeapot, Request: r}, nil
	}))

	req, err := http.NewRequestWithContext(root.Context(), http.MethodGet, "http://downstream.example.com/v1", nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	require.NotNil(t, outgoing)
	assert.Empty(t, req.Header.Get(SentryTraceHeader))
	st, err := ParseSentryTrace(outgoing.Header.Get(SentryTraceHeader))
	require.NoError(t, err)
	assert.Equal(t, root.TraceID, st.TraceID)
	assert.NotEqual(t, root.SpanID, st.SpanID)
	assert.Equal(t, root.ToBaggage(), outgoing.Header.Get(BaggageHeader))

	root.Finish()
	tx := transport.events(t)[0]
	require.Len(t, tx.Spans, 1)
	assert.Equal(t, "http.client", tx.Spans[0].Op)
	assert.Equal(t, st.SpanID, tx.Spans[0].SpanID)
	assert.Equal(t, "GET http://downstream.example.com/v1", tx.Spans[0].Description)

	crumbs := IsolationScope(root.Context()).ApplyToEvent(NewEvent(), nil).Breadcrumbs
	require.Len(t, crumbs, 1)
	assert.Equal(t, "http", crumbs[0].Category)
	assert.Equal(t, "418", crumbs[0].Data["status_code"])
}
