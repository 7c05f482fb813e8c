package sentry

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
)

// HandlerOption configures NewHTTPHandler.
type HandlerOption func(h *handler)

// WithRepanic makes the handler re-raise recovered panics after capturing
// them, so outer middleware still sees them.
func WithRepanic(repanic bool) HandlerOption {
	return func(h *handler) { h.repanic = repanic }
}

type handler struct {
	next    http.Handler
	repanic bool
}

// NewHTTPHandler wraps next so every request runs in its own isolation
// scope, continues the caller's trace and is reported as a transaction.
func NewHTTPHandler(next http.Handler, opts ...HandlerOption) http.Handler {
	h := &handler{next: next, repanic: true}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := ContinueTrace(r.Context(), r.Header.Get(SentryTraceHeader), strings.Join(r.Header.Values(BaggageHeader), ","))
	IsolationScope(ctx).SetRequest(newRequest(r))

	span := StartSpan(ctx, "http.server",
		WithTransactionName(r.Method+" "+r.URL.Path),
		WithTransactionSource(SourceURL),
	)
	span.SetData("http.request.method", r.Method)
	defer span.Finish()
	defer h.recover(span)

	metrics := httpsnoop.CaptureMetricsFn(w, func(w http.ResponseWriter) {
		h.next.ServeHTTP(w, r.WithContext(span.Context()))
	})
	span.SetData("http.response.status_code", metrics.Code)
	span.SetStatus(spanStatusFromHTTP(metrics.Code))
}

func (h *handler) recover(span *Span) {
	err := recover()
	if err == nil {
		return
	}
	span.SetStatus(SpanStatusInternalError)
	if client := ClientFromContext(span.Context()); client != nil {
		client.Recover(span.Context(), err)
	}
	if h.repanic {
		span.Finish()
		panic(err)
	}
}

// newRequest records the parts of r attached to events. Cookies and
// authorization headers are left out.
func newRequest(r *http.Request) *Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Authorization", "Cookie", "X-Sentry-Auth":
			continue
		}
		headers[k] = strings.Join(v, ",")
	}
	return &Request{
		URL:         scheme + "://" + r.Host + r.URL.Path,
		Method:      r.Method,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
	}
}

func spanStatusFromHTTP(code int) SpanStatus {
	switch {
	case code < 400:
		return SpanStatusOK
	case code == http.StatusUnauthorized:
		return SpanStatusUnauthenticated
	case code == http.StatusForbidden:
		return SpanStatusPermissionDenied
	case code == http.StatusNotFound:
		return SpanStatusNotFound
	case code == http.StatusTooManyRequests:
		return SpanStatusResourceExhausted
	case code == http.StatusNotImplemented:
		return SpanStatusUnimplemented
	case code == http.StatusServiceUnavailable:
		return SpanStatusUnavailable
	case code == http.StatusGatewayTimeout:
		return SpanStatusDeadlineExceeded
	case code < 500:
		return SpanStatusInvalidArgument
	default:
		return SpanStatusInternalError
	}
}

// InjectTraceHeaders sets sentry-trace and baggage on an outgoing request
// made from ctx. Baggage members already on h that are not sentry- prefixed
// are forwarded unchanged ahead of the sentry members.
func InjectTraceHeaders(ctx context.Context, h http.Header) {
	sentryTrace, dsc := TraceHeaders(ctx)
	h.Set(SentryTraceHeader, sentryTrace)
	existing := ParseBaggage(strings.Join(h.Values(BaggageHeader), ","))
	if baggage := MergeBaggage(existing, dsc); baggage != "" {
		h.Set(BaggageHeader, baggage)
	} else {
		h.Del(BaggageHeader)
	}
}

type roundTripper struct {
	next http.RoundTripper
}

// NewRoundTripper wraps next so outgoing requests carry trace headers, run
// in an http.client child span and leave a breadcrumb.
func NewRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next}
}

func (t *roundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	var span *Span
	if SpanFromContext(ctx) != nil {
		span = StartSpan(ctx, "http.client", WithDescription(r.Method+" "+r.URL.String()))
		defer span.Finish()
		ctx = span.Context()
	}

	r = r.Clone(ctx)
	InjectTraceHeaders(ctx, r.Header)

	resp, err := t.next.RoundTrip(r)

	crumb := &Breadcrumb{
		Type:     "http",
		Category: "http",
		Data: map[string]interface{}{
			"url":    r.URL.String(),
			"method": r.Method,
		},
	}
	if err != nil {
		crumb.Level = LevelError
		crumb.Message = err.Error()
		if span != nil {
			span.SetStatus(SpanStatusUnknown)
		}
	} else {
		crumb.Data["status_code"] = strconv.Itoa(resp.StatusCode)
		if span != nil {
			span.SetStatus(spanStatusFromHTTP(resp.StatusCode))
			span.SetData("http.response.status_code", resp.StatusCode)
		}
	}
	AddBreadcrumb(ctx, crumb)
	return resp, err
}
