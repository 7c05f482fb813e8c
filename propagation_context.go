package sentry

// Sampled is a tri-state sampling decision. Once a trace root decided it,
// every descendant reuses the decision.
type Sampled int8

const (
	SampledFalse     Sampled = -1
	SampledUndecided Sampled = 0
	SampledTrue      Sampled = 1
)

func (s Sampled) String() string {
	switch s {
	case SampledTrue:
		return "true"
	case SampledFalse:
		return "false"
	default:
		return "undecided"
	}
}

// Bool reports whether the decision is to sample.
func (s Sampled) Bool() bool { return s == SampledTrue }

func (s Sampled) decided() bool { return s != SampledUndecided }

func sampledFromBool(b bool) Sampled {
	if b {
		return SampledTrue
	}
	return SampledFalse
}

// PropagationContext is the trace identity a scope hands to the next hop
// when no span is active.
type PropagationContext struct {
	TraceID TraceID
	// SpanID becomes the parent span id of the next hop.
	SpanID SpanID
	// ParentSpanID is the span id received from upstream, if any.
	ParentSpanID SpanID
	Sampled      Sampled

	DynamicSamplingContext DynamicSamplingContext
}

// NewPropagationContext starts a fresh trace with an undecided sampling state.
func NewPropagationContext() PropagationContext {
	return PropagationContext{
		TraceID: NewTraceID(),
		SpanID:  NewSpanID(),
	}
}

// PropagationContextFromHeaders continues the trace described by the inbound
// sentry-trace and baggage headers. A missing or malformed sentry-trace
// header starts a new trace; baggage is only honoured alongside a valid one.
func PropagationContextFromHeaders(sentryTrace, baggage string) PropagationContext {
	if sentryTrace == "" {
		return NewPropagationContext()
	}
	st, err := ParseSentryTrace(sentryTrace)
	if err != nil {
		traceHeaderParseFailures.Inc()
		logger.debug("starting new trace:", err)
		return NewPropagationContext()
	}
	return PropagationContext{
		TraceID:                st.TraceID,
		SpanID:                 NewSpanID(),
		ParentSpanID:           st.SpanID,
		Sampled:                st.Sampled,
		DynamicSamplingContext: DynamicSamplingContextFromBaggage(ParseBaggage(baggage)),
	}
}

// SentryTrace returns the value for an outgoing sentry-trace header.
func (p PropagationContext) SentryTrace() SentryTrace {
	return SentryTrace{TraceID: p.TraceID, SpanID: p.SpanID, Sampled: p.Sampled}
}

func (p PropagationContext) clone() PropagationContext {
	c := p
	c.DynamicSamplingContext = p.DynamicSamplingContext.clone()
	return c
}

// traceContext renders the contexts.trace entry of an event.
func (p PropagationContext) traceContext() Context {
	tc := Context{
		"trace_id": p.TraceID.String(),
		"span_id":  p.SpanID.String(),
	}
	if p.ParentSpanID.IsValid() {
		tc["parent_span_id"] = p.ParentSpanID.String()
	}
	return tc
}
