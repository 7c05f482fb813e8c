package sentry

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxInboundContexts = 1000

// inboundContexts remembers the frozen sampling context received with each
// continued trace, so SpanExporter can put it on the transaction it sends.
var inboundContexts = newSamplingContextCache(maxInboundContexts)

type samplingContextCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[TraceID, DynamicSamplingContext]
}

func newSamplingContextCache(size int) *samplingContextCache {
	l, _ := simplelru.NewLRU[TraceID, DynamicSamplingContext](size, nil)
	return &samplingContextCache{lru: l}
}

func (c *samplingContextCache) add(id TraceID, dsc DynamicSamplingContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(id, dsc.clone())
}

func (c *samplingContextCache) get(id TraceID) (DynamicSamplingContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dsc, ok := c.lru.Get(id)
	if !ok {
		return DynamicSamplingContext{}, false
	}
	return dsc.clone(), true
}

var _ propagation.TextMapPropagator = Propagator{}

// Propagator carries traces over sentry-trace and baggage headers for
// OpenTelemetry instrumented code.
type Propagator struct{}

// NewPropagator returns a Propagator, for use with otel.SetTextMapPropagator.
func NewPropagator() Propagator { return Propagator{} }

// Inject writes the trace of the OTel span in ctx, or of the Sentry span or
// scope when there is none. Third-party baggage already in carrier is kept,
// followed by the OTel baggage of ctx and then the sampling context.
func (p Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	var (
		sentryTrace string
		dsc         DynamicSamplingContext
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		st := SentryTrace{
			TraceID: convertTraceID(sc.TraceID()),
			SpanID:  convertSpanID(sc.SpanID()),
			Sampled: sampledFromBool(sc.IsSampled()),
		}
		sentryTrace = st.String()
		dsc = p.samplingContext(ctx, st)
	} else {
		sentryTrace, dsc = TraceHeaders(ctx)
	}

	carrier.Set(SentryTraceHeader, sentryTrace)
	existing := ParseBaggage(carrier.Get(BaggageHeader)).ThirdParty()
	existing = append(existing, otelBaggageMembers(ctx, existing)...)
	if header := MergeBaggage(existing, dsc); header != "" {
		carrier.Set(BaggageHeader, header)
	}
}

// otelBaggageMembers returns the non-sentry members of the OTel baggage in
// ctx that skip does not already carry, sorted by key since OTel keeps no
// member order.
func otelBaggageMembers(ctx context.Context, skip Baggage) Baggage {
	var out Baggage
	for _, om := range baggage.FromContext(ctx).Members() {
		if _, ok := skip.Member(om.Key()); ok {
			continue
		}
		m, ok := parseMember(om.String())
		if !ok || m.IsSentry() {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// withOTelBaggage adds the third-party members of header to the OTel baggage
// of ctx. Members OTel rejects are skipped.
func withOTelBaggage(ctx context.Context, header string) context.Context {
	members := ParseBaggage(header).ThirdParty()
	if len(members) == 0 {
		return ctx
	}
	b := baggage.FromContext(ctx)
	for _, m := range members {
		om, err := toOTelMember(m)
		if err == nil {
			b, err = b.SetMember(om)
		}
		if err != nil {
			logger.debug("baggage member not representable in OpenTelemetry:", m.Key, err)
		}
	}
	return baggage.ContextWithBaggage(ctx, b)
}

func toOTelMember(m Member) (baggage.Member, error) {
	props := make([]baggage.Property, 0, len(m.Properties))
	for _, p := range m.Properties {
		var (
			op  baggage.Property
			err error
		)
		if p.HasValue {
			op, err = baggage.NewKeyValueProperty(p.Key, p.Value)
		} else {
			op, err = baggage.NewKeyProperty(p.Key)
		}
		if err != nil {
			return baggage.Member{}, err
		}
		props = append(props, op)
	}
	return baggage.NewMember(m.Key, m.Value, props...)
}

// samplingContext returns the frozen upstream context of the trace when
// there is one, and otherwise starts one from the client bound to ctx.
func (p Propagator) samplingContext(ctx context.Context, st SentryTrace) DynamicSamplingContext {
	if dsc, ok := inboundContexts.get(st.TraceID); ok {
		return dsc
	}
	if pc := CurrentScope(ctx).PropagationContext(); pc.TraceID == st.TraceID && pc.DynamicSamplingContext.Frozen {
		return pc.DynamicSamplingContext
	}
	dsc := DynamicSamplingContext{}
	dsc.Set(DSCTraceID, st.TraceID.String())
	if client := ClientFromContext(ctx); client != nil {
		fillClientDynamicSamplingContext(&dsc, client)
	}
	if st.Sampled.decided() {
		dsc.Set(DSCSampled, st.Sampled.String())
	}
	dsc.Frozen = true
	inboundContexts.add(st.TraceID, dsc)
	return dsc
}

// Extract continues the trace in carrier: the returned context has a forked
// isolation scope on that trace and a remote OTel span context, so spans
// started from it join the trace. Without a valid sentry-trace header ctx
// gets a fresh isolation scope and no remote parent. Third-party baggage
// members are stored as OTel baggage either way.
func (p Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	header := carrier.Get(SentryTraceHeader)
	baggageHeader := carrier.Get(BaggageHeader)
	ctx = withOTelBaggage(ContinueTrace(ctx, header, baggageHeader), baggageHeader)

	st, err := ParseSentryTrace(header)
	if err != nil {
		return ctx
	}
	pc := CurrentScope(ctx).PropagationContext()
	inboundContexts.add(st.TraceID, pc.DynamicSamplingContext)

	cfg := trace.SpanContextConfig{
		TraceID: otelTraceID(st.TraceID),
		SpanID:  otelSpanID(st.SpanID),
		Remote:  true,
	}
	if st.Sampled == SampledTrue {
		cfg.TraceFlags = trace.FlagsSampled
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(cfg))
}

// Fields lists the headers this propagator reads and writes.
func (p Propagator) Fields() []string {
	return []string{SentryTraceHeader, BaggageHeader}
}
