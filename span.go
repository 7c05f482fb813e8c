package sentry

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"
)

const maxSpans = 1000

// SpanStatus is the outcome of a span.
type SpanStatus string

const (
	SpanStatusOK                SpanStatus = "ok"
	SpanStatusCancelled         SpanStatus = "cancelled"
	SpanStatusInvalidArgument   SpanStatus = "invalid_argument"
	SpanStatusDeadlineExceeded  SpanStatus = "deadline_exceeded"
	SpanStatusNotFound          SpanStatus = "not_found"
	SpanStatusPermissionDenied  SpanStatus = "permission_denied"
	SpanStatusUnauthenticated   SpanStatus = "unauthenticated"
	SpanStatusResourceExhausted SpanStatus = "resource_exhausted"
	SpanStatusUnimplemented     SpanStatus = "unimplemented"
	SpanStatusUnavailable       SpanStatus = "unavailable"
	SpanStatusInternalError     SpanStatus = "internal_error"
	SpanStatusUnknown           SpanStatus = "unknown_error"
)

// TransactionSource tells how the transaction name was derived.
type TransactionSource string

const (
	SourceCustom    TransactionSource = "custom"
	SourceURL       TransactionSource = "url"
	SourceRoute     TransactionSource = "route"
	SourceTask      TransactionSource = "task"
	SourceComponent TransactionSource = "component"
)

type spanKey struct{}

// Span is a timed unit of work. A span without a local parent is a
// transaction; it decides sampling for the whole trace and, once finished,
// is sent together with its finished children.
type Span struct {
	TraceID      TraceID
	SpanID       SpanID
	ParentSpanID SpanID
	Op           string
	Description  string
	Name         string
	Source       TransactionSource
	Status       SpanStatus
	Tags         map[string]string
	Data         map[string]interface{}
	StartTime    time.Time
	EndTime      time.Time
	Sampled      Sampled

	mu         sync.Mutex
	ctx        context.Context
	root       *Span
	recorder   *spanRecorder
	finished   bool
	sampleRate float64
	sampleRand float64
	dsc        DynamicSamplingContext
}

// SpanOption configures a span at start.
type SpanOption func(s *Span)

// WithTransactionName names the transaction a root span reports.
func WithTransactionName(name string) SpanOption {
	return func(s *Span) { s.Name = name }
}

func WithTransactionSource(source TransactionSource) SpanOption {
	return func(s *Span) { s.Source = source }
}

func WithDescription(description string) SpanOption {
	return func(s *Span) { s.Description = description }
}

// WithSpanSampled forces the sampling decision of a root span. It has no
// effect on child spans, which always inherit.
func WithSpanSampled(sampled Sampled) SpanOption {
	return func(s *Span) { s.Sampled = sampled }
}

// SamplingContext is passed to ClientOptions.TracesSampler.
type SamplingContext struct {
	Span          *Span
	ParentSampled Sampled
}

// StartSpan starts a span as a child of the span in ctx. Without one, the
// span becomes a transaction on the trace of the current scope.
func StartSpan(ctx context.Context, operation string, options ...SpanOption) *Span {
	if ctx == nil {
		ctx = context.Background()
	}
	span := &Span{
		Op:        operation,
		SpanID:    NewSpanID(),
		StartTime: time.Now(),
		Tags:      make(map[string]string),
		Data:      make(map[string]interface{}),
	}
	for _, opt := range options {
		opt(span)
	}

	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		span.ParentSpanID = parent.SpanID
		span.Sampled = parent.Sampled
		span.root = parent.root
		span.recorder = parent.recorder
	} else {
		pc := CurrentScope(ctx).PropagationContext()
		span.TraceID = pc.TraceID
		span.ParentSpanID = pc.ParentSpanID
		span.root = span
		span.recorder = &spanRecorder{}
		if pc.DynamicSamplingContext.Frozen {
			span.dsc = pc.DynamicSamplingContext
		}
		if span.Source == "" {
			span.Source = SourceCustom
		}
		span.sample(ClientFromContext(ctx), pc)
	}
	span.ctx = context.WithValue(ctx, spanKey{}, span)
	return span
}

// SpanFromContext returns the active span of ctx, if any.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// Context returns a context carrying the span, for starting children and for
// outgoing trace headers.
func (s *Span) Context() context.Context { return s.ctx }

// StartChild starts a child span.
func (s *Span) StartChild(operation string, options ...SpanOption) *Span {
	return StartSpan(s.ctx, operation, options...)
}

// IsTransaction reports whether the span is the local root.
func (s *Span) IsTransaction() bool { return s.root == s }

func (s *Span) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tags[key] = value
}

func (s *Span) SetStatus(status SpanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
}

func (s *Span) SetData(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data[key] = value
}

// sample decides for a root span. A decision already made upstream is
// reused; otherwise the sampler or rate is compared against sample_rand.
func (s *Span) sample(client *Client, pc PropagationContext) {
	if rnd, ok := pc.DynamicSamplingContext.sampleRand(); ok {
		s.sampleRand = rnd
	} else {
		s.sampleRand = ids.float64()
	}
	if s.Sampled.decided() {
		s.sampleRate = 0
		if s.Sampled == SampledTrue {
			s.sampleRate = 1
		}
		return
	}
	if pc.Sampled.decided() {
		s.Sampled = pc.Sampled
		if v, ok := pc.DynamicSamplingContext.Get(DSCSampleRate); ok {
			s.sampleRate, _ = strconv.ParseFloat(v, 64)
		}
		return
	}
	if client == nil {
		s.Sampled = SampledFalse
		return
	}
	opts := client.Options()
	rate := opts.TracesSampleRate
	if opts.TracesSampler != nil {
		rate = opts.TracesSampler(SamplingContext{Span: s, ParentSampled: pc.Sampled})
	}
	if rate < 0 || rate > 1 {
		logger.warn("ignoring invalid traces sample rate:", rate)
		rate = 0
	}
	s.sampleRate = rate
	s.Sampled = sampledFromBool(s.sampleRand < rate)
}

// ToSentryTrace returns the sentry-trace header for requests made inside
// this span.
func (s *Span) ToSentryTrace() SentryTrace {
	return SentryTrace{TraceID: s.TraceID, SpanID: s.SpanID, Sampled: s.Sampled}
}

// DynamicSamplingContext returns the trace's sampling context, freezing it
// on first use so every downstream hop sees the same values.
func (s *Span) DynamicSamplingContext() DynamicSamplingContext {
	root := s.root
	root.mu.Lock()
	defer root.mu.Unlock()
	if !root.dsc.Frozen {
		root.dsc = root.buildDynamicSamplingContext()
		root.dsc.Frozen = true
	}
	return root.dsc.clone()
}

// ToBaggage returns the sentry- baggage members for outgoing requests.
func (s *Span) ToBaggage() string { return s.DynamicSamplingContext().String() }

// buildDynamicSamplingContext must be called on the root with its lock held.
func (s *Span) buildDynamicSamplingContext() DynamicSamplingContext {
	var dsc DynamicSamplingContext
	dsc.Set(DSCTraceID, s.TraceID.String())
	if client := ClientFromContext(s.ctx); client != nil {
		fillClientDynamicSamplingContext(&dsc, client)
	}
	if s.Name != "" && s.Source != SourceURL {
		dsc.Set(DSCTransaction, s.Name)
	}
	if s.Sampled.decided() {
		dsc.Set(DSCSampleRate, strconv.FormatFloat(s.sampleRate, 'f', -1, 64))
		dsc.Set(DSCSampled, strconv.FormatBool(s.Sampled.Bool()))
	}
	dsc.Set(DSCSampleRand, strconv.FormatFloat(math.Floor(s.sampleRand*1e6)/1e6, 'f', 6, 64))
	return dsc
}

// Finish ends the span. Finishing a sampled transaction sends it.
func (s *Span) Finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	if s.EndTime.IsZero() {
		s.EndTime = time.Now()
	}
	if s.Status == "" {
		s.Status = SpanStatusOK
	}
	s.mu.Unlock()

	if !s.IsTransaction() {
		s.recorder.record(s)
		return
	}
	if !s.Sampled.Bool() {
		return
	}
	client := ClientFromContext(s.ctx)
	if client == nil {
		return
	}
	client.CaptureEvent(s.ctx, s.toTransaction(), nil)
}

func (s *Span) traceContext() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := Context{
		"trace_id": s.TraceID.String(),
		"span_id":  s.SpanID.String(),
	}
	if s.ParentSpanID.IsValid() {
		tc["parent_span_id"] = s.ParentSpanID.String()
	}
	if s.Op != "" {
		tc["op"] = s.Op
	}
	if s.Status != "" {
		tc["status"] = s.Status
	}
	if len(s.Data) > 0 {
		data := make(map[string]interface{}, len(s.Data))
		for k, v := range s.Data {
			data[k] = v
		}
		tc["data"] = data
	}
	return tc
}

func (s *Span) toTransaction() *Event {
	dsc := s.DynamicSamplingContext()
	event := NewEvent()
	event.Type = transactionType
	event.Contexts[traceContextKey] = s.traceContext()
	s.mu.Lock()
	event.Transaction = s.Name
	event.StartTime = s.StartTime
	event.Timestamp = s.EndTime
	for k, v := range s.Tags {
		event.Tags[k] = v
	}
	s.mu.Unlock()
	event.Spans = s.recorder.children()
	event.dynamicSamplingContext = &dsc
	return event
}

// MarshalJSON renders the span as an entry of a transaction's spans list.
func (s *Span) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type span struct {
		TraceID      TraceID                `json:"trace_id"`
		SpanID       SpanID                 `json:"span_id"`
		ParentSpanID *SpanID                `json:"parent_span_id,omitempty"`
		Op           string                 `json:"op,omitempty"`
		Description  string                 `json:"description,omitempty"`
		Status       SpanStatus             `json:"status,omitempty"`
		Tags         map[string]string      `json:"tags,omitempty"`
		Data         map[string]interface{} `json:"data,omitempty"`
		StartTime    time.Time              `json:"start_timestamp"`
		EndTime      *time.Time             `json:"timestamp,omitempty"`
	}
	out := span{
		TraceID:     s.TraceID,
		SpanID:      s.SpanID,
		Op:          s.Op,
		Description: s.Description,
		Status:      s.Status,
		Tags:        s.Tags,
		Data:        s.Data,
		StartTime:   s.StartTime,
	}
	if s.ParentSpanID.IsValid() {
		parent := s.ParentSpanID
		out.ParentSpanID = &parent
	}
	if !s.EndTime.IsZero() {
		end := s.EndTime
		out.EndTime = &end
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a spans list entry, as produced by MarshalJSON.
func (s *Span) UnmarshalJSON(b []byte) error {
	var in struct {
		TraceID      TraceID                `json:"trace_id"`
		SpanID       SpanID                 `json:"span_id"`
		ParentSpanID *SpanID                `json:"parent_span_id"`
		Op           string                 `json:"op"`
		Description  string                 `json:"description"`
		Status       SpanStatus             `json:"status"`
		Tags         map[string]string      `json:"tags"`
		Data         map[string]interface{} `json:"data"`
		StartTime    time.Time              `json:"start_timestamp"`
		EndTime      time.Time              `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	s.TraceID, s.SpanID = in.TraceID, in.SpanID
	if in.ParentSpanID != nil {
		s.ParentSpanID = *in.ParentSpanID
	}
	s.Op, s.Description, s.Status = in.Op, in.Description, in.Status
	s.Tags, s.Data = in.Tags, in.Data
	s.StartTime, s.EndTime = in.StartTime, in.EndTime
	return nil
}

// spanRecorder collects the finished children of one transaction.
type spanRecorder struct {
	mu      sync.Mutex
	spans   []*Span
	dropped int
}

func (r *spanRecorder) record(s *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.spans) >= maxSpans {
		r.dropped++
		return
	}
	r.spans = append(r.spans, s)
}

func (r *spanRecorder) children() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Span(nil), r.spans...)
}
