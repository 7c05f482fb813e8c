package sentry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

const (
	sdkName = "sentry.go.core"
	// SDKVersion is reported in envelope headers and the auth header.
	SDKVersion = "0.1.0"

	platformGo = "go"
)

// TracesSampler returns the sample rate for a new root span.
type TracesSampler func(ctx SamplingContext) float64

// ClientOptions configures a Client. Zero values select defaults; Dsn,
// Release and Environment fall back to SENTRY_DSN, SENTRY_RELEASE and
// SENTRY_ENVIRONMENT.
type ClientOptions struct {
	Dsn         string
	Release     string
	Environment string
	ServerName  string

	// SampleRate applies to error events. 0 is treated as 1.
	SampleRate float64
	// TracesSampleRate applies to root spans without an upstream decision.
	TracesSampleRate float64
	TracesSampler    TracesSampler

	// MaxBreadcrumbs caps breadcrumbs per event. 0 selects 100, a negative
	// value disables breadcrumbs.
	MaxBreadcrumbs int
	// MaxFlags caps feature flag evaluations per scope. 0 selects 100.
	MaxFlags int

	// Integrations replaces DefaultIntegrations when non-nil.
	Integrations []Integration
	// IgnoreErrors drops error events whose message or exception value
	// contains one of these substrings.
	IgnoreErrors []string

	BeforeSend            func(event *Event, hint *EventHint) *Event
	BeforeSendTransaction func(event *Event, hint *EventHint) *Event
	BeforeBreadcrumb      func(breadcrumb *Breadcrumb) *Breadcrumb

	// Transport overrides the transport chosen from the DSN.
	Transport Transport

	Debug          bool
	SendDefaultPII bool
}

// Client turns events into envelopes and hands them to a transport. A
// client is shared by every scope it is bound to.
type Client struct {
	options    ClientOptions
	dsn        *Dsn
	transport  Transport
	processors []EventProcessor
	sdk        SdkInfo
}

// NewClient validates options and selects a transport. Without a DSN the
// client accepts events and discards them.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Dsn == "" {
		options.Dsn = os.Getenv("SENTRY_DSN")
	}
	if options.Release == "" {
		options.Release = os.Getenv("SENTRY_RELEASE")
	}
	if options.Environment == "" {
		options.Environment = os.Getenv("SENTRY_ENVIRONMENT")
	}
	if options.Debug {
		logger.setLevel(zerolog.DebugLevel)
	}
	if options.SampleRate < 0 || options.SampleRate > 1 {
		return nil, fmt.Errorf("sample rate %v is outside [0, 1]", options.SampleRate)
	}
	if options.SampleRate == 0 {
		options.SampleRate = 1
	}
	if options.MaxBreadcrumbs == 0 {
		options.MaxBreadcrumbs = defaultMaxBreadcrumbs
	}
	if options.MaxFlags <= 0 {
		options.MaxFlags = defaultMaxFlags
	}
	if options.Integrations == nil {
		options.Integrations = DefaultIntegrations()
	}

	c := &Client{
		options: options,
		sdk:     SdkInfo{Name: sdkName, Version: SDKVersion},
	}

	if options.Dsn != "" {
		dsn, err := ParseDsn(options.Dsn)
		if err != nil {
			return nil, err
		}
		c.dsn = dsn
	}

	switch {
	case options.Transport != nil:
		c.transport = options.Transport
	case c.dsn != nil:
		c.transport = NewHTTPTransport(c.dsn)
	default:
		logger.info("no DSN configured, events will be discarded")
		c.transport = noopTransport{}
	}

	for _, integration := range options.Integrations {
		if p := integration.processor(c); p != nil {
			c.processors = append(c.processors, p)
		}
		logger.debug("integration installed:", integration)
	}
	return c, nil
}

// Options returns the effective options.
func (c *Client) Options() ClientOptions { return c.options }

// Dsn returns the parsed DSN, or nil when none is configured.
func (c *Client) Dsn() *Dsn { return c.dsn }

func (c *Client) maxBreadcrumbs() int {
	if c.options.MaxBreadcrumbs < 0 {
		return 0
	}
	return c.options.MaxBreadcrumbs
}

// fillClientDynamicSamplingContext adds the client-derived members of a
// sampling context started at this SDK.
func fillClientDynamicSamplingContext(dsc *DynamicSamplingContext, c *Client) {
	if c.dsn != nil {
		dsc.Set(DSCPublicKey, c.dsn.PublicKey())
	}
	if c.options.Release != "" {
		dsc.Set(DSCRelease, c.options.Release)
	}
	if c.options.Environment != "" {
		dsc.Set(DSCEnvironment, c.options.Environment)
	}
}

// CaptureMessage captures a message at info level.
func (c *Client) CaptureMessage(ctx context.Context, message string) *EventID {
	event := NewEvent()
	event.Level = LevelInfo
	event.Message = message
	return c.CaptureEvent(ctx, event, nil)
}

// CaptureException captures err and the errors it wraps.
func (c *Client) CaptureException(ctx context.Context, err error) *EventID {
	if err == nil {
		return nil
	}
	event := NewEvent()
	event.Level = LevelError
	event.Exception = exceptionsFromError(err)
	return c.CaptureEvent(ctx, event, &EventHint{OriginalException: err})
}

// Recover captures a value recovered from a panic.
func (c *Client) Recover(ctx context.Context, recovered interface{}) *EventID {
	if recovered == nil {
		return nil
	}
	event := NewEvent()
	event.Level = LevelFatal
	if err, ok := recovered.(error); ok {
		event.Exception = exceptionsFromError(err)
	} else {
		event.Message = fmt.Sprint(recovered)
	}
	return c.CaptureEvent(ctx, event, &EventHint{RecoveredException: recovered})
}

// exceptionsFromError lists the error chain innermost first.
func exceptionsFromError(err error) []Exception {
	var chain []Exception
	for err != nil && len(chain) < 10 {
		chain = append(chain, Exception{
			Type:  reflect.TypeOf(err).String(),
			Value: err.Error(),
		})
		err = errors.Unwrap(err)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// CaptureCheckIn sends a cron monitor check-in and returns its id.
func (c *Client) CaptureCheckIn(ctx context.Context, checkIn *CheckIn) string {
	if checkIn == nil {
		return ""
	}
	in := *checkIn
	if in.ID == "" {
		in.ID = newHexUUID()
	}
	if in.Release == "" {
		in.Release = c.options.Release
	}
	if in.Environment == "" {
		in.Environment = c.options.Environment
	}
	pc := CurrentScope(ctx).PropagationContext()
	in.Contexts = map[string]Context{traceContextKey: pc.traceContext()}

	item, err := NewCheckInItem(&in)
	if err != nil {
		c.drop(dropReasonEncodeError, err)
		return ""
	}
	c.send(ctx, EnvelopeHeader{Trace: c.dynamicSamplingContext(pc)}, item)
	return in.ID
}

// CaptureSession sends a release health session update.
func (c *Client) CaptureSession(ctx context.Context, session *Session) {
	if session == nil {
		return
	}
	s := *session
	if s.SID == "" {
		s.SID = newHexUUID()
	}
	if s.Attrs.Release == "" {
		s.Attrs.Release = c.options.Release
	}
	if s.Attrs.Environment == "" {
		s.Attrs.Environment = c.options.Environment
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	item, err := NewSessionItem(&s)
	if err != nil {
		c.drop(dropReasonEncodeError, err)
		return
	}
	c.send(ctx, EnvelopeHeader{}, item)
}

// CaptureEvent runs event through the scopes bound to ctx, the installed
// integrations and BeforeSend, and sends what is left. It returns nil when
// the event was dropped.
func (c *Client) CaptureEvent(ctx context.Context, event *Event, hint *EventHint) *EventID {
	if event == nil {
		return nil
	}
	if hint == nil {
		hint = &EventHint{}
	}
	isTransaction := event.Type == transactionType

	if !isTransaction && c.options.SampleRate < 1 && ids.float64() >= c.options.SampleRate {
		logger.debug("event dropped by sample rate")
		envelopesDropped.WithLabelValues(dropReasonSampleRate).Inc()
		return nil
	}

	c.prepareEvent(ctx, event)
	sc := scopesFromContext(ctx)
	data := mergeScopeData(c.options.MaxFlags, globalScope, sc.isolation, sc.current)
	if event = data.applyToEvent(event, hint, c.maxBreadcrumbs()); event == nil {
		logger.debug("event dropped by a scope event processor")
		envelopesDropped.WithLabelValues(dropReasonEventProcessor).Inc()
		return nil
	}
	for _, process := range c.processors {
		if event = process(event, hint); event == nil {
			logger.debug("event dropped by an integration")
			envelopesDropped.WithLabelValues(dropReasonEventProcessor).Inc()
			return nil
		}
	}

	beforeSend := c.options.BeforeSend
	if isTransaction {
		beforeSend = c.options.BeforeSendTransaction
	}
	if beforeSend != nil {
		if event = beforeSend(event, hint); event == nil {
			logger.debug("event dropped by BeforeSend")
			envelopesDropped.WithLabelValues(dropReasonBeforeSend).Inc()
			return nil
		}
	}

	item, err := NewEventItem(event)
	if err != nil {
		c.drop(dropReasonEncodeError, err)
		return nil
	}
	items := []*EnvelopeItem{item}
	if !isTransaction {
		for _, a := range data.attachments {
			items = append(items, NewAttachmentItem(a))
		}
	}

	header := EnvelopeHeader{EventID: event.EventID, Trace: event.dynamicSamplingContext}
	c.send(ctx, header, items...)
	id := event.EventID
	return &id
}

// prepareEvent fills the fields the client owns and ties the event to the
// active span or, without one, the current scope's trace.
func (c *Client) prepareEvent(ctx context.Context, event *Event) {
	if event.EventID == "" {
		event.EventID = NewEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" && event.Type != transactionType {
		event.Level = LevelInfo
	}
	if event.Platform == "" {
		event.Platform = platformGo
	}
	if event.Release == "" {
		event.Release = c.options.Release
	}
	if event.Environment == "" {
		event.Environment = c.options.Environment
	}
	if event.ServerName == "" {
		event.ServerName = c.options.ServerName
		if event.ServerName == "" && c.options.SendDefaultPII {
			event.ServerName, _ = os.Hostname()
		}
	}
	event.Sdk = &c.sdk
	if event.Contexts == nil {
		event.Contexts = make(map[string]Context)
	}

	if event.dynamicSamplingContext != nil {
		return
	}
	if span := SpanFromContext(ctx); span != nil {
		if _, ok := event.Contexts[traceContextKey]; !ok {
			event.Contexts[traceContextKey] = span.traceContext()
		}
		dsc := span.DynamicSamplingContext()
		event.dynamicSamplingContext = &dsc
		return
	}
	event.dynamicSamplingContext = c.dynamicSamplingContext(CurrentScope(ctx).PropagationContext())
}

// dynamicSamplingContext returns the sampling context of pc, completing it
// from the client when it was not frozen upstream.
func (c *Client) dynamicSamplingContext(pc PropagationContext) *DynamicSamplingContext {
	dsc := pc.DynamicSamplingContext
	if !dsc.Frozen {
		dsc = DynamicSamplingContext{}
		dsc.Set(DSCTraceID, pc.TraceID.String())
		fillClientDynamicSamplingContext(&dsc, c)
	}
	return &dsc
}

func (c *Client) send(ctx context.Context, header EnvelopeHeader, items ...*EnvelopeItem) {
	header.SentAt = time.Now().UTC()
	header.Sdk = &c.sdk
	if c.dsn != nil {
		header.Dsn = c.dsn.String()
	}
	envelope := NewEnvelope(header, items...)
	if err := envelope.Validate(); err != nil {
		c.drop(dropReasonEncodeError, err)
		return
	}
	c.transport.Send(ctx, envelope)
}

func (c *Client) drop(reason string, err error) {
	logger.error("dropping envelope:", err)
	envelopesDropped.WithLabelValues(reason).Inc()
}

// Flush waits until buffered envelopes are sent or timeout passes. It
// reports whether the queue was drained.
func (c *Client) Flush(timeout time.Duration) bool { return c.transport.Flush(timeout) }

// Close flushes and stops the transport. Later captures are discarded.
func (c *Client) Close() { c.transport.Close() }

func newHexUUID() string { return string(NewEventID()) }
