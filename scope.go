package sentry

import (
	"sync"
	"time"
)

const (
	defaultMaxBreadcrumbs = 100
	traceContextKey       = "trace"
)

// EventHint carries the raw inputs an event was built from, for use by
// event processors and BeforeSend.
type EventHint struct {
	OriginalException  error
	RecoveredException interface{}
	Data               interface{}
}

// EventProcessor transforms an event before it is sent. Returning nil drops it.
type EventProcessor func(event *Event, hint *EventHint) *Event

type scopeKind int

const (
	scopeKindCurrent scopeKind = iota
	scopeKindIsolation
	scopeKindGlobal
)

// Scope holds contextual data applied to every event captured while it is
// active. Scopes form a chain: the global scope for the process, one
// isolation scope per unit of work, and current scopes nested inside it.
// Request handlers never write to a shared scope; they fork their own.
type Scope struct {
	mu   sync.RWMutex
	kind scopeKind

	tags            map[string]string
	extra           map[string]interface{}
	contexts        map[string]Context
	user            User
	level           Level
	fingerprint     []string
	transactionName string
	request         *Request
	breadcrumbs     []*Breadcrumb
	attachments     []*Attachment
	flags           *flagBuffer
	eventProcessors []EventProcessor

	propagationContext PropagationContext
	client             *Client
}

// NewScope returns an empty current scope with a fresh propagation context.
func NewScope() *Scope { return newScope(scopeKindCurrent) }

func newScope(kind scopeKind) *Scope {
	return &Scope{
		kind:               kind,
		tags:               make(map[string]string),
		extra:              make(map[string]interface{}),
		contexts:           make(map[string]Context),
		flags:              newFlagBuffer(defaultMaxFlags),
		propagationContext: NewPropagationContext(),
	}
}

// IsIsolationScope reports whether the scope bounds a unit of work.
func (s *Scope) IsIsolationScope() bool { return s.kind == scopeKindIsolation }

// Clone returns a copy of the scope. Data is deep-copied so writes to the
// clone never reach s; the client is shared and the propagation context is
// carried over, so the clone stays on the same trace.
func (s *Scope) Clone() *Scope { return s.fork(s.kind) }

func (s *Scope) fork(kind scopeKind) *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &Scope{
		kind:               kind,
		tags:               make(map[string]string, len(s.tags)),
		extra:              make(map[string]interface{}, len(s.extra)),
		contexts:           make(map[string]Context, len(s.contexts)),
		user:               s.user.clone(),
		level:              s.level,
		fingerprint:        append([]string(nil), s.fingerprint...),
		transactionName:    s.transactionName,
		request:            s.request,
		breadcrumbs:        append([]*Breadcrumb(nil), s.breadcrumbs...),
		attachments:        append([]*Attachment(nil), s.attachments...),
		flags:              s.flags.clone(),
		eventProcessors:    append([]EventProcessor(nil), s.eventProcessors...),
		propagationContext: s.propagationContext.clone(),
		client:             s.client,
	}
	for k, v := range s.tags {
		c.tags[k] = v
	}
	for k, v := range s.extra {
		c.extra[k] = v
	}
	for k, v := range s.contexts {
		c.contexts[k] = cloneContext(v)
	}
	return c
}

func cloneContext(c Context) Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

func (s *Scope) SetTags(tags map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range tags {
		s.tags[k] = v
	}
}

func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, key)
}

func (s *Scope) SetExtra(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

func (s *Scope) RemoveExtra(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.extra, key)
}

// SetUser replaces the user. An empty User clears it.
func (s *Scope) SetUser(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user.clone()
}

// SetContext stores a named context. The trace and flags keys are owned by
// the SDK and cannot be set this way.
func (s *Scope) SetContext(key string, value Context) {
	if key == traceContextKey || key == flagsContextKey {
		logger.warn("ignoring reserved context key:", key)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[key] = cloneContext(value)
}

func (s *Scope) RemoveContext(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, key)
}

func (s *Scope) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

func (s *Scope) SetFingerprint(fingerprint []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = append([]string(nil), fingerprint...)
}

// SetTransaction names the transaction reported on error events.
func (s *Scope) SetTransaction(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionName = name
}

func (s *Scope) SetRequest(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.request = r
}

// AddBreadcrumb appends b and evicts the oldest breadcrumbs beyond limit.
// A non-positive limit discards the breadcrumb.
func (s *Scope) AddBreadcrumb(b *Breadcrumb, limit int) {
	if limit <= 0 || b == nil {
		return
	}
	crumb := *b
	if crumb.Timestamp.IsZero() {
		crumb.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = append(s.breadcrumbs, &crumb)
	if n := len(s.breadcrumbs); n > limit {
		s.breadcrumbs = s.breadcrumbs[n-limit:]
	}
}

func (s *Scope) ClearBreadcrumbs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breadcrumbs = nil
}

func (s *Scope) AddAttachment(a *Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, a)
}

func (s *Scope) ClearAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = nil
}

// AddFeatureFlag records a flag evaluation for contexts.flags.
func (s *Scope) AddFeatureFlag(flag string, result bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.set(flag, result)
}

func (s *Scope) AddEventProcessor(p EventProcessor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventProcessors = append(s.eventProcessors, p)
}

func (s *Scope) SetPropagationContext(pc PropagationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propagationContext = pc.clone()
}

func (s *Scope) PropagationContext() PropagationContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.propagationContext.clone()
}

// SetClient binds a client. The client is shared, never copied.
func (s *Scope) SetClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

func (s *Scope) Client() *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Clear resets all data except the client and the propagation context.
func (s *Scope) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = make(map[string]string)
	s.extra = make(map[string]interface{})
	s.contexts = make(map[string]Context)
	s.user = User{}
	s.level = ""
	s.fingerprint = nil
	s.transactionName = ""
	s.request = nil
	s.breadcrumbs = nil
	s.attachments = nil
	s.flags = newFlagBuffer(s.flags.capacity)
	s.eventProcessors = nil
}

// ApplyToEvent merges this scope alone into event. Event fields win over
// scope fields.
func (s *Scope) ApplyToEvent(event *Event, hint *EventHint) *Event {
	return s.data().applyToEvent(event, hint, defaultMaxBreadcrumbs)
}

// scopeData is a detached snapshot of one or more merged scopes.
type scopeData struct {
	tags               map[string]string
	extra              map[string]interface{}
	contexts           map[string]Context
	user               User
	level              Level
	fingerprint        []string
	transactionName    string
	request            *Request
	breadcrumbs        []*Breadcrumb
	attachments        []*Attachment
	flags              *flagBuffer
	eventProcessors    []EventProcessor
	propagationContext PropagationContext
}

func (s *Scope) data() scopeData {
	c := s.fork(s.kind)
	return scopeData{
		tags:               c.tags,
		extra:              c.extra,
		contexts:           c.contexts,
		user:               c.user,
		level:              c.level,
		fingerprint:        c.fingerprint,
		transactionName:    c.transactionName,
		request:            c.request,
		breadcrumbs:        c.breadcrumbs,
		attachments:        c.attachments,
		flags:              c.flags,
		eventProcessors:    c.eventProcessors,
		propagationContext: c.propagationContext,
	}
}

// mergeScopeData folds scopes from least to most specific: later scopes win
// on key collisions, breadcrumbs and processors are concatenated, and the
// last scope's propagation context is kept. At most maxFlags feature flags
// survive the merge.
func mergeScopeData(maxFlags int, scopes ...*Scope) scopeData {
	merged := scopeData{
		tags:     make(map[string]string),
		extra:    make(map[string]interface{}),
		contexts: make(map[string]Context),
		flags:    newFlagBuffer(maxFlags),
	}
	for _, s := range scopes {
		if s == nil {
			continue
		}
		d := s.data()
		for k, v := range d.tags {
			merged.tags[k] = v
		}
		for k, v := range d.extra {
			merged.extra[k] = v
		}
		for k, v := range d.contexts {
			merged.contexts[k] = v
		}
		if !d.user.IsEmpty() {
			merged.user = d.user
		}
		if d.level != "" {
			merged.level = d.level
		}
		if len(d.fingerprint) > 0 {
			merged.fingerprint = d.fingerprint
		}
		if d.transactionName != "" {
			merged.transactionName = d.transactionName
		}
		if d.request != nil {
			merged.request = d.request
		}
		merged.breadcrumbs = append(merged.breadcrumbs, d.breadcrumbs...)
		merged.attachments = append(merged.attachments, d.attachments...)
		merged.flags.merge(d.flags)
		merged.eventProcessors = append(merged.eventProcessors, d.eventProcessors...)
		merged.propagationContext = d.propagationContext
	}
	return merged
}

func (d scopeData) applyToEvent(event *Event, hint *EventHint, maxBreadcrumbs int) *Event {
	if event.Tags == nil {
		event.Tags = make(map[string]string, len(d.tags))
	}
	for k, v := range d.tags {
		if _, ok := event.Tags[k]; !ok {
			event.Tags[k] = v
		}
	}
	if event.Extra == nil {
		event.Extra = make(map[string]interface{}, len(d.extra))
	}
	for k, v := range d.extra {
		if _, ok := event.Extra[k]; !ok {
			event.Extra[k] = v
		}
	}
	if event.Contexts == nil {
		event.Contexts = make(map[string]Context, len(d.contexts))
	}
	for k, v := range d.contexts {
		if _, ok := event.Contexts[k]; !ok {
			event.Contexts[k] = cloneContext(v)
		}
	}
	if _, ok := event.Contexts[traceContextKey]; !ok {
		event.Contexts[traceContextKey] = d.propagationContext.traceContext()
	}
	if d.flags.len() > 0 {
		event.Contexts[flagsContextKey] = Context{"values": d.flags.values()}
	}
	if event.User == nil && !d.user.IsEmpty() {
		u := d.user.clone()
		event.User = &u
	}
	if d.level != "" {
		event.Level = d.level
	}
	if len(d.fingerprint) > 0 {
		event.Fingerprint = append(event.Fingerprint, d.fingerprint...)
	}
	if d.transactionName != "" && event.Type != transactionType {
		event.Transaction = d.transactionName
	}
	if event.Request == nil && d.request != nil {
		event.Request = d.request
	}
	if event.Type != transactionType && maxBreadcrumbs > 0 {
		event.Breadcrumbs = append(event.Breadcrumbs, d.breadcrumbs...)
		if n := len(event.Breadcrumbs); n > maxBreadcrumbs {
			event.Breadcrumbs = event.Breadcrumbs[n-maxBreadcrumbs:]
		}
	}
	for _, process := range d.eventProcessors {
		if event = process(event, hint); event == nil {
			return nil
		}
	}
	return event
}
