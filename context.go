package sentry

import (
	"context"
)

type scopesKey struct{}

// scopes is the pair of scopes bound to a context. The global scope is
// process-wide and never stored.
type scopes struct {
	isolation *Scope
	current   *Scope
}

var (
	globalScope = newScope(scopeKindGlobal)

	// The default scopes answer for contexts that were never forked. Request
	// handling code must fork before writing, see ForkIsolationScope.
	defaultIsolationScope, defaultCurrentScope = newDefaultScopes()
)

func newDefaultScopes() (*Scope, *Scope) {
	isolation := newScope(scopeKindIsolation)
	return isolation, isolation.fork(scopeKindCurrent)
}

// GlobalScope returns the process-wide scope applied to every event.
func GlobalScope() *Scope { return globalScope }

func scopesFromContext(ctx context.Context) scopes {
	if ctx != nil {
		if sc, ok := ctx.Value(scopesKey{}).(scopes); ok {
			return sc
		}
	}
	return scopes{isolation: defaultIsolationScope, current: defaultCurrentScope}
}

func contextWithScopes(ctx context.Context, sc scopes) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopesKey{}, sc)
}

// IsolationScope returns the isolation scope bound to ctx.
func IsolationScope(ctx context.Context) *Scope { return scopesFromContext(ctx).isolation }

// CurrentScope returns the current scope bound to ctx.
func CurrentScope(ctx context.Context) *Scope { return scopesFromContext(ctx).current }

// ForkIsolationScope starts a new unit of work: the returned context carries
// clones of both the isolation and the current scope of ctx. Everything
// derived from the returned context sees the clones; ctx is unaffected.
func ForkIsolationScope(ctx context.Context) context.Context {
	sc := scopesFromContext(ctx)
	return contextWithScopes(ctx, scopes{
		isolation: sc.isolation.fork(scopeKindIsolation),
		current:   sc.current.fork(scopeKindCurrent),
	})
}

// ContextWithIsolationScope binds an existing isolation scope, for work that
// resumes a unit started elsewhere such as a long-lived connection.
func ContextWithIsolationScope(ctx context.Context, isolation *Scope) context.Context {
	sc := scopesFromContext(ctx)
	return contextWithScopes(ctx, scopes{
		isolation: isolation,
		current:   sc.current.fork(scopeKindCurrent),
	})
}

// ForkScope returns a context whose current scope is a clone of the current
// scope of ctx. The isolation scope is shared.
func ForkScope(ctx context.Context) context.Context {
	sc := scopesFromContext(ctx)
	return contextWithScopes(ctx, scopes{
		isolation: sc.isolation,
		current:   sc.current.fork(scopeKindCurrent),
	})
}

// WithIsolationScope runs fn with a forked isolation scope. Goroutines started
// by fn with the context it receives stay in the same unit of work.
func WithIsolationScope(ctx context.Context, fn func(ctx context.Context, scope *Scope)) {
	ctx = ForkIsolationScope(ctx)
	fn(ctx, IsolationScope(ctx))
}

// WithScope runs fn with a forked current scope. Writes inside fn are local
// to the block.
func WithScope(ctx context.Context, fn func(ctx context.Context, scope *Scope)) {
	ctx = ForkScope(ctx)
	fn(ctx, CurrentScope(ctx))
}

// ContinueTrace starts a unit of work that continues the trace carried by
// inbound sentry-trace and baggage headers. Malformed or missing headers
// start a new trace.
func ContinueTrace(ctx context.Context, sentryTrace, baggage string) context.Context {
	ctx = ForkIsolationScope(ctx)
	pc := PropagationContextFromHeaders(sentryTrace, baggage)
	IsolationScope(ctx).SetPropagationContext(pc)
	CurrentScope(ctx).SetPropagationContext(pc)
	return ctx
}

// StartNewTrace returns a context whose current scope begins a fresh trace.
func StartNewTrace(ctx context.Context) context.Context {
	ctx = ForkScope(ctx)
	CurrentScope(ctx).SetPropagationContext(NewPropagationContext())
	return ctx
}

// ClientFromContext resolves the client bound to the current, isolation or
// global scope, in that order.
func ClientFromContext(ctx context.Context) *Client {
	sc := scopesFromContext(ctx)
	for _, s := range []*Scope{sc.current, sc.isolation, globalScope} {
		if c := s.Client(); c != nil {
			return c
		}
	}
	return nil
}
