package sentry

import (
	"context"
	"time"
)

// Init creates a client and binds it to the global scope, so every context
// resolves it unless a narrower scope binds another client.
func Init(options ClientOptions) error {
	client, err := NewClient(options)
	if err != nil {
		return err
	}
	globalScope.SetClient(client)
	return nil
}

// CaptureEvent captures event with the client and scopes bound to ctx.
func CaptureEvent(ctx context.Context, event *Event) *EventID {
	if client := ClientFromContext(ctx); client != nil {
		return client.CaptureEvent(ctx, event, nil)
	}
	return nil
}

func CaptureMessage(ctx context.Context, message string) *EventID {
	if client := ClientFromContext(ctx); client != nil {
		return client.CaptureMessage(ctx, message)
	}
	return nil
}

func CaptureException(ctx context.Context, err error) *EventID {
	if client := ClientFromContext(ctx); client != nil {
		return client.CaptureException(ctx, err)
	}
	return nil
}

func CaptureCheckIn(ctx context.Context, checkIn *CheckIn) string {
	if client := ClientFromContext(ctx); client != nil {
		return client.CaptureCheckIn(ctx, checkIn)
	}
	return ""
}

// AddBreadcrumb records b on the isolation scope of ctx, so it shows up on
// every later event of the same unit of work.
func AddBreadcrumb(ctx context.Context, b *Breadcrumb) {
	limit := defaultMaxBreadcrumbs
	if client := ClientFromContext(ctx); client != nil {
		limit = client.maxBreadcrumbs()
		if before := client.options.BeforeBreadcrumb; before != nil {
			if b = before(b); b == nil {
				return
			}
		}
	}
	IsolationScope(ctx).AddBreadcrumb(b, limit)
}

// The setters below write to the isolation scope of ctx.

func SetTag(ctx context.Context, key, value string) { IsolationScope(ctx).SetTag(key, value) }

func SetTags(ctx context.Context, tags map[string]string) { IsolationScope(ctx).SetTags(tags) }

func SetExtra(ctx context.Context, key string, value interface{}) {
	IsolationScope(ctx).SetExtra(key, value)
}

func SetUser(ctx context.Context, user User) { IsolationScope(ctx).SetUser(user) }

func SetContext(ctx context.Context, key string, value Context) {
	IsolationScope(ctx).SetContext(key, value)
}

func SetLevel(ctx context.Context, level Level) { IsolationScope(ctx).SetLevel(level) }

// AddFeatureFlag records a flag evaluation on the isolation scope.
func AddFeatureFlag(ctx context.Context, flag string, result bool) {
	IsolationScope(ctx).AddFeatureFlag(flag, result)
}

// TraceHeaders returns the sentry-trace and baggage values for an outgoing
// request made from ctx. Inside a span they describe the span; otherwise
// they describe the current scope's propagation context.
func TraceHeaders(ctx context.Context) (sentryTrace string, dsc DynamicSamplingContext) {
	if span := SpanFromContext(ctx); span != nil {
		return span.ToSentryTrace().String(), span.DynamicSamplingContext()
	}
	pc := CurrentScope(ctx).PropagationContext()
	if client := ClientFromContext(ctx); client != nil {
		return pc.SentryTrace().String(), *client.dynamicSamplingContext(pc)
	}
	if !pc.DynamicSamplingContext.Frozen {
		pc.DynamicSamplingContext = DynamicSamplingContext{}
		pc.DynamicSamplingContext.Set(DSCTraceID, pc.TraceID.String())
	}
	return pc.SentryTrace().String(), pc.DynamicSamplingContext
}

// Flush waits for the client bound to ctx to send buffered envelopes.
func Flush(ctx context.Context, timeout time.Duration) bool {
	if client := ClientFromContext(ctx); client != nil {
		return client.Flush(timeout)
	}
	return true
}
