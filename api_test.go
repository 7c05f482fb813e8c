package sentry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initGlobal binds a recording client to the global scope for the duration
// of the test.
func initGlobal(t *testing.T, options ClientOptions) *recordingTransport {
	t.Helper()
	transport := &recordingTransport{}
	options.Dsn = "https://public@example.com/1"
	options.Transport = transport
	require.NoError(t, Init(options))
	t.Cleanup(func() { globalScope.SetClient(nil) })
	return transport
}

func TestInitBindsGlobalClient(t *testing.T) {
	transport := initGlobal(t, ClientOptions{Release: "global"})
	ctx := ForkIsolationScope(context.Background())

	require.NotNil(t, ClientFromContext(ctx))
	require.NotNil(t, CaptureEvent(ctx, &Event{Message: "via global"}))
	assert.Equal(t, "global", transport.events(t)[0].Release)
	assert.True(t, Flush(ctx, time.Second))
}

func TestInitRejectsBadDsn(t *testing.T) {
	assert.ErrorIs(t, Init(ClientOptions{Dsn: "https://example.com/1"}), ErrInvalidDsn)
}

func TestCaptureWithoutClient(t *testing.T) {
	ctx := ForkIsolationScope(context.Background())
	assert.Nil(t, CaptureMessage(ctx, "lost"))
	assert.Nil(t, CaptureException(ctx, assert.AnError))
	assert.Empty(t, CaptureCheckIn(ctx, &CheckIn{MonitorSlug: "m"}))
	assert.True(t, Flush(ctx, time.Millisecond))
}

func TestScopeSettersWriteToIsolationScope(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{})
	ctx := withClient(client)

	SetTags(ctx, map[string]string{"a": "1", "b": "2"})
	SetExtra(ctx, "attempt", 3)
	SetLevel(ctx, LevelWarning)
	AddFeatureFlag(ctx, "new-checkout", true)

	// A forked current scope still sees isolation data.
	WithScope(ctx, func(inner context.Context, _ *Scope) {
		CaptureMessage(inner, "from inner")
	})

	event := transport.events(t)[0]
	assert.Equal(t, "2", event.Tags["b"])
	assert.EqualValues(t, 3, event.Extra["attempt"])
	assert.Equal(t, LevelWarning, event.Level)
	assert.NotNil(t, event.Contexts[flagsContextKey])
	assert.NotContains(t, CurrentScope(ctx).ApplyToEvent(NewEvent(), nil).Tags, "a")
}

func TestTraceHeaders(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{Release: "r"})
	ctx := withClient(client)

	sentryTrace, dsc := TraceHeaders(ctx)
	pc := CurrentScope(ctx).PropagationContext()
	assert.Equal(t, pc.SentryTrace().String(), sentryTrace)
	assert.Equal(t, "sentry-trace_id="+pc.TraceID.String()+",sentry-public_key=public,sentry-release=r", dsc.String())

	bare := ForkIsolationScope(context.Background())
	_, dsc = TraceHeaders(bare)
	assert.Equal(t, []string{DSCTraceID}, dsc.Keys())
}
