package sentry

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpanInheritsSamplingDecision(t *testing.T) {
	for _, rate := range []float64{0, 1} {
		client, _ := newTestClient(t, ClientOptions{TracesSampleRate: rate})
		ctx := withClient(client)

		root := StartSpan(ctx, "root")
		child := root.StartChild("child")
		grandchild := StartSpan(child.Context(), "grandchild")

		assert.Equal(t, sampledFromBool(rate == 1), root.Sampled)
		assert.Equal(t, root.Sampled, child.Sampled)
		assert.Equal(t, root.Sampled, grandchild.Sampled)
		assert.Equal(t, root.TraceID, grandchild.TraceID)
		assert.Equal(t, child.SpanID, grandchild.ParentSpanID)
		assert.True(t, root.IsTransaction())
		assert.False(t, child.IsTransaction())
	}
}

func TestRootSpanReusesUpstreamDecision(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{TracesSampleRate: 0})
	ctx := ContinueTrace(withClient(client),
		"12312012123120121231201212312012-1121201211212012-1",
		"sentry-trace_id=12312012123120121231201212312012,sentry-sample_rate=0.5,sentry-sample_rand=0.25")

	span := StartSpan(ctx, "http.server")
	assert.Equal(t, SampledTrue, span.Sampled)
	assert.Equal(t, "12312012123120121231201212312012", span.TraceID.String())
	assert.Equal(t, "1121201211212012", span.ParentSpanID.String())

	dsc := span.DynamicSamplingContext()
	assert.Equal(t, "sentry-trace_id=12312012123120121231201212312012,sentry-sample_rate=0.5,sentry-sample_rand=0.25", dsc.String())
}

func TestRootSpanUsesPropagatedSampleRand(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{TracesSampleRate: 0.5})
	ctx := ContinueTrace(withClient(client),
		"12312012123120121231201212312012-1121201211212012",
		"sentry-sample_rand=0.1")
	assert.Equal(t, SampledTrue, StartSpan(ctx, "op").Sampled)

	ctx = ContinueTrace(withClient(client),
		"12312012123120121231201212312012-1121201211212012",
		"sentry-sample_rand=0.9")
	assert.Equal(t, SampledFalse, StartSpan(ctx, "op").Sampled)
}

func TestTracesSampler(t *testing.T) {
	var seen SamplingContext
	client, _ := newTestClient(t, ClientOptions{
		TracesSampler: func(ctx SamplingContext) float64 {
			seen = ctx
			if ctx.Span.Name == "keep" {
				return 1
			}
			return 0
		},
	})
	ctx := withClient(client)

	assert.Equal(t, SampledTrue, StartSpan(ctx, "op", WithTransactionName("keep")).Sampled)
	assert.Equal(t, "keep", seen.Span.Name)
	assert.Equal(t, SampledFalse, StartSpan(ctx, "op", WithTransactionName("drop")).Sampled)
	assert.Equal(t, SampledTrue, StartSpan(ctx, "op", WithSpanSampled(SampledTrue), WithTransactionName("drop")).Sampled)
}

func TestForcedSamplingSetsRate(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{TracesSampleRate: 0.5})
	ctx := withClient(client)

	forced := StartSpan(ctx, "op", WithSpanSampled(SampledTrue)).DynamicSamplingContext()
	rate, _ := forced.Get(DSCSampleRate)
	sampled, _ := forced.Get(DSCSampled)
	assert.Equal(t, "1", rate)
	assert.Equal(t, "true", sampled)

	dropped := StartSpan(ctx, "op", WithSpanSampled(SampledFalse)).DynamicSamplingContext()
	rate, _ = dropped.Get(DSCSampleRate)
	sampled, _ = dropped.Get(DSCSampled)
	assert.Equal(t, "0", rate)
	assert.Equal(t, "false", sampled)
}

func TestSpanWithoutClientIsNotSampled(t *testing.T) {
	span := StartSpan(ForkIsolationScope(context.Background()), "op")
	assert.Equal(t, SampledFalse, span.Sampled)
	span.Finish()
}

func TestSpanDynamicSamplingContextIsFrozen(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{
		TracesSampleRate: 1,
		Release:          "1.0.0",
		Environment:      "prod",
	})
	root := StartSpan(withClient(client), "op", WithTransactionName("checkout"))
	child := root.StartChild("db")

	dsc := child.DynamicSamplingContext()
	assert.True(t, dsc.Frozen)
	assert.Equal(t, []string{DSCTraceID, DSCPublicKey, DSCRelease, DSCEnvironment, DSCTransaction, DSCSampleRate, DSCSampled, DSCSampleRand}, dsc.Keys())
	pk, _ := dsc.Get(DSCPublicKey)
	assert.Equal(t, "public", pk)
	sampled, _ := dsc.Get(DSCSampled)
	assert.Equal(t, "true", sampled)
	rnd, _ := dsc.Get(DSCSampleRand)
	f, err := strconv.ParseFloat(rnd, 64)
	require.NoError(t, err)
	assert.Less(t, f, 1.0)

	root.Name = "renamed"
	assert.Equal(t, dsc.String(), root.ToBaggage())
}

func TestSpanURLSourceIsLeftOutOfDynamicSamplingContext(t *testing.T) {
	client, _ := newTestClient(t, ClientOptions{TracesSampleRate: 1})
	span := StartSpan(withClient(client), "http.server",
		WithTransactionName("GET /users/42"),
		WithTransactionSource(SourceURL))
	_, ok := span.DynamicSamplingContext().Get(DSCTransaction)
	assert.False(t, ok)
}

func TestFinishedTransactionIsSent(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 1})
	ctx := withClient(client)

	root := StartSpan(ctx, "task", WithTransactionName("nightly"))
	root.SetTag("job", "nightly")
	child := root.StartChild("db.query", WithDescription("SELECT 1"))
	child.SetData("rows", 1)
	child.Finish()
	root.Finish()
	root.Finish()

	envelopes := transport.sent()
	require.Len(t, envelopes, 1)
	require.NotNil(t, envelopes[0].Header.Trace)
	assert.Equal(t, root.DynamicSamplingContext().String(), envelopes[0].Header.Trace.String())

	events := transport.events(t)
	require.Len(t, events, 1)
	tx := events[0]
	assert.Equal(t, transactionType, tx.Type)
	assert.Equal(t, "nightly", tx.Transaction)
	assert.Equal(t, "nightly", tx.Tags["job"])
	assert.Equal(t, root.TraceID.String(), tx.Contexts[traceContextKey]["trace_id"])
	assert.Equal(t, root.SpanID.String(), tx.Contexts[traceContextKey]["span_id"])
	require.Len(t, tx.Spans, 1)
	assert.Equal(t, "db.query", tx.Spans[0].Op)
	assert.Equal(t, "SELECT 1", tx.Spans[0].Description)
	assert.Equal(t, root.SpanID, tx.Spans[0].ParentSpanID)
	assert.Equal(t, SpanStatusOK, tx.Spans[0].Status)
}

func TestUnsampledTransactionIsNotSent(t *testing.T) {
	client, transport := newTestClient(t, ClientOptions{TracesSampleRate: 0})
	root := StartSpan(withClient(client), "op")
	root.StartChild("child").Finish()
	root.Finish()
	assert.Empty(t, transport.sent())
}

func TestSpanJSON(t *testing.T) {
	span := &Span{
		TraceID:      NewTraceID(),
		SpanID:       NewSpanID(),
		ParentSpanID: NewSpanID(),
		Op:           "db",
		Status:       SpanStatusNotFound,
		Tags:         map[string]string{"a": "b"},
		StartTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
	}
	b, err := json.Marshal(span)
	require.NoError(t, err)

	var back Span
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, span.TraceID, back.TraceID)
	assert.Equal(t, span.ParentSpanID, back.ParentSpanID)
	assert.Equal(t, span.Status, back.Status)
	assert.True(t, span.EndTime.Equal(back.EndTime))

	span.ParentSpanID = SpanID{}
	span.EndTime = time.Time{}
	b, err = json.Marshal(span)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "parent_span_id")
	assert.NotContains(t, string(b), `"timestamp"`)
}
