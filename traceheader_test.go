package sentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSentryTrace(t *testing.T) {
	tests := []struct {
		header  string
		sampled Sampled
	}{
		{"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-1", SampledTrue},
		{"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-0", SampledFalse},
		{"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa", SampledUndecided},
		{"  86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-1\t", SampledTrue},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			st, err := ParseSentryTrace(tt.header)
			require.NoError(t, err)
			assert.Equal(t, "86f39e84263a4de99c326acab3bfe3bd", st.TraceID.String())
			assert.Equal(t, "aaaaaaaaaaaaaaaa", st.SpanID.String())
			assert.Equal(t, tt.sampled, st.Sampled)
		})
	}
}

func TestParseSentryTraceRejectsMalformed(t *testing.T) {
	for _, header := range []string{
		"",
		"86f39e84263a4de99c326acab3bfe3b-aaaaaaaaaaaaaaaa-1",
		"86f39e84263a4de99c326acab3bfe3bdd-aaaaaaaaaaaaaaaa-1",
		"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaa-1",
		"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-2",
		"86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-",
		"86F39E84263A4DE99C326ACAB3BFE3BD-aaaaaaaaaaaaaaaa-1",
		"86f39e84263a4de99c326acab3bfe3bd_aaaaaaaaaaaaaaaa",
		"not a trace header",
	} {
		_, err := ParseSentryTrace(header)
		assert.ErrorIs(t, err, ErrMalformedSentryTrace, header)
	}
}

func TestSentryTraceString(t *testing.T) {
	st, err := ParseSentryTrace("86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-1")
	require.NoError(t, err)
	assert.Equal(t, "86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-1", st.String())

	st.Sampled = SampledFalse
	assert.Equal(t, "86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa-0", st.String())

	st.Sampled = SampledUndecided
	assert.Equal(t, "86f39e84263a4de99c326acab3bfe3bd-aaaaaaaaaaaaaaaa", st.String())

	again, err := ParseSentryTrace(st.String())
	require.NoError(t, err)
	assert.Equal(t, st, again)
}
