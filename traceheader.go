package sentry

import (
	"fmt"
	"regexp"
)

// SentryTraceHeader is the name of the compact trace propagation header.
const SentryTraceHeader = "sentry-trace"

var sentryTracePattern = regexp.MustCompile(`^[ \t]*([0-9a-f]{32})-([0-9a-f]{16})(?:-([01]))?[ \t]*$`)

// SentryTrace is the decoded form of trace_id-span_id[-sampled].
type SentryTrace struct {
	TraceID TraceID
	SpanID  SpanID
	Sampled Sampled
}

// ParseSentryTrace decodes a sentry-trace header. Any deviation from the
// format yields ErrMalformedSentryTrace.
func ParseSentryTrace(header string) (SentryTrace, error) {
	match := sentryTracePattern.FindStringSubmatch(header)
	if match == nil {
		return SentryTrace{}, fmt.Errorf("%w: %q", ErrMalformedSentryTrace, header)
	}
	traceID, err := TraceIDFromHex(match[1])
	if err != nil {
		return SentryTrace{}, fmt.Errorf("%w: %v", ErrMalformedSentryTrace, err)
	}
	spanID, err := SpanIDFromHex(match[2])
	if err != nil {
		return SentryTrace{}, fmt.Errorf("%w: %v", ErrMalformedSentryTrace, err)
	}
	st := SentryTrace{TraceID: traceID, SpanID: spanID}
	switch match[3] {
	case "1":
		st.Sampled = SampledTrue
	case "0":
		st.Sampled = SampledFalse
	}
	return st, nil
}

// String encodes the header. The sampled flag is left out while undecided.
func (st SentryTrace) String() string {
	switch st.Sampled {
	case SampledTrue:
		return st.TraceID.String() + "-" + st.SpanID.String() + "-1"
	case SampledFalse:
		return st.TraceID.String() + "-" + st.SpanID.String() + "-0"
	default:
		return st.TraceID.String() + "-" + st.SpanID.String()
	}
}
