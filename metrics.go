package sentry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reasons attached to sentry_envelopes_dropped_total.
const (
	dropReasonSampleRate     = "sample_rate"
	dropReasonEventProcessor = "event_processor"
	dropReasonBeforeSend     = "before_send"
	dropReasonEncodeError    = "encode_error"
	dropReasonQueueOverflow  = "queue_overflow"
	dropReasonSendError      = "send_error"
	dropReasonClosed         = "transport_closed"
)

var (
	envelopesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentry",
		Name:      "envelopes_sent_total",
		Help:      "Envelopes accepted by the upstream endpoint.",
	})
	envelopesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentry",
		Name:      "envelopes_dropped_total",
		Help:      "Events or envelopes dropped before reaching the upstream endpoint.",
	}, []string{"reason"})
	traceHeaderParseFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentry",
		Name:      "trace_header_parse_failures_total",
		Help:      "Inbound sentry-trace headers that could not be parsed.",
	})
	baggageMembersSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentry",
		Name:      "baggage_members_skipped_total",
		Help:      "Malformed baggage list-members ignored while parsing.",
	})
)

func init() {
	prometheus.MustRegister(envelopesSent)
	prometheus.MustRegister(envelopesDropped)
	prometheus.MustRegister(traceHeaderParseFailures)
	prometheus.MustRegister(baggageMembersSkipped)
}
