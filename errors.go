package sentry

import "errors"

var (
	// ErrMalformedSentryTrace is returned when a sentry-trace header does not
	// match trace_id-span_id[-sampled]. Callers start a new trace instead.
	ErrMalformedSentryTrace = errors.New("sentry: malformed sentry-trace header")

	// ErrMalformedEnvelope is returned by ParseEnvelope for undecodable input.
	ErrMalformedEnvelope = errors.New("sentry: malformed envelope")

	// ErrEnvelopeLengthMismatch means an item header declares a length that
	// differs from the payload it frames.
	ErrEnvelopeLengthMismatch = errors.New("sentry: envelope item length mismatch")

	// ErrInvalidDsn is returned by ParseDsn.
	ErrInvalidDsn = errors.New("sentry: invalid dsn")

	errInvalidHexID = errors.New("invalid hex id")
)
