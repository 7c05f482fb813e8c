package sentry

import (
	"bytes"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TraceID identifies a trace. It renders as 32 lowercase hex characters.
type TraceID [16]byte

// SpanID identifies a span within a trace. It renders as 16 lowercase hex characters.
type SpanID [8]byte

var (
	zeroTraceID TraceID
	zeroSpanID  SpanID
)

func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

// IsValid reports whether the id carries any non-zero byte.
func (id TraceID) IsValid() bool { return !bytes.Equal(id[:], zeroTraceID[:]) }

func (id TraceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TraceID) UnmarshalText(b []byte) error {
	parsed, err := TraceIDFromHex(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

func (id SpanID) IsValid() bool { return !bytes.Equal(id[:], zeroSpanID[:]) }

func (id SpanID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SpanID) UnmarshalText(b []byte) error {
	parsed, err := SpanIDFromHex(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TraceIDFromHex decodes exactly 32 lowercase hex characters.
func TraceIDFromHex(h string) (TraceID, error) {
	var id TraceID
	if err := decodeLowerHex(h, id[:]); err != nil {
		return TraceID{}, fmt.Errorf("trace id %q: %w", h, err)
	}
	return id, nil
}

// SpanIDFromHex decodes exactly 16 lowercase hex characters.
func SpanIDFromHex(h string) (SpanID, error) {
	var id SpanID
	if err := decodeLowerHex(h, id[:]); err != nil {
		return SpanID{}, fmt.Errorf("span id %q: %w", h, err)
	}
	return id, nil
}

func decodeLowerHex(h string, dst []byte) error {
	if len(h) != hex.EncodedLen(len(dst)) {
		return errInvalidHexID
	}
	for _, r := range h {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return errInvalidHexID
		}
	}
	_, err := hex.Decode(dst, []byte(h))
	return err
}

// idGenerator hands out trace and span ids from a seeded math/rand source.
// Ids only need to be unlikely to collide, not unpredictable.
type idGenerator struct {
	sync.Mutex
	randSource *rand.Rand
}

func newIDGenerator() *idGenerator {
	var seed int64
	_ = binary.Read(crand.Reader, binary.LittleEndian, &seed)
	return &idGenerator{randSource: rand.New(rand.NewSource(seed))}
}

var ids = newIDGenerator()

func (g *idGenerator) traceID() TraceID {
	g.Lock()
	defer g.Unlock()
	var id TraceID
	for !id.IsValid() {
		_, _ = g.randSource.Read(id[:])
	}
	return id
}

func (g *idGenerator) spanID() SpanID {
	g.Lock()
	defer g.Unlock()
	var id SpanID
	for !id.IsValid() {
		_, _ = g.randSource.Read(id[:])
	}
	return id
}

func (g *idGenerator) float64() float64 {
	g.Lock()
	defer g.Unlock()
	return g.randSource.Float64()
}

// NewTraceID returns a random, non-zero trace id.
func NewTraceID() TraceID { return ids.traceID() }

// NewSpanID returns a random, non-zero span id.
func NewSpanID() SpanID { return ids.spanID() }

// EventID is a 32 character hex uuid without dashes.
type EventID string

// NewEventID returns a fresh uuid4 based event id.
func NewEventID() EventID {
	return EventID(strings.ReplaceAll(uuid.New().String(), "-", ""))
}

