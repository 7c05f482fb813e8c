package sentry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Keys of the dynamic sampling context, without the sentry- prefix.
const (
	DSCTraceID     = "trace_id"
	DSCPublicKey   = "public_key"
	DSCSampleRate  = "sample_rate"
	DSCSampleRand  = "sample_rand"
	DSCSampled     = "sampled"
	DSCRelease     = "release"
	DSCEnvironment = "environment"
	DSCTransaction = "transaction"
)

// DynamicSamplingContext is the ordered set of sentry- baggage values that
// travels with a trace so every hop makes the same sampling decision.
//
// A frozen context was received from upstream (or already sent downstream)
// and must be forwarded as is.
type DynamicSamplingContext struct {
	keys   []string
	values map[string]string
	Frozen bool
}

// DynamicSamplingContextFromBaggage collects the sentry- members of b into a
// frozen context. An inbound header without sentry- members still yields a
// frozen, empty context: the head of the trace chose to send none.
func DynamicSamplingContextFromBaggage(b Baggage) DynamicSamplingContext {
	dsc := DynamicSamplingContext{Frozen: true}
	for _, m := range b.Sentry() {
		dsc.Set(strings.TrimPrefix(m.Key, SentryBaggagePrefix), m.Value)
	}
	return dsc
}

// Set stores a value. Existing keys keep their position.
func (d *DynamicSamplingContext) Set(key, value string) {
	if d.values == nil {
		d.values = make(map[string]string)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

func (d DynamicSamplingContext) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

func (d DynamicSamplingContext) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order.
func (d DynamicSamplingContext) Keys() []string {
	return append([]string(nil), d.keys...)
}

// HasEntries reports whether there is anything to propagate.
func (d DynamicSamplingContext) HasEntries() bool { return len(d.keys) > 0 }

func (d DynamicSamplingContext) clone() DynamicSamplingContext {
	c := DynamicSamplingContext{Frozen: d.Frozen}
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

// Members renders the context as sentry- baggage members, dropping trailing
// members once the rendered header would exceed 8192 bytes.
func (d DynamicSamplingContext) Members() Baggage {
	var (
		out  Baggage
		size int
	)
	for _, k := range d.keys {
		m := NewMember(SentryBaggagePrefix+k, d.values[k])
		n := len(m.String())
		if len(out) > 0 {
			n++
		}
		if size+n > maxBaggageStringLength {
			logger.warn("baggage header too long, dropping dynamic sampling context from", k)
			break
		}
		size += n
		out = append(out, m)
	}
	return out
}

// String renders the context alone as a baggage header value.
func (d DynamicSamplingContext) String() string { return d.Members().String() }

// MergeBaggage returns the outgoing baggage header: members of existing that
// are not sentry- prefixed are forwarded untouched and in order, followed by
// the sentry members of dsc.
func MergeBaggage(existing Baggage, dsc DynamicSamplingContext) string {
	merged := append(existing.ThirdParty(), dsc.Members()...)
	return merged.String()
}

// sampleRand returns the propagated sample_rand, if any.
func (d DynamicSamplingContext) sampleRand() (float64, bool) {
	v, ok := d.Get(DSCSampleRand)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f >= 1 {
		return 0, false
	}
	return f, true
}

// MarshalJSON writes the context as an object in insertion order, the shape
// of the envelope header trace field.
func (d DynamicSamplingContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping key order. Non-string values are
// kept in their JSON text form.
func (d *DynamicSamplingContext) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("dynamic sampling context: expected object, got %v", tok)
	}
	*d = DynamicSamplingContext{Frozen: true}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		d.Set(key, s)
	}
	_, err = dec.Token()
	return err
}
