package sentry

import (
	"net/url"
	"strings"
)

const (
	// BaggageHeader is the W3C baggage header name.
	BaggageHeader = "baggage"

	// SentryBaggagePrefix marks members that belong to the dynamic sampling context.
	SentryBaggagePrefix = "sentry-"

	// maxBaggageStringLength caps the sentry part of an outgoing baggage header.
	maxBaggageStringLength = 8192
)

// Property is a metadata entry of a baggage list-member. A property may be a
// bare flag (HasValue false) or a key=value pair.
type Property struct {
	Key      string
	Value    string
	HasValue bool

	// raw keeps the segment as received so untouched properties are
	// forwarded byte for byte, whitespace included.
	raw string
}

// NewProperty returns a key=value property.
func NewProperty(key, value string) Property {
	return Property{Key: key, Value: value, HasValue: true}
}

// NewFlagProperty returns a property without a value.
func NewFlagProperty(key string) Property {
	return Property{Key: key}
}

func (p Property) String() string {
	if p.raw != "" {
		if q, ok := parseProperty(p.raw); ok && q.Key == p.Key && q.Value == p.Value && q.HasValue == p.HasValue {
			return p.raw
		}
	}
	if p.HasValue {
		return p.Key + "=" + p.Value
	}
	return p.Key
}

// Member is one baggage list-member: key=value followed by properties.
type Member struct {
	Key        string
	Value      string
	Properties []Property
}

// NewMember returns a list-member. Values of sentry- keys are percent-encoded
// on serialization, everything else is written as given.
func NewMember(key, value string, props ...Property) Member {
	return Member{Key: key, Value: value, Properties: props}
}

// IsSentry reports whether the member belongs to the dynamic sampling context.
func (m Member) IsSentry() bool { return strings.HasPrefix(m.Key, SentryBaggagePrefix) }

func (m Member) String() string {
	var sb strings.Builder
	sb.WriteString(m.Key)
	sb.WriteByte('=')
	if m.IsSentry() {
		sb.WriteString(encodeBaggageValue(m.Value))
	} else {
		sb.WriteString(m.Value)
	}
	for _, p := range m.Properties {
		sb.WriteByte(';')
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Baggage is an ordered list of members as carried in the baggage header.
type Baggage []Member

// ParseBaggage decodes a baggage header. Malformed list-members are skipped.
// Only sentry- values are percent-decoded; third-party values are kept as
// received so they can be forwarded untouched.
func ParseBaggage(header string) Baggage {
	var b Baggage
	for _, item := range strings.Split(header, ",") {
		item = trimOWS(item)
		if item == "" {
			continue
		}
		m, ok := parseMember(item)
		if !ok {
			baggageMembersSkipped.Inc()
			logger.debug("skipping malformed baggage member", item)
			continue
		}
		b = append(b, m)
	}
	return b
}

func parseMember(item string) (Member, bool) {
	pair, props, hasProps := strings.Cut(item, ";")
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return Member{}, false
	}
	key, value = trimOWS(key), trimOWS(value)
	if !isToken(key) {
		return Member{}, false
	}
	m := Member{Key: key, Value: value}
	if m.IsSentry() {
		decoded, err := url.PathUnescape(value)
		if err != nil {
			return Member{}, false
		}
		m.Value = decoded
	}
	if hasProps {
		for _, segment := range strings.Split(props, ";") {
			if p, ok := parseProperty(segment); ok {
				m.Properties = append(m.Properties, p)
			}
		}
	}
	return m, true
}

func parseProperty(segment string) (Property, bool) {
	key, value, hasValue := strings.Cut(segment, "=")
	key = trimOWS(key)
	if !isToken(key) {
		return Property{}, false
	}
	p := Property{Key: key, HasValue: hasValue, raw: segment}
	if hasValue {
		p.Value = trimOWS(value)
	}
	return p, true
}

func (b Baggage) String() string {
	parts := make([]string, 0, len(b))
	for _, m := range b {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ",")
}

// Member returns the first member with the given key.
func (b Baggage) Member(key string) (Member, bool) {
	for _, m := range b {
		if m.Key == key {
			return m, true
		}
	}
	return Member{}, false
}

// ThirdParty returns the members that are not sentry- prefixed, in order.
func (b Baggage) ThirdParty() Baggage {
	var out Baggage
	for _, m := range b {
		if !m.IsSentry() {
			out = append(out, m)
		}
	}
	return out
}

// Sentry returns the sentry- prefixed members, in order.
func (b Baggage) Sentry() Baggage {
	var out Baggage
	for _, m := range b {
		if m.IsSentry() {
			out = append(out, m)
		}
	}
	return out
}

// encodeBaggageValue escapes like JavaScript's encodeURIComponent for the
// characters that matter in a baggage value. Spaces become %20, not '+'.
func encodeBaggageValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

func trimOWS(s string) string { return strings.Trim(s, " \t") }

// isToken checks an RFC 7230 token, the grammar for baggage keys.
func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
