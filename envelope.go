package sentry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/multierr"
)

// EnvelopeItemType is the type field of an item header.
type EnvelopeItemType string

const (
	EnvelopeItemEvent        EnvelopeItemType = "event"
	EnvelopeItemTransaction  EnvelopeItemType = "transaction"
	EnvelopeItemSession      EnvelopeItemType = "session"
	EnvelopeItemSessions     EnvelopeItemType = "sessions"
	EnvelopeItemCheckIn      EnvelopeItemType = "check_in"
	EnvelopeItemClientReport EnvelopeItemType = "client_report"
	EnvelopeItemLog          EnvelopeItemType = "log"
	EnvelopeItemMetric       EnvelopeItemType = "metric"
	EnvelopeItemAttachment   EnvelopeItemType = "attachment"
)

// EnvelopeHeader is the first line of an envelope.
type EnvelopeHeader struct {
	EventID EventID                 `json:"event_id,omitempty"`
	SentAt  time.Time               `json:"sent_at"`
	Dsn     string                  `json:"dsn,omitempty"`
	Sdk     *SdkInfo                `json:"sdk,omitempty"`
	Trace   *DynamicSamplingContext `json:"trace,omitempty"`

	// Extra holds header fields not modeled above. They are kept on parse
	// and written back after the known fields.
	Extra map[string]json.RawMessage `json:"-"`
}

var envelopeHeaderKeys = []string{"event_id", "sent_at", "dsn", "sdk", "trace"}

// MarshalJSON leaves out a zero sent_at.
func (h EnvelopeHeader) MarshalJSON() ([]byte, error) {
	type header EnvelopeHeader
	out := struct {
		header
		SentAt *time.Time `json:"sent_at,omitempty"`
	}{header: header(h)}
	if !h.SentAt.IsZero() {
		out.SentAt = &h.SentAt
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return appendExtraFields(b, h.Extra)
}

func (h *EnvelopeHeader) UnmarshalJSON(b []byte) error {
	type header EnvelopeHeader
	var known header
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	extra, err := extraFields(b, envelopeHeaderKeys)
	if err != nil {
		return err
	}
	*h = EnvelopeHeader(known)
	h.Extra = extra
	return nil
}

// EnvelopeItemHeader precedes every item payload. When Length is set it is
// the exact byte size of the payload, which lets readers skip payloads that
// contain newlines.
type EnvelopeItemHeader struct {
	Type           EnvelopeItemType `json:"type"`
	Length         *int             `json:"length,omitempty"`
	ContentType    string           `json:"content_type,omitempty"`
	Filename       string           `json:"filename,omitempty"`
	AttachmentType string           `json:"attachment_type,omitempty"`
	ItemCount      *int             `json:"item_count,omitempty"`

	// Extra holds type-specific fields not modeled above.
	Extra map[string]json.RawMessage `json:"-"`
}

var envelopeItemHeaderKeys = []string{"type", "length", "content_type", "filename", "attachment_type", "item_count"}

func (h EnvelopeItemHeader) MarshalJSON() ([]byte, error) {
	type header EnvelopeItemHeader
	b, err := json.Marshal(header(h))
	if err != nil {
		return nil, err
	}
	return appendExtraFields(b, h.Extra)
}

func (h *EnvelopeItemHeader) UnmarshalJSON(b []byte) error {
	type header EnvelopeItemHeader
	var known header
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	extra, err := extraFields(b, envelopeItemHeaderKeys)
	if err != nil {
		return err
	}
	*h = EnvelopeItemHeader(known)
	h.Extra = extra
	return nil
}

// extraFields returns the members of the JSON object b whose keys are not in
// known, or nil when there are none.
func extraFields(b []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// appendExtraFields adds the fields of extra missing from the JSON object b,
// sorted by key. Values are compacted so the header stays on one line.
func appendExtraFields(b []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(b, &present); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := present[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for _, k := range keys {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if err := json.Compact(&buf, extra[k]); err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EnvelopeItem is one header and payload pair.
type EnvelopeItem struct {
	Header  EnvelopeItemHeader
	Payload []byte
}

// Envelope batches telemetry payloads for one upload. It is built right
// before sending and not modified afterwards.
type Envelope struct {
	Header EnvelopeHeader
	Items  []*EnvelopeItem
}

// NewEnvelope returns an envelope holding items in the given order.
func NewEnvelope(header EnvelopeHeader, items ...*EnvelopeItem) *Envelope {
	return &Envelope{Header: header, Items: items}
}

// AddItem appends an item.
func (e *Envelope) AddItem(item *EnvelopeItem) { e.Items = append(e.Items, item) }

func intPtr(n int) *int { return &n }

// NewRawItem frames payload as is. Length-prefixed items may contain
// newlines; items without a length must be single-line JSON.
func NewRawItem(itemType EnvelopeItemType, payload []byte, withLength bool) *EnvelopeItem {
	item := &EnvelopeItem{Header: EnvelopeItemHeader{Type: itemType}, Payload: payload}
	if withLength {
		item.Header.Length = intPtr(len(payload))
	}
	return item
}

func newJSONItem(itemType EnvelopeItemType, v interface{}) (*EnvelopeItem, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s item: %w", itemType, err)
	}
	return NewRawItem(itemType, payload, true), nil
}

// NewEventItem frames an error event or a transaction.
func NewEventItem(event *Event) (*EnvelopeItem, error) {
	itemType := EnvelopeItemEvent
	if event.Type == transactionType {
		itemType = EnvelopeItemTransaction
	}
	return newJSONItem(itemType, event)
}

func NewCheckInItem(checkIn *CheckIn) (*EnvelopeItem, error) {
	return newJSONItem(EnvelopeItemCheckIn, checkIn)
}

func NewSessionItem(session *Session) (*EnvelopeItem, error) {
	return newJSONItem(EnvelopeItemSession, session)
}

func NewClientReportItem(report *ClientReport) (*EnvelopeItem, error) {
	return newJSONItem(EnvelopeItemClientReport, report)
}

// NewAttachmentItem frames a binary attachment. Attachments always carry a
// length since their payload is arbitrary bytes.
func NewAttachmentItem(a *Attachment) *EnvelopeItem {
	item := NewRawItem(EnvelopeItemAttachment, a.Payload, true)
	item.Header.Filename = a.Filename
	item.Header.ContentType = a.ContentType
	item.Header.AttachmentType = "event.attachment"
	return item
}

// Validate checks the framing invariants of every item.
func (e *Envelope) Validate() error {
	var err error
	for i, item := range e.Items {
		if item.Header.Length != nil && *item.Header.Length != len(item.Payload) {
			err = multierr.Append(err, fmt.Errorf("item %d (%s): declared %d bytes, payload has %d: %w",
				i, item.Header.Type, *item.Header.Length, len(item.Payload), ErrEnvelopeLengthMismatch))
		}
		if item.Header.Length == nil && bytes.IndexByte(item.Payload, '\n') >= 0 {
			err = multierr.Append(err, fmt.Errorf("item %d (%s): payload contains a newline but declares no length: %w",
				i, item.Header.Type, ErrEnvelopeLengthMismatch))
		}
	}
	return err
}

// WriteTo writes the envelope in its wire format: the header line, then per
// item a header line and the payload followed by a newline.
func (e *Envelope) WriteTo(w io.Writer) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	var buf bytes.Buffer
	if err := writeJSONLine(&buf, e.Header); err != nil {
		return 0, fmt.Errorf("encoding envelope header: %w", err)
	}
	for _, item := range e.Items {
		if err := writeJSONLine(&buf, item.Header); err != nil {
			return 0, fmt.Errorf("encoding %s item header: %w", item.Header.Type, err)
		}
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}
	return buf.WriteTo(w)
}

func writeJSONLine(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	buf.WriteByte('\n')
	return nil
}

// Serialize returns the envelope in its wire format.
func (e *Envelope) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := e.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEnvelope frames header and items into wire bytes.
func BuildEnvelope(header EnvelopeHeader, items ...*EnvelopeItem) ([]byte, error) {
	return NewEnvelope(header, items...).Serialize()
}

// ParseEnvelope decodes wire bytes. Items with a length are read by byte
// count, others up to the next newline.
func ParseEnvelope(data []byte) (*Envelope, error) {
	return ReadEnvelope(bytes.NewReader(data))
}

// ReadEnvelope decodes one envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	br := bufio.NewReader(r)

	line, err := readLine(br)
	if err != nil {
		return nil, fmt.Errorf("%w: missing header: %v", ErrMalformedEnvelope, err)
	}
	env := &Envelope{}
	if err := json.Unmarshal(line, &env.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedEnvelope, err)
	}

	for {
		line, err := readLine(br)
		if err == io.EOF {
			return env, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		item := &EnvelopeItem{}
		if err := json.Unmarshal(line, &item.Header); err != nil {
			return nil, fmt.Errorf("%w: item %d header: %v", ErrMalformedEnvelope, len(env.Items), err)
		}

		if n := item.Header.Length; n != nil {
			if *n < 0 {
				return nil, fmt.Errorf("%w: item %d: negative length", ErrMalformedEnvelope, len(env.Items))
			}
			// The declared length is untrusted; never allocate it up front.
			var payload bytes.Buffer
			if _, err := io.CopyN(&payload, br, int64(*n)); err != nil {
				return nil, fmt.Errorf("%w: item %d: truncated payload: %v", ErrMalformedEnvelope, len(env.Items), err)
			}
			item.Payload = payload.Bytes()
			if b, err := br.ReadByte(); err == nil && b != '\n' {
				_ = br.UnreadByte()
			}
		} else {
			payload, err := readLine(br)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("%w: item %d: %v", ErrMalformedEnvelope, len(env.Items), err)
			}
			item.Payload = payload
		}
		env.Items = append(env.Items, item)
	}
}

// readLine returns the next line without its terminator. A final line
// without a newline is returned as is; io.EOF means nothing was left.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err == io.EOF {
		if len(line) == 0 {
			return nil, io.EOF
		}
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return line[:len(line)-1], nil
}
