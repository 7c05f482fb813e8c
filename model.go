package sentry

import (
	"encoding/json"
	"time"
)

// Level marks the severity of an event or breadcrumb.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelFatal   Level = "fatal"
)

// Event types that are not plain errors.
const (
	transactionType = "transaction"
	checkInType     = "check_in"
)

// Context is one entry of an event's contexts section.
type Context = map[string]interface{}

// SdkInfo identifies the SDK that produced a payload.
type SdkInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// User describes the user affected by an event.
type User struct {
	ID        string            `json:"id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Username  string            `json:"username,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

// IsEmpty reports whether no field is set.
func (u User) IsEmpty() bool {
	return u.ID == "" && u.Email == "" && u.IPAddress == "" && u.Username == "" && len(u.Data) == 0
}

func (u User) clone() User {
	c := u
	if u.Data != nil {
		c.Data = make(map[string]string, len(u.Data))
		for k, v := range u.Data {
			c.Data[k] = v
		}
	}
	return c
}

// Breadcrumb is one timestamped observation leading up to an event.
type Breadcrumb struct {
	Type      string                 `json:"type,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Level     Level                  `json:"level,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Request carries the inbound HTTP request of a server event.
type Request struct {
	URL         string            `json:"url,omitempty"`
	Method      string            `json:"method,omitempty"`
	QueryString string            `json:"query_string,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Exception describes one error in an error chain.
type Exception struct {
	Type   string `json:"type,omitempty"`
	Value  string `json:"value,omitempty"`
	Module string `json:"module,omitempty"`
}

// Event is the payload of event and transaction envelope items.
type Event struct {
	EventID     EventID                `json:"event_id,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Level       Level                  `json:"level,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Platform    string                 `json:"platform,omitempty"`
	Release     string                 `json:"release,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	ServerName  string                 `json:"server_name,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
	Contexts    map[string]Context     `json:"contexts,omitempty"`
	User        *User                  `json:"user,omitempty"`
	Breadcrumbs []*Breadcrumb          `json:"breadcrumbs,omitempty"`
	Fingerprint []string               `json:"fingerprint,omitempty"`
	Exception   []Exception            `json:"exception,omitempty"`
	Request     *Request               `json:"request,omitempty"`
	Sdk         *SdkInfo               `json:"sdk,omitempty"`

	Transaction string    `json:"transaction,omitempty"`
	StartTime   time.Time `json:"start_timestamp"`
	Spans       []*Span   `json:"spans,omitempty"`

	// dynamicSamplingContext is never serialized; it carries the trace's
	// sampling context from the scope to the envelope header.
	dynamicSamplingContext *DynamicSamplingContext
}

// NewEvent returns an event with empty maps ready to be filled.
func NewEvent() *Event {
	return &Event{
		Tags:     make(map[string]string),
		Extra:    make(map[string]interface{}),
		Contexts: make(map[string]Context),
	}
}

// MarshalJSON leaves out zero timestamps.
func (e *Event) MarshalJSON() ([]byte, error) {
	type event Event
	out := struct {
		*event
		Timestamp *time.Time `json:"timestamp,omitempty"`
		StartTime *time.Time `json:"start_timestamp,omitempty"`
	}{event: (*event)(e)}
	if !e.Timestamp.IsZero() {
		out.Timestamp = &e.Timestamp
	}
	if !e.StartTime.IsZero() {
		out.StartTime = &e.StartTime
	}
	return json.Marshal(out)
}

// CheckInStatus is the state reported by a cron monitor check-in.
type CheckInStatus string

const (
	CheckInStatusInProgress CheckInStatus = "in_progress"
	CheckInStatusOK         CheckInStatus = "ok"
	CheckInStatusError      CheckInStatus = "error"
)

// CheckIn is the payload of a check_in envelope item.
type CheckIn struct {
	ID          string             `json:"check_in_id"`
	MonitorSlug string             `json:"monitor_slug"`
	Status      CheckInStatus      `json:"status"`
	Duration    float64            `json:"duration,omitempty"`
	Release     string             `json:"release,omitempty"`
	Environment string             `json:"environment,omitempty"`
	Contexts    map[string]Context `json:"contexts,omitempty"`
}

// SessionStatus is the health of a release session.
type SessionStatus string

const (
	SessionStatusOK       SessionStatus = "ok"
	SessionStatusExited   SessionStatus = "exited"
	SessionStatusCrashed  SessionStatus = "crashed"
	SessionStatusAbnormal SessionStatus = "abnormal"
)

// SessionAttributes are the release fields attached to a session update.
type SessionAttributes struct {
	Release     string `json:"release"`
	Environment string `json:"environment,omitempty"`
}

// Session is the payload of a session envelope item.
type Session struct {
	SID       string            `json:"sid"`
	DID       string            `json:"did,omitempty"`
	Init      bool              `json:"init,omitempty"`
	Started   time.Time         `json:"started"`
	Timestamp time.Time         `json:"timestamp"`
	Status    SessionStatus     `json:"status"`
	Errors    int               `json:"errors"`
	Duration  float64           `json:"duration,omitempty"`
	Attrs     SessionAttributes `json:"attrs"`
}

// DiscardedEvent counts telemetry dropped for one reason and category.
type DiscardedEvent struct {
	Reason   string `json:"reason"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

// ClientReport is the payload of a client_report envelope item.
type ClientReport struct {
	Timestamp       time.Time        `json:"timestamp"`
	DiscardedEvents []DiscardedEvent `json:"discarded_events"`
}

// Attachment is a file sent alongside an event.
type Attachment struct {
	Filename    string
	ContentType string
	Payload     []byte
}
