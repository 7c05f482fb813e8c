package sentry

import (
	"runtime"
	"strings"
	"sync"
)

// Integration is a built-in event processor installed by a client. The set
// is closed: applications add their own behavior with Scope.AddEventProcessor
// or BeforeSend.
type Integration int

const (
	// IntegrationEnvironment adds os, runtime and device contexts.
	IntegrationEnvironment Integration = iota
	// IntegrationDedupe drops an error event equal to the one sent right
	// before it.
	IntegrationDedupe
	// IntegrationInboundFilters drops error events matching
	// ClientOptions.IgnoreErrors.
	IntegrationInboundFilters
)

// DefaultIntegrations returns the integrations installed when
// ClientOptions.Integrations is nil.
func DefaultIntegrations() []Integration {
	return []Integration{IntegrationEnvironment, IntegrationDedupe, IntegrationInboundFilters}
}

func (i Integration) String() string {
	switch i {
	case IntegrationEnvironment:
		return "Environment"
	case IntegrationDedupe:
		return "Dedupe"
	case IntegrationInboundFilters:
		return "InboundFilters"
	default:
		return "Unknown"
	}
}

func (i Integration) processor(c *Client) EventProcessor {
	switch i {
	case IntegrationEnvironment:
		return environmentProcessor
	case IntegrationDedupe:
		return newDedupeProcessor()
	case IntegrationInboundFilters:
		if len(c.options.IgnoreErrors) == 0 {
			return nil
		}
		return newInboundFilter(c.options.IgnoreErrors)
	default:
		logger.warn("unknown integration:", int(i))
		return nil
	}
}

func environmentProcessor(event *Event, _ *EventHint) *Event {
	if _, ok := event.Contexts["os"]; !ok {
		event.Contexts["os"] = Context{"name": runtime.GOOS}
	}
	if _, ok := event.Contexts["runtime"]; !ok {
		event.Contexts["runtime"] = Context{"name": "go", "version": runtime.Version()}
	}
	if _, ok := event.Contexts["device"]; !ok {
		event.Contexts["device"] = Context{"arch": runtime.GOARCH, "num_cpu": runtime.NumCPU()}
	}
	return event
}

func newDedupeProcessor() EventProcessor {
	var (
		mu   sync.Mutex
		last string
	)
	return func(event *Event, _ *EventHint) *Event {
		if event.Type != "" {
			return event
		}
		fp := eventFingerprint(event)
		if fp == "" {
			return event
		}
		mu.Lock()
		defer mu.Unlock()
		if fp == last {
			logger.debug("duplicate event dropped:", event.EventID)
			return nil
		}
		last = fp
		return event
	}
}

// eventFingerprint identifies an error event by its message and exception
// chain; events with neither are never deduplicated.
func eventFingerprint(event *Event) string {
	if event.Message == "" && len(event.Exception) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(event.Message)
	for _, e := range event.Exception {
		sb.WriteString("\x00" + e.Type + "\x00" + e.Value)
	}
	for _, f := range event.Fingerprint {
		sb.WriteString("\x00" + f)
	}
	return sb.String()
}

func newInboundFilter(ignore []string) EventProcessor {
	patterns := append([]string(nil), ignore...)
	return func(event *Event, _ *EventHint) *Event {
		if event.Type != "" {
			return event
		}
		for _, p := range patterns {
			if strings.Contains(event.Message, p) {
				return nil
			}
			for _, e := range event.Exception {
				if strings.Contains(e.Value, p) {
					return nil
				}
			}
		}
		return event
	}
}
