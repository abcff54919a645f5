// Package webhook implements outbound event delivery: signing, the single
// attempt executor, the per-target retry scheduler and the dead-letter sink.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of notification types the engine emits.
// Dispatch is on typed constants rather than free-form strings so adding a
// type is a compile-time-checked change.
type EventType string

const (
	EventBillingSuccess        EventType = "billing.success"
	EventBillingFailed         EventType = "billing.failed"
	EventSubscriptionSuspended EventType = "subscription.suspended"
	EventSubscriptionExpired   EventType = "subscription.expired"
	EventDeadLetterReplay      EventType = "deadletter.replay"
)

// ParseEventType validates a wire-level event type string.
func ParseEventType(s string) (EventType, error) {
	switch et := EventType(s); et {
	case EventBillingSuccess,
		EventBillingFailed,
		EventSubscriptionSuspended,
		EventSubscriptionExpired,
		EventDeadLetterReplay:
		return et, nil
	default:
		return "", fmt.Errorf("unknown event type: %q", s)
	}
}

// Event is an immutable notification handed to the delivery subsystem.
type Event struct {
	Type      EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(eventType EventType, payload json.RawMessage) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Target is one receiver URL with its signing secret. Each target gets an
// independent delivery chain; targets never block one another.
type Target struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}
