// Package bus provides the in-process publish/subscribe fabric for domain
// events, with an optional NATS-backed implementation.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event with a fresh id and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles one delivered event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription handle.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish/subscribe interface. Subjects use dotted names
// and subscriptions may use NATS-style wildcards: * matches one token,
// > matches the rest.
type EventBus interface {
	// Publish sends an event to a subject. It never blocks on slow
	// subscribers.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close shuts the bus down; pending deliveries are dropped.
	Close()

	// IsConnected reports whether the bus can deliver.
	IsConnected() bool
}
