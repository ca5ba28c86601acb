package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Channel names. Downstream consumers (notification service, payment
// service, analytics) subscribe to these; the engine only ever publishes.
const (
	ChannelRideEvents          = "ride-events"
	ChannelDriverNotifications = "driver-notifications"
	ChannelUserNotifications   = "user-notifications"
	ChannelPaymentEvents       = "payment-events"
)

// ServiceName identifies the originating service in every envelope.
const ServiceName = "ride-dispatch"

// Envelope wraps every published event.
type Envelope struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Data      map[string]any `json:"data"`
}

// NewEnvelope stamps an event with id, timestamp and service name.
func NewEnvelope(eventType string, data map[string]any) Envelope {
	return Envelope{
		EventID:   newEventID(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Service:   ServiceName,
		Data:      data,
	}
}

// Publisher announces events on named channels. Delivery is fire-and-forget
// from the caller's perspective: implementations return an error for logging
// only, and no caller rolls back state because a publish failed.
type Publisher interface {
	Publish(ctx context.Context, channel, eventType string, data map[string]any) error
}

func newEventID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
