// Package email defines the outbound email gateway and the inbound provider
// event feed consumed by the engagement tracker.
package email

import (
	"context"
	"time"
)

// Message is one transactional email to dispatch.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	// Context carries template variables for providers that render
	// server-side; the SMTP implementation renders HTMLBody directly.
	Context map[string]string
}

// SendResult is the provider's acknowledgement of a dispatched message.
type SendResult struct {
	MessageID string
}

// Gateway is the narrow interface the invitation engine consumes from the
// email delivery collaborator. Implementations must honor ctx cancellation
// and deadlines; a timed-out send surfaces as an error, never as a hang.
type Gateway interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
}

// EventType is a delivery lifecycle event reported by the provider.
type EventType string

const (
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
)

// Event is one entry of the provider's asynchronous webhook feed, keyed by
// the MessageID returned at send time.
type Event struct {
	MessageID string    `json:"message_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}
