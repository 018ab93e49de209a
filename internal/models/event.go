package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of an invitation lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventAccepted  EventType = "accepted"
	EventResent    EventType = "resent"
	EventReminded  EventType = "reminded"
	EventCancelled EventType = "cancelled"
)

// InvitationEvent is an immutable entry in the append-only engagement log.
// The invitation's derived counters and timestamps are a projection of this
// log and must always be reconcilable from it.
type InvitationEvent struct {
	// ID is a ULID so events sort lexicographically by creation time.
	ID           string    `json:"id" db:"id"`
	InvitationID uuid.UUID `json:"invitation_id" db:"invitation_id"`
	OrgID        uuid.UUID `json:"org_id" db:"org_id"`
	Type         EventType `json:"type" db:"event_type"`
	// ActorID is nil for system and provider-driven events.
	ActorID    *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	OccurredAt time.Time       `json:"occurred_at" db:"occurred_at"`
}

// EventQuery represents filters for reading the event log.
type EventQuery struct {
	InvitationID uuid.UUID
	Types        []EventType
	Limit        int
}
