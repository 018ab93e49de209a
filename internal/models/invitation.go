// Package models defines the data models for the Stratix control plane.
package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus represents the stored lifecycle status of an invitation.
//
// Expiry is not a stored status: an invitation in pending or sent whose
// expires_at has passed is expired, and a resend clears that condition by
// extending expires_at.
type InvitationStatus string

const (
	// InvitationStatusPending indicates the invitation row exists but no
	// email has been dispatched yet (deferred send, or the initial send failed).
	InvitationStatusPending InvitationStatus = "pending"
	// InvitationStatusSent indicates the invitation email was dispatched.
	InvitationStatusSent InvitationStatus = "sent"
	// InvitationStatusAccepted indicates the recipient joined. Terminal.
	InvitationStatusAccepted InvitationStatus = "accepted"
	// InvitationStatusCancelled indicates the invitation was revoked. Terminal.
	InvitationStatusCancelled InvitationStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s InvitationStatus) IsTerminal() bool {
	return s == InvitationStatusAccepted || s == InvitationStatusCancelled
}

// InvitationKind distinguishes single invitations from bulk-created ones.
type InvitationKind string

const (
	InvitationKindSingle InvitationKind = "single"
	InvitationKindBulk   InvitationKind = "bulk"
)

// DefaultExpiry is the validity window granted on creation and re-granted
// by a resend of an expired invitation.
const DefaultExpiry = 7 * 24 * time.Hour

// Invitation represents a single-use, tenant-scoped offer for an email
// address to join an organization with a given role.
type Invitation struct {
	ID    uuid.UUID `json:"id" db:"id"`
	OrgID uuid.UUID `json:"org_id" db:"org_id"`
	Email string    `json:"email" db:"email"`
	Role  Role      `json:"role" db:"role"`
	// AreaID is an optional organizational area the invitee is assigned to.
	AreaID *uuid.UUID `json:"area_id,omitempty" db:"area_id"`

	Status InvitationStatus `json:"status" db:"status"`
	// Token is the opaque single-use token embedded in the invite link.
	// Never serialized; resends and reminders reuse it, acceptance consumes it.
	Token string `json:"-" db:"token"`

	Kind          InvitationKind `json:"kind" db:"kind"`
	BatchID       *uuid.UUID     `json:"batch_id,omitempty" db:"batch_id"`
	InvitedBy     uuid.UUID      `json:"invited_by" db:"invited_by"`
	CustomMessage *string        `json:"custom_message,omitempty" db:"custom_message"`
	TemplateID    *string        `json:"template_id,omitempty" db:"template_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// Engagement projection, derived from invitation_events.
	EmailSentAt       *time.Time `json:"email_sent_at,omitempty" db:"email_sent_at"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	OpenedAt          *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	AcceptedBy        *uuid.UUID `json:"accepted_by,omitempty" db:"accepted_by"`
	ResendCount       int        `json:"resend_count" db:"resend_count"`
	ReminderCount     int        `json:"reminder_count" db:"reminder_count"`
	LastReminderAt    *time.Time `json:"last_reminder_at,omitempty" db:"last_reminder_at"`
	LastDeliveryError *string    `json:"last_delivery_error,omitempty" db:"last_delivery_error"`
	ProviderMessageID *string    `json:"-" db:"provider_message_id"`
}

// IsExpired reports whether the invitation has outlived its validity window.
// Terminal invitations are never considered expired.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !i.Status.IsTerminal() && now.After(i.ExpiresAt)
}

// IsOutstanding reports whether the invitation is still awaiting a decision.
func (i *Invitation) IsOutstanding() bool {
	return i.Status == InvitationStatusPending || i.Status == InvitationStatusSent
}

// LastTouchAt returns the most recent time the recipient was contacted:
// the last reminder if one was sent, otherwise the original dispatch time,
// otherwise creation time.
func (i *Invitation) LastTouchAt() time.Time {
	if i.LastReminderAt != nil {
		return *i.LastReminderAt
	}
	if i.EmailSentAt != nil {
		return *i.EmailSentAt
	}
	return i.CreatedAt
}

// InvitationQuery represents filters for listing invitations.
type InvitationQuery struct {
	OrgID   uuid.UUID
	Status  *InvitationStatus
	Email   *string
	BatchID *uuid.UUID
	Page    int
	PerPage int
}
