package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus represents the overall outcome of a bulk invitation request.
type BatchStatus string

const (
	// BatchStatusProcessing indicates member invitations are still being created/sent.
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusCompleted indicates every member succeeded.
	BatchStatusCompleted BatchStatus = "completed"
	// BatchStatusPartial indicates a mix of successes and failures.
	BatchStatusPartial BatchStatus = "partial"
	// BatchStatusFailed indicates no member succeeded.
	BatchStatusFailed BatchStatus = "failed"
)

// InvitationBatch groups invitations created together from one bulk request.
// The batch is created atomically before any member invitation, updated
// incrementally as members are processed, and never deleted.
type InvitationBatch struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrgID     uuid.UUID `json:"org_id" db:"org_id"`
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`
	Name      string    `json:"name" db:"name"`

	TotalCount  int `json:"total_count" db:"total_count"`
	SentCount   int `json:"sent_count" db:"sent_count"`
	FailedCount int `json:"failed_count" db:"failed_count"`

	// Defaults applied to every member invitation.
	Role            Role       `json:"role" db:"role"`
	AreaID          *uuid.UUID `json:"area_id,omitempty" db:"area_id"`
	DefaultMessage  *string    `json:"default_message,omitempty" db:"default_message"`
	DefaultTemplate *string    `json:"default_template,omitempty" db:"default_template"`

	Status      BatchStatus `json:"status" db:"status"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// FinalStatus maps per-member outcomes to the batch's terminal status.
func FinalStatus(sent, failed int) BatchStatus {
	switch {
	case sent == 0:
		return BatchStatusFailed
	case failed == 0:
		return BatchStatusCompleted
	default:
		return BatchStatusPartial
	}
}
