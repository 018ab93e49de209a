package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant in the system. Every invitation, batch and
// event is scoped to exactly one organization; there is no cross-tenant
// visibility.
type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Role represents a user's role within an organization.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

// ValidRole reports whether r is one of the closed set of roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleCollaborator, RoleViewer:
		return true
	}
	return false
}

// OrgMember represents a user's membership in an organization. The invitation
// engine uses it to reject invitations for addresses that already belong to
// an active member.
type OrgMember struct {
	OrgID    uuid.UUID `json:"org_id" db:"org_id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Email    string    `json:"email" db:"email"`
	Role     Role      `json:"role" db:"role"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Identity is the resolved caller: the output of the external authorization
// collaborator, attached to the request context by the auth middleware.
type Identity struct {
	OrgID   uuid.UUID `json:"org_id"`
	ActorID uuid.UUID `json:"actor_id"`
	Role    Role      `json:"role"`
}
