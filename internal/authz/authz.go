// Package authz centralizes role capability checks for the invitation engine.
//
// Roles are a closed enumeration; every permission decision goes through the
// predicate table below rather than string comparisons at call sites.
package authz

import (
	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/models"
)

type capabilities struct {
	sendInvitations  bool
	cancelAny        bool
	viewAnalytics    bool
	triggerScheduler bool
}

var roleCapabilities = map[models.Role]capabilities{
	models.RoleOwner:        {sendInvitations: true, cancelAny: true, viewAnalytics: true, triggerScheduler: true},
	models.RoleAdmin:        {sendInvitations: true, cancelAny: true, viewAnalytics: true, triggerScheduler: true},
	models.RoleCollaborator: {sendInvitations: true},
	models.RoleViewer:       {},
}

// CanSendInvitations reports whether the role may create single or bulk
// invitations.
func CanSendInvitations(role models.Role) bool {
	return roleCapabilities[role].sendInvitations
}

// CanCancelInvitation reports whether the actor may cancel an invitation:
// owners and admins may cancel any invitation in their tenant, everyone else
// only their own.
func CanCancelInvitation(role models.Role, senderID, actorID uuid.UUID) bool {
	if roleCapabilities[role].cancelAny {
		return true
	}
	return senderID == actorID
}

// CanViewAnalytics reports whether the role may read invitation analytics.
func CanViewAnalytics(role models.Role) bool {
	return roleCapabilities[role].viewAnalytics
}

// CanTriggerScheduler reports whether the role may trigger a manual
// reminder pass.
func CanTriggerScheduler(role models.Role) bool {
	return roleCapabilities[role].triggerScheduler
}
