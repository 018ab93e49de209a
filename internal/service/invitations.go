package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/authz"
	"github.com/stratix-hq/control-plane/internal/models"
	apperrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/token"
	"github.com/stratix-hq/control-plane/internal/repository"
)

// InvitationService implements single-invitation lifecycle operations:
// create, resend, accept, and reads. Bulk creation lives in BatchService and
// cancellation in CancelService; all three share this service's send path.
type InvitationService struct {
	invitations repository.InvitationRepository
	events      repository.EventRepository
	orgs        repository.OrgRepository
	dispatcher  *Dispatcher
	policy      EngagementPolicy
	logger      *slog.Logger
	now         func() time.Time
}

// NewInvitationService creates a new invitation service.
func NewInvitationService(
	invitations repository.InvitationRepository,
	events repository.EventRepository,
	orgs repository.OrgRepository,
	dispatcher *Dispatcher,
	policy EngagementPolicy,
	logger *slog.Logger,
) *InvitationService {
	return &InvitationService{
		invitations: invitations,
		events:      events,
		orgs:        orgs,
		dispatcher:  dispatcher,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateInvitationRequest is the input for a single invitation.
type CreateInvitationRequest struct {
	Email           string     `json:"email" validate:"required,email"`
	Role            string     `json:"role" validate:"required"`
	AreaID          *uuid.UUID `json:"area_id,omitempty"`
	CustomMessage   *string    `json:"custom_message,omitempty"`
	TemplateID      *string    `json:"template_id,omitempty"`
	SendImmediately bool       `json:"send_immediately"`
}

// CreateInvitationResult is the outcome of a single create. DeliveryError is
// set when the invitation row was created but the immediate send failed; the
// invitation then stays pending and is eligible for a later resend.
type CreateInvitationResult struct {
	Invitation    *models.Invitation `json:"invitation"`
	DeliveryError *string            `json:"delivery_error,omitempty"`
}

// Create creates one invitation and optionally dispatches it immediately.
func (s *InvitationService) Create(ctx context.Context, actor models.Identity, req CreateInvitationRequest) (*CreateInvitationResult, error) {
	if !authz.CanSendInvitations(actor.Role) {
		return nil, apperrors.ErrForbidden
	}

	role := models.Role(req.Role)
	if !models.ValidRole(role) {
		return nil, apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", req.Role))
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	member, err := s.orgs.GetMemberByEmail(ctx, actor.OrgID, email)
	if err != nil {
		return nil, fmt.Errorf("check existing membership: %w", err)
	}
	if member != nil {
		return nil, apperrors.NewConflictError("This email address already belongs to a member of the organization")
	}

	now := s.now()
	inv := &models.Invitation{
		ID:            uuid.New(),
		OrgID:         actor.OrgID,
		Email:         email,
		Role:          role,
		AreaID:        req.AreaID,
		Status:        models.InvitationStatusPending,
		Token:         token.New(),
		Kind:          models.InvitationKindSingle,
		InvitedBy:     actor.ActorID,
		CustomMessage: req.CustomMessage,
		TemplateID:    req.TemplateID,
		ExpiresAt:     now.Add(models.DefaultExpiry),
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		if err == repository.ErrDuplicateActive {
			return nil, apperrors.ErrDuplicateActiveInvitation
		}
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	invitationsCreatedTotal.WithLabelValues(string(models.InvitationKindSingle)).Inc()
	s.appendEvent(ctx, inv, models.EventCreated, &actor.ActorID, nil, now)

	result := &CreateInvitationResult{Invitation: inv}
	if !req.SendImmediately {
		return result, nil
	}

	if sendErr := s.sendInitial(ctx, inv); sendErr != nil {
		msg := sendErr.Error()
		result.DeliveryError = &msg
	}
	return result, nil
}

// sendInitial dispatches the first email for a pending invitation and
// transitions it to sent. On gateway failure the invitation stays pending
// with the failure recorded on the row.
func (s *InvitationService) sendInitial(ctx context.Context, inv *models.Invitation) error {
	res, err := s.dispatcher.Send(ctx, inv, mailInvite)
	if err != nil {
		deliveryFailuresTotal.Inc()
		s.logger.Error("invitation dispatch failed",
			"invitation_id", inv.ID, "org_id", inv.OrgID, "error", err)
		if recErr := s.invitations.RecordDeliveryError(ctx, inv.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record delivery error", "invitation_id", inv.ID, "error", recErr)
		}
		msg := err.Error()
		inv.LastDeliveryError = &msg
		return apperrors.NewUpstreamDeliveryError(err)
	}

	now := s.now()
	ok, err := s.invitations.MarkSent(ctx, inv.ID, now, res.MessageID)
	if err != nil {
		return fmt.Errorf("mark invitation sent: %w", err)
	}
	if ok {
		inv.Status = models.InvitationStatusSent
		inv.EmailSentAt = &now
		inv.ProviderMessageID = &res.MessageID
		inv.LastDeliveryError = nil
		invitationsSentTotal.Inc()
		s.appendEvent(ctx, inv, models.EventSent, nil,
			map[string]any{"message_id": res.MessageID}, now)
	}
	return nil
}

// Get returns one invitation scoped to the actor's tenant.
func (s *InvitationService) Get(ctx context.Context, actor models.Identity, id uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	if inv == nil || inv.OrgID != actor.OrgID {
		return nil, apperrors.NewNotFoundError("Invitation")
	}
	return inv, nil
}

// List returns a page of the tenant's invitations plus the total count.
func (s *InvitationService) List(ctx context.Context, actor models.Identity, q models.InvitationQuery) ([]*models.Invitation, int64, error) {
	q.OrgID = actor.OrgID
	invs, total, err := s.invitations.List(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list invitations: %w", err)
	}
	return invs, total, nil
}

// Events returns the invitation's engagement log, oldest first.
func (s *InvitationService) Events(ctx context.Context, actor models.Identity, id uuid.UUID) ([]*models.InvitationEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	events, err := s.events.ListByInvitation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list invitation events: %w", err)
	}
	return events, nil
}

// Resend re-dispatches an invitation email. A pending invitation (deferred or
// previously failed send) transitions to sent; a sent invitation keeps its
// status, gains a resend, and has its expiry extended when it had lapsed.
// Terminal invitations are rejected with a conflict naming the current state.
func (s *InvitationService) Resend(ctx context.Context, actor models.Identity, id uuid.UUID) (*models.Invitation, error) {
	if !authz.CanSendInvitations(actor.Role) {
		return nil, apperrors.ErrForbidden
	}

	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inv.Status.IsTerminal() {
		return nil, apperrors.NewStateConflictError(string(inv.Status))
	}

	if inv.Status == models.InvitationStatusPending {
		if err := s.sendInitial(ctx, inv); err != nil {
			return nil, err
		}
		return inv, nil
	}

	res, err := s.dispatcher.Send(ctx, inv, mailResend)
	if err != nil {
		deliveryFailuresTotal.Inc()
		if recErr := s.invitations.RecordDeliveryError(ctx, inv.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record delivery error", "invitation_id", inv.ID, "error", recErr)
		}
		return nil, apperrors.NewUpstreamDeliveryError(err)
	}

	now := s.now()
	expiresAt := inv.ExpiresAt
	if inv.IsExpired(now) {
		expiresAt = now.Add(models.DefaultExpiry)
	}

	ok, err := s.invitations.RecordResend(ctx, inv.ID, expiresAt, res.MessageID, now)
	if err != nil {
		return nil, fmt.Errorf("record resend: %w", err)
	}
	if !ok {
		// Lost a race with accept or cancel between the read and the update.
		current, err := s.invitations.GetByID(ctx, inv.ID)
		if err != nil || current == nil {
			return nil, apperrors.ErrConflict
		}
		return nil, apperrors.NewStateConflictError(string(current.Status))
	}

	invitationsResentTotal.Inc()
	s.appendEvent(ctx, inv, models.EventResent, &actor.ActorID,
		map[string]any{"message_id": res.MessageID, "expires_at": expiresAt}, now)

	inv, err = s.invitations.GetByID(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("reload invitation: %w", err)
	}
	return inv, nil
}

// Accept redeems an invitation token on behalf of the joining user. The
// transition is conditional, so of two concurrent accepts exactly one wins
// and the other observes a conflict.
func (s *InvitationService) Accept(ctx context.Context, tok string, userID uuid.UUID) (*models.Invitation, error) {
	inv, err := s.invitations.GetByToken(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("lookup invitation token: %w", err)
	}
	if inv == nil || !token.Matches(inv.Token, tok) {
		return nil, apperrors.NewNotFoundError("Invitation")
	}
	if inv.Status.IsTerminal() {
		return nil, apperrors.NewStateConflictError(string(inv.Status))
	}

	now := s.now()
	if inv.IsExpired(now) {
		return nil, apperrors.NewConflictError("Invitation has expired; ask the sender to resend it")
	}

	// The transition and the membership insert commit together, so a
	// half-accepted invitation can never exist.
	ok, err := s.invitations.Accept(ctx, inv.ID, &models.OrgMember{
		OrgID:  inv.OrgID,
		UserID: userID,
		Email:  inv.Email,
		Role:   inv.Role,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	if !ok {
		current, err := s.invitations.GetByID(ctx, inv.ID)
		if err != nil || current == nil {
			return nil, apperrors.ErrConflict
		}
		return nil, apperrors.NewStateConflictError(string(current.Status))
	}

	invitationsAcceptedTotal.Inc()
	s.appendEvent(ctx, inv, models.EventAccepted, &userID, nil, now)

	inv, err = s.invitations.GetByID(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("reload invitation: %w", err)
	}
	return inv, nil
}

// Analysis runs the engagement analyzer over the tenant's outstanding
// invitations and groups them by recommendation.
func (s *InvitationService) Analysis(ctx context.Context, actor models.Identity) (*BulkAnalysis, error) {
	if !authz.CanViewAnalytics(actor.Role) {
		return nil, apperrors.ErrForbidden
	}

	orgID := actor.OrgID
	invs, err := s.invitations.ListOutstanding(ctx, &orgID)
	if err != nil {
		return nil, fmt.Errorf("list outstanding invitations: %w", err)
	}
	return BulkAnalyze(invs, s.policy, s.now()), nil
}

// appendEvent writes one entry to the engagement log. Log failures are
// reported but never fail the primary operation: the row transition already
// committed.
func (s *InvitationService) appendEvent(ctx context.Context, inv *models.Invitation, typ models.EventType, actorID *uuid.UUID, metadata map[string]any, at time.Time) {
	var raw json.RawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Error("failed to marshal event metadata", "invitation_id", inv.ID, "error", err)
		} else {
			raw = b
		}
	}

	err := s.events.Append(ctx, &models.InvitationEvent{
		InvitationID: inv.ID,
		OrgID:        inv.OrgID,
		Type:         typ,
		ActorID:      actorID,
		Metadata:     raw,
		OccurredAt:   at,
	})
	if err != nil {
		s.logger.Error("failed to append invitation event",
			"invitation_id", inv.ID, "event_type", typ, "error", err)
	}
}
