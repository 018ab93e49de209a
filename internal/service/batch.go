package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stratix-hq/control-plane/internal/authz"
	"github.com/stratix-hq/control-plane/internal/models"
	apperrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/token"
	"github.com/stratix-hq/control-plane/internal/repository"
)

const maxBatchSize = 100

// BatchService processes bulk invitation requests with partial-failure
// semantics: one bad address never aborts the batch, and every address gets
// an individual outcome in input order.
type BatchService struct {
	invitations repository.InvitationRepository
	batches     repository.BatchRepository
	events      repository.EventRepository
	orgs        repository.OrgRepository
	dispatcher  *Dispatcher
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewBatchService creates a new batch service. concurrency bounds parallel
// gateway sends within one batch.
func NewBatchService(
	invitations repository.InvitationRepository,
	batches repository.BatchRepository,
	events repository.EventRepository,
	orgs repository.OrgRepository,
	dispatcher *Dispatcher,
	concurrency int,
	logger *slog.Logger,
) *BatchService {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &BatchService{
		invitations: invitations,
		batches:     batches,
		events:      events,
		orgs:        orgs,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// BulkInvitationRequest is the input for a batch of invitations sharing
// defaults.
type BulkInvitationRequest struct {
	Name            string     `json:"name"`
	Emails          []string   `json:"emails" validate:"required,min=1,max=100,dive,email"`
	Role            string     `json:"role" validate:"required"`
	AreaID          *uuid.UUID `json:"area_id,omitempty"`
	CustomMessage   *string    `json:"custom_message,omitempty"`
	TemplateID      *string    `json:"template_id,omitempty"`
	SendImmediately bool       `json:"send_immediately"`
}

// ItemResult is the outcome for one address in a batch, in input order.
type ItemResult struct {
	Email        string              `json:"email"`
	InvitationID *uuid.UUID          `json:"invitation_id,omitempty"`
	Error        *apperrors.APIError `json:"error,omitempty"`
}

// BatchResult is the full outcome of one bulk request.
type BatchResult struct {
	Batch        *models.InvitationBatch `json:"batch"`
	Total        int                     `json:"total"`
	SuccessCount int                     `json:"success_count"`
	FailureCount int                     `json:"failure_count"`
	Results      []ItemResult            `json:"results"`
}

// Process runs one bulk invitation request. The batch row is created before
// any member so a crash mid-batch leaves an inspectable record; members are
// then created in input order and, when requested, dispatched with bounded
// concurrency. Counters are atomic increments applied as each member's
// outcome is decided, so a crash mid-batch leaves them reflecting the work
// done; the batch is finalized to completed, partial or failed.
func (s *BatchService) Process(ctx context.Context, actor models.Identity, req BulkInvitationRequest) (*BatchResult, error) {
	if !authz.CanSendInvitations(actor.Role) {
		return nil, apperrors.ErrForbidden
	}

	role := models.Role(req.Role)
	if !models.ValidRole(role) {
		return nil, apperrors.NewValidationError("role", fmt.Sprintf("unknown role %q", req.Role))
	}

	emails := dedupeEmails(req.Emails)
	if len(emails) == 0 {
		return nil, apperrors.NewValidationError("emails", "at least one email address is required")
	}
	if len(emails) > maxBatchSize {
		return nil, apperrors.NewValidationError("emails",
			fmt.Sprintf("at most %d addresses per batch (after deduplication)", maxBatchSize))
	}

	batch := &models.InvitationBatch{
		ID:              uuid.New(),
		OrgID:           actor.OrgID,
		CreatedBy:       actor.ActorID,
		Name:            req.Name,
		TotalCount:      len(emails),
		Role:            role,
		AreaID:          req.AreaID,
		DefaultMessage:  req.CustomMessage,
		DefaultTemplate: req.TemplateID,
		Status:          models.BatchStatusProcessing,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("create invitation batch: %w", err)
	}

	// A member succeeds when it reaches its intended state: sent for
	// immediate batches, created for deferred ones. Each outcome settles its
	// counter as it lands.
	results := make([]ItemResult, len(emails))
	created := make([]*models.Invitation, len(emails))
	for i, email := range emails {
		results[i].Email = email
		inv, itemErr := s.createMember(ctx, actor, batch, email)
		if itemErr != nil {
			results[i].Error = itemErr
			s.bumpFailed(ctx, batch.ID, 1)
			continue
		}
		created[i] = inv
		id := inv.ID
		results[i].InvitationID = &id
		if !req.SendImmediately {
			s.bumpSent(ctx, batch.ID)
		}
	}

	if req.SendImmediately {
		s.sendMembers(ctx, batch.ID, created, results)
	}

	success, failure := 0, 0
	for i := range results {
		if results[i].Error != nil {
			failure++
		} else {
			success++
		}
	}

	final := models.FinalStatus(success, failure)
	if err := s.batches.Finalize(ctx, batch.ID, final, s.now()); err != nil {
		s.logger.Error("failed to finalize batch", "batch_id", batch.ID, "error", err)
	}

	batch, err := s.batches.GetByID(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("reload batch: %w", err)
	}

	s.logger.Info("processed invitation batch",
		"batch_id", batch.ID, "org_id", batch.OrgID,
		"total", batch.TotalCount, "success", success, "failure", failure,
		"status", batch.Status)

	return &BatchResult{
		Batch:        batch,
		Total:        len(emails),
		SuccessCount: success,
		FailureCount: failure,
		Results:      results,
	}, nil
}

// GetBatch returns one batch scoped to the actor's tenant.
func (s *BatchService) GetBatch(ctx context.Context, actor models.Identity, id uuid.UUID) (*models.InvitationBatch, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	if batch == nil || batch.OrgID != actor.OrgID {
		return nil, apperrors.NewNotFoundError("Batch")
	}
	return batch, nil
}

// ListBatches returns the tenant's most recent batches.
func (s *BatchService) ListBatches(ctx context.Context, actor models.Identity, limit int) ([]*models.InvitationBatch, error) {
	batches, err := s.batches.ListByOrg(ctx, actor.OrgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// createMember creates one member invitation. Domain rejections come back as
// *APIError for the item result; infrastructure failures are degraded to an
// internal item error so the rest of the batch proceeds.
func (s *BatchService) createMember(ctx context.Context, actor models.Identity, batch *models.InvitationBatch, email string) (*models.Invitation, *apperrors.APIError) {
	member, err := s.orgs.GetMemberByEmail(ctx, actor.OrgID, email)
	if err != nil {
		s.logger.Error("membership check failed", "batch_id", batch.ID, "email", email, "error", err)
		return nil, apperrors.ErrInternal
	}
	if member != nil {
		return nil, apperrors.NewConflictError("This email address already belongs to a member of the organization")
	}

	now := s.now()
	batchID := batch.ID
	inv := &models.Invitation{
		ID:            uuid.New(),
		OrgID:         actor.OrgID,
		Email:         email,
		Role:          batch.Role,
		AreaID:        batch.AreaID,
		Status:        models.InvitationStatusPending,
		Token:         token.New(),
		Kind:          models.InvitationKindBulk,
		BatchID:       &batchID,
		InvitedBy:     actor.ActorID,
		CustomMessage: batch.DefaultMessage,
		TemplateID:    batch.DefaultTemplate,
		ExpiresAt:     now.Add(models.DefaultExpiry),
	}

	if err := s.invitations.Create(ctx, inv); err != nil {
		if err == repository.ErrDuplicateActive {
			return nil, apperrors.ErrDuplicateActiveInvitation
		}
		s.logger.Error("member invitation create failed", "batch_id", batch.ID, "email", email, "error", err)
		return nil, apperrors.ErrInternal
	}

	invitationsCreatedTotal.WithLabelValues(string(models.InvitationKindBulk)).Inc()
	s.appendEvent(ctx, inv, models.EventCreated, &actor.ActorID, now)
	return inv, nil
}

// sendMembers dispatches created member invitations with bounded concurrency.
// Each goroutine writes only its own index of results, so no locking is
// needed; send failures leave the member pending and become item errors.
// Counter increments are atomic SQL, safe from concurrent goroutines.
func (s *BatchService) sendMembers(ctx context.Context, batchID uuid.UUID, created []*models.Invitation, results []ItemResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, inv := range created {
		if inv == nil {
			continue
		}
		i, inv := i, inv
		g.Go(func() error {
			if err := s.sendMember(gctx, inv); err != nil {
				results[i].Error = apperrors.AsAPIError(err)
				s.bumpFailed(gctx, batchID, 1)
				return nil
			}
			s.bumpSent(gctx, batchID)
			return nil
		})
	}
	// Goroutines never return errors; Wait is only a join point.
	_ = g.Wait()
}

func (s *BatchService) bumpSent(ctx context.Context, batchID uuid.UUID) {
	if err := s.batches.IncrementSent(ctx, batchID); err != nil {
		s.logger.Error("failed to increment batch sent count", "batch_id", batchID, "error", err)
	}
}

func (s *BatchService) bumpFailed(ctx context.Context, batchID uuid.UUID, n int) {
	if err := s.batches.IncrementFailed(ctx, batchID, n); err != nil {
		s.logger.Error("failed to increment batch failed count", "batch_id", batchID, "error", err)
	}
}

func (s *BatchService) sendMember(ctx context.Context, inv *models.Invitation) error {
	res, err := s.dispatcher.Send(ctx, inv, mailInvite)
	if err != nil {
		deliveryFailuresTotal.Inc()
		s.logger.Error("member invitation dispatch failed",
			"invitation_id", inv.ID, "email", inv.Email, "error", err)
		if recErr := s.invitations.RecordDeliveryError(ctx, inv.ID, err.Error()); recErr != nil {
			s.logger.Error("failed to record delivery error", "invitation_id", inv.ID, "error", recErr)
		}
		return apperrors.NewUpstreamDeliveryError(err)
	}

	now := s.now()
	ok, err := s.invitations.MarkSent(ctx, inv.ID, now, res.MessageID)
	if err != nil {
		s.logger.Error("failed to mark member sent", "invitation_id", inv.ID, "error", err)
		return apperrors.ErrInternal
	}
	if ok {
		invitationsSentTotal.Inc()
		s.appendEvent(ctx, inv, models.EventSent, nil, now)
	}
	return nil
}

func (s *BatchService) appendEvent(ctx context.Context, inv *models.Invitation, typ models.EventType, actorID *uuid.UUID, at time.Time) {
	err := s.events.Append(ctx, &models.InvitationEvent{
		InvitationID: inv.ID,
		OrgID:        inv.OrgID,
		Type:         typ,
		ActorID:      actorID,
		OccurredAt:   at,
	})
	if err != nil {
		s.logger.Error("failed to append invitation event",
			"invitation_id", inv.ID, "event_type", typ, "error", err)
	}
}

// dedupeEmails normalizes addresses (trimmed, lowered) and drops duplicates
// while preserving first-occurrence order.
func dedupeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
