package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/authz"
	"github.com/stratix-hq/control-plane/internal/models"
	apperrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/repository"
)

// CancelService revokes outstanding invitations. Bulk cancellation is
// per-item, never all-or-nothing: each id gets its own authorization check,
// conditional transition and outcome.
type CancelService struct {
	invitations repository.InvitationRepository
	batches     repository.BatchRepository
	events      repository.EventRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewCancelService creates a new cancellation service.
func NewCancelService(
	invitations repository.InvitationRepository,
	batches repository.BatchRepository,
	events repository.EventRepository,
	logger *slog.Logger,
) *CancelService {
	return &CancelService{
		invitations: invitations,
		batches:     batches,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// CancelOutcome is the result for one id in a cancellation request.
type CancelOutcome struct {
	InvitationID uuid.UUID           `json:"invitation_id"`
	Cancelled    bool                `json:"cancelled"`
	Error        *apperrors.APIError `json:"error,omitempty"`

	// batchID links a cancelled bulk member back to its parent batch for
	// the failed-counter bump; not part of the API response.
	batchID *uuid.UUID
}

// CancelResult aggregates per-item cancellation outcomes.
type CancelResult struct {
	Cancelled int             `json:"cancelled"`
	Failed    int             `json:"failed"`
	Results   []CancelOutcome `json:"results"`
}

// Cancel revokes one invitation. A cancelled bulk member bumps its parent
// batch's failed counter the same way CancelMany does.
func (s *CancelService) Cancel(ctx context.Context, actor models.Identity, id uuid.UUID, reason *string) (*models.Invitation, error) {
	outcome := s.cancelOne(ctx, actor, id, reason)
	if outcome.Error != nil {
		return nil, outcome.Error
	}
	if outcome.batchID != nil {
		s.bumpBatchFailures(ctx, map[uuid.UUID]int{*outcome.batchID: 1})
	}
	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload invitation: %w", err)
	}
	return inv, nil
}

// CancelMany revokes a set of invitations, one outcome per id in input
// order. Cancelled bulk members bump their parent batch's failed counter,
// grouped per batch; the counter cap keeps the batch invariant intact even
// after finalization.
func (s *CancelService) CancelMany(ctx context.Context, actor models.Identity, ids []uuid.UUID, reason *string) (*CancelResult, error) {
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("ids", "at least one invitation id is required")
	}

	result := &CancelResult{Results: make([]CancelOutcome, 0, len(ids))}
	batchCancels := make(map[uuid.UUID]int)

	for _, id := range ids {
		outcome := s.cancelOne(ctx, actor, id, reason)
		if outcome.Cancelled {
			result.Cancelled++
			if outcome.batchID != nil {
				batchCancels[*outcome.batchID]++
			}
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, outcome)
	}

	s.bumpBatchFailures(ctx, batchCancels)

	return result, nil
}

// bumpBatchFailures increments the failed counter of each parent batch that
// lost cancelled members. The SQL cap keeps sent+failed <= total even after
// finalization.
func (s *CancelService) bumpBatchFailures(ctx context.Context, batchCancels map[uuid.UUID]int) {
	for batchID, n := range batchCancels {
		if err := s.batches.IncrementFailed(ctx, batchID, n); err != nil {
			s.logger.Error("failed to bump batch failed count after cancellations",
				"batch_id", batchID, "error", err)
		}
	}
}

func (s *CancelService) cancelOne(ctx context.Context, actor models.Identity, id uuid.UUID, reason *string) CancelOutcome {
	fail := func(err *apperrors.APIError) CancelOutcome {
		return CancelOutcome{InvitationID: id, Error: err}
	}

	inv, err := s.invitations.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("cancel lookup failed", "invitation_id", id, "error", err)
		return fail(apperrors.ErrInternal)
	}
	if inv == nil || inv.OrgID != actor.OrgID {
		return fail(apperrors.NewNotFoundError("Invitation"))
	}
	if !authz.CanCancelInvitation(actor.Role, inv.InvitedBy, actor.ActorID) {
		return fail(apperrors.ErrForbidden)
	}
	if inv.Status.IsTerminal() {
		return fail(apperrors.NewStateConflictError(string(inv.Status)))
	}

	now := s.now()
	ok, err := s.invitations.Cancel(ctx, inv.ID, now)
	if err != nil {
		s.logger.Error("cancel transition failed", "invitation_id", id, "error", err)
		return fail(apperrors.ErrInternal)
	}
	if !ok {
		current, err := s.invitations.GetByID(ctx, inv.ID)
		if err != nil || current == nil {
			return fail(apperrors.ErrConflict)
		}
		return fail(apperrors.NewStateConflictError(string(current.Status)))
	}

	invitationsCancelledTotal.Inc()
	s.appendCancelEvent(ctx, inv, actor.ActorID, reason, now)

	return CancelOutcome{InvitationID: id, Cancelled: true, batchID: inv.BatchID}
}

func (s *CancelService) appendCancelEvent(ctx context.Context, inv *models.Invitation, actorID uuid.UUID, reason *string, at time.Time) {
	var raw json.RawMessage
	if reason != nil && *reason != "" {
		b, err := json.Marshal(map[string]string{"reason": *reason})
		if err == nil {
			raw = b
		}
	}

	err := s.events.Append(ctx, &models.InvitationEvent{
		InvitationID: inv.ID,
		OrgID:        inv.OrgID,
		Type:         models.EventCancelled,
		ActorID:      &actorID,
		Metadata:     raw,
		OccurredAt:   at,
	})
	if err != nil {
		s.logger.Error("failed to append cancelled event", "invitation_id", inv.ID, "error", err)
	}
}
