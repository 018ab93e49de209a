package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratix-hq/control-plane/internal/models"
	apperrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
)

type cancelFixture struct {
	svc     *CancelService
	invs    *mockInvitationRepo
	batches *mockBatchRepo
	events  *mockEventRepo
	actor   models.Identity
}

func newCancelFixture(t *testing.T) *cancelFixture {
	t.Helper()

	invs := newMockInvitationRepo()
	batches := newMockBatchRepo()
	events := newMockEventRepo()

	return &cancelFixture{
		svc:     NewCancelService(invs, batches, events, testLogger()),
		invs:    invs,
		batches: batches,
		events:  events,
		actor: models.Identity{
			OrgID:   uuid.New(),
			ActorID: uuid.New(),
			Role:    models.RoleAdmin,
		},
	}
}

func (f *cancelFixture) seed(t *testing.T, status models.InvitationStatus, invitedBy uuid.UUID, batchID *uuid.UUID) *models.Invitation {
	t.Helper()
	inv := &models.Invitation{
		OrgID:     f.actor.OrgID,
		Email:     uuid.NewString() + "@example.com",
		Role:      models.RoleViewer,
		Status:    status,
		Token:     uuid.NewString(),
		Kind:      models.InvitationKindSingle,
		BatchID:   batchID,
		InvitedBy: invitedBy,
		ExpiresAt: time.Now().Add(models.DefaultExpiry),
	}
	if batchID != nil {
		inv.Kind = models.InvitationKindBulk
	}
	require.NoError(t, f.invs.Create(context.Background(), inv))
	return inv
}

func TestCancel(t *testing.T) {
	f := newCancelFixture(t)
	inv := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, nil)

	reason := "role filled"
	cancelled, err := f.svc.Cancel(context.Background(), f.actor, inv.ID, &reason)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationStatusCancelled, cancelled.Status)

	events := f.events.byType(inv.ID, models.EventCancelled)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"reason":"role filled"}`, string(events[0].Metadata))
}

func TestCancelAcceptedConflict(t *testing.T) {
	f := newCancelFixture(t)
	inv := f.seed(t, models.InvitationStatusAccepted, f.actor.ActorID, nil)

	_, err := f.svc.Cancel(context.Background(), f.actor, inv.ID, nil)
	require.Error(t, err)
	assert.Equal(t, "conflict", apperrors.Code(err))
	assert.Contains(t, err.Error(), "accepted")
	assert.Empty(t, f.events.byType(inv.ID, models.EventCancelled))
}

func TestCancelAuthz(t *testing.T) {
	f := newCancelFixture(t)
	sender := uuid.New()
	inv := f.seed(t, models.InvitationStatusSent, sender, nil)

	// A collaborator who is not the sender may not cancel.
	other := models.Identity{OrgID: f.actor.OrgID, ActorID: uuid.New(), Role: models.RoleCollaborator}
	_, err := f.svc.Cancel(context.Background(), other, inv.ID, nil)
	assert.Equal(t, "forbidden", apperrors.Code(err))

	// The original sender may.
	asSender := models.Identity{OrgID: f.actor.OrgID, ActorID: sender, Role: models.RoleCollaborator}
	_, err = f.svc.Cancel(context.Background(), asSender, inv.ID, nil)
	assert.NoError(t, err)
}

func TestCancelCrossTenant(t *testing.T) {
	f := newCancelFixture(t)
	inv := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, nil)

	other := models.Identity{OrgID: uuid.New(), ActorID: uuid.New(), Role: models.RoleOwner}
	_, err := f.svc.Cancel(context.Background(), other, inv.ID, nil)
	assert.Equal(t, "not_found", apperrors.Code(err))
}

func TestCancelManyPerItem(t *testing.T) {
	f := newCancelFixture(t)
	ctx := context.Background()

	ok1 := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, nil)
	accepted := f.seed(t, models.InvitationStatusAccepted, f.actor.ActorID, nil)
	ok2 := f.seed(t, models.InvitationStatusPending, f.actor.ActorID, nil)
	missing := uuid.New()

	result, err := f.svc.CancelMany(ctx, f.actor, []uuid.UUID{ok1.ID, accepted.ID, ok2.ID, missing}, nil)
	require.NoError(t, err, "per-item failures never fail the bulk call")

	assert.Equal(t, 2, result.Cancelled)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Results, 4)

	assert.True(t, result.Results[0].Cancelled)
	assert.Equal(t, "conflict", result.Results[1].Error.Code)
	assert.True(t, result.Results[2].Cancelled)
	assert.Equal(t, "not_found", result.Results[3].Error.Code)
}

func TestCancelBumpsBatchCounter(t *testing.T) {
	f := newCancelFixture(t)
	ctx := context.Background()

	batch := &models.InvitationBatch{
		OrgID:      f.actor.OrgID,
		CreatedBy:  f.actor.ActorID,
		TotalCount: 2,
		Role:       models.RoleViewer,
		Status:     models.BatchStatusProcessing,
	}
	require.NoError(t, f.batches.Create(ctx, batch))
	require.NoError(t, f.batches.IncrementSent(ctx, batch.ID))
	require.NoError(t, f.batches.Finalize(ctx, batch.ID, models.BatchStatusCompleted, time.Now()))

	member := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, &batch.ID)

	_, err := f.svc.Cancel(ctx, f.actor, member.ID, nil)
	require.NoError(t, err)

	stored, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedCount,
		"a single cancel of a bulk member reaches the parent batch like a bulk cancel does")
}

func TestCancelSingleKindSkipsBatchCounter(t *testing.T) {
	f := newCancelFixture(t)
	inv := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, nil)

	_, err := f.svc.Cancel(context.Background(), f.actor, inv.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, f.batches.batches, "non-bulk cancellations touch no batch")
}

func TestCancelManyBumpsBatchCounter(t *testing.T) {
	f := newCancelFixture(t)
	ctx := context.Background()

	batch := &models.InvitationBatch{
		OrgID:      f.actor.OrgID,
		CreatedBy:  f.actor.ActorID,
		TotalCount: 3,
		Role:       models.RoleViewer,
		Status:     models.BatchStatusProcessing,
	}
	require.NoError(t, f.batches.Create(ctx, batch))
	require.NoError(t, f.batches.IncrementSent(ctx, batch.ID))
	require.NoError(t, f.batches.IncrementSent(ctx, batch.ID))

	a := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, &batch.ID)
	b := f.seed(t, models.InvitationStatusSent, f.actor.ActorID, &batch.ID)

	_, err := f.svc.CancelMany(ctx, f.actor, []uuid.UUID{a.ID, b.ID}, nil)
	require.NoError(t, err)

	stored, err := f.batches.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedCount,
		"failed_count is capped so sent+failed never exceeds total")
}
