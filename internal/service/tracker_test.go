package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/models"
)

func seedSentInvitation(t *testing.T, invs *mockInvitationRepo, messageID string) *models.Invitation {
	t.Helper()

	inv := &models.Invitation{
		OrgID:     uuid.New(),
		Email:     uuid.NewString() + "@example.com",
		Role:      models.RoleViewer,
		Status:    models.InvitationStatusPending,
		Token:     uuid.NewString(),
		Kind:      models.InvitationKindSingle,
		InvitedBy: uuid.New(),
		ExpiresAt: time.Now().Add(models.DefaultExpiry),
	}
	require.NoError(t, invs.Create(context.Background(), inv))

	ok, err := invs.MarkSent(context.Background(), inv.ID, time.Now(), messageID)
	require.NoError(t, err)
	require.True(t, ok)
	return inv
}

func TestTrackerProcess(t *testing.T) {
	invs := newMockInvitationRepo()
	events := newMockEventRepo()
	tracker := NewTracker(invs, events, 16, testLogger())
	ctx := context.Background()

	inv := seedSentInvitation(t, invs, "msg-1")
	deliveredAt := time.Now().Add(-time.Hour)

	require.NoError(t, tracker.process(ctx, email.Event{
		MessageID: "msg-1", Type: email.EventDelivered, Timestamp: deliveredAt,
	}))
	require.NoError(t, tracker.process(ctx, email.Event{
		MessageID: "msg-1", Type: email.EventOpened, Timestamp: deliveredAt.Add(10 * time.Minute),
	}))

	stored, err := invs.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DeliveredAt)
	assert.WithinDuration(t, deliveredAt, *stored.DeliveredAt, time.Second)
	require.NotNil(t, stored.OpenedAt)
	assert.Nil(t, stored.ClickedAt)

	assert.Len(t, events.byType(inv.ID, models.EventDelivered), 1)
	assert.Len(t, events.byType(inv.ID, models.EventOpened), 1)
}

func TestTrackerDuplicatesKeepFirstTouch(t *testing.T) {
	invs := newMockInvitationRepo()
	events := newMockEventRepo()
	tracker := NewTracker(invs, events, 16, testLogger())
	ctx := context.Background()

	inv := seedSentInvitation(t, invs, "msg-2")
	first := time.Now().Add(-2 * time.Hour)

	require.NoError(t, tracker.process(ctx, email.Event{
		MessageID: "msg-2", Type: email.EventOpened, Timestamp: first,
	}))
	require.NoError(t, tracker.process(ctx, email.Event{
		MessageID: "msg-2", Type: email.EventOpened, Timestamp: first.Add(time.Hour),
	}))

	stored, err := invs.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, first, *stored.OpenedAt, time.Second,
		"later duplicates never move the first-touch timestamp")
	assert.Len(t, events.byType(inv.ID, models.EventOpened), 2,
		"the log still records every provider event")
}

func TestTrackerUnknownMessageIDDropped(t *testing.T) {
	invs := newMockInvitationRepo()
	events := newMockEventRepo()
	tracker := NewTracker(invs, events, 16, testLogger())

	err := tracker.process(context.Background(), email.Event{
		MessageID: "never-sent", Type: email.EventClicked, Timestamp: time.Now(),
	})
	assert.NoError(t, err, "unmatched events are dropped, not retried")
}

func TestTrackerRunConsumesQueue(t *testing.T) {
	invs := newMockInvitationRepo()
	events := newMockEventRepo()
	tracker := NewTracker(invs, events, 16, testLogger())

	inv := seedSentInvitation(t, invs, "msg-3")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	require.NoError(t, tracker.Enqueue(ctx, email.Event{
		MessageID: "msg-3", Type: email.EventClicked, Timestamp: time.Now(),
	}))

	require.Eventually(t, func() bool {
		stored, err := invs.GetByID(context.Background(), inv.ID)
		return err == nil && stored.ClickedAt != nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestReplayMatchesProjection(t *testing.T) {
	invs := newMockInvitationRepo()
	events := newMockEventRepo()
	tracker := NewTracker(invs, events, 16, testLogger())
	ctx := context.Background()

	inv := seedSentInvitation(t, invs, "msg-4")
	base := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)

	log := []struct {
		typ models.EventType
		at  time.Time
	}{
		{models.EventSent, base},
		{models.EventDelivered, base.Add(time.Minute)},
		{models.EventOpened, base.Add(2 * time.Hour)},
		{models.EventReminded, base.Add(72 * time.Hour)},
		{models.EventResent, base.Add(170 * time.Hour)},
		{models.EventReminded, base.Add(200 * time.Hour)},
		{models.EventClicked, base.Add(210 * time.Hour)},
		{models.EventAccepted, base.Add(211 * time.Hour)},
	}
	for _, entry := range log {
		require.NoError(t, events.Append(ctx, &models.InvitationEvent{
			InvitationID: inv.ID,
			OrgID:        inv.OrgID,
			Type:         entry.typ,
			OccurredAt:   entry.at,
		}))
	}

	p, err := tracker.Replay(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, base, *p.EmailSentAt)
	assert.Equal(t, base.Add(time.Minute), *p.DeliveredAt)
	assert.Equal(t, base.Add(2*time.Hour), *p.OpenedAt)
	assert.Equal(t, base.Add(210*time.Hour), *p.ClickedAt)
	assert.Equal(t, base.Add(211*time.Hour), *p.AcceptedAt)
	assert.Equal(t, 1, p.ResendCount)
	assert.Equal(t, 2, p.ReminderCount)
	assert.Equal(t, base.Add(200*time.Hour), *p.LastReminderAt)
}

func TestReplayEmptyLog(t *testing.T) {
	tracker := NewTracker(newMockInvitationRepo(), newMockEventRepo(), 16, testLogger())

	p, err := tracker.Replay(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, p.EmailSentAt)
	assert.Zero(t, p.ResendCount)
	assert.Zero(t, p.ReminderCount)
}
