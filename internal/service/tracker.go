package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/email"
	"github.com/stratix-hq/control-plane/internal/models"
	"github.com/stratix-hq/control-plane/internal/repository"
)

// Tracker ingests asynchronous delivery provider events (delivered, opened,
// clicked) and projects them onto invitations. A single consumer goroutine
// drains a buffered channel fed by the webhook handler, so the HTTP path
// never blocks on the projection write.
type Tracker struct {
	invitations repository.InvitationRepository
	events      repository.EventRepository
	logger      *slog.Logger
	queue       chan email.Event
	now         func() time.Time
}

// NewTracker creates a tracker with the given ingest buffer size.
func NewTracker(
	invitations repository.InvitationRepository,
	events repository.EventRepository,
	buffer int,
	logger *slog.Logger,
) *Tracker {
	if buffer <= 0 {
		buffer = 256
	}
	return &Tracker{
		invitations: invitations,
		events:      events,
		logger:      logger,
		queue:       make(chan email.Event, buffer),
		now:         time.Now,
	}
}

// Enqueue hands one provider event to the consumer. It blocks only until the
// buffer accepts the event or ctx expires; a full buffer under a dead
// consumer surfaces as a ctx error rather than a wedged webhook handler.
func (t *Tracker) Enqueue(ctx context.Context, ev email.Event) error {
	select {
	case t.queue <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue provider event: %w", ctx.Err())
	}
}

// Run consumes provider events until ctx is cancelled. Intended to run as a
// single goroutine; event ordering within one message id is preserved.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case ev := <-t.queue:
			if err := t.process(ctx, ev); err != nil {
				t.logger.Error("provider event processing failed",
					"message_id", ev.MessageID, "event_type", ev.Type, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) process(ctx context.Context, ev email.Event) error {
	var typ models.EventType
	switch ev.Type {
	case email.EventDelivered:
		typ = models.EventDelivered
	case email.EventOpened:
		typ = models.EventOpened
	case email.EventClicked:
		typ = models.EventClicked
	default:
		t.logger.Warn("ignoring unknown provider event type",
			"message_id", ev.MessageID, "event_type", ev.Type)
		return nil
	}

	inv, err := t.invitations.GetByProviderMessageID(ctx, ev.MessageID)
	if err != nil {
		return fmt.Errorf("lookup invitation by message id: %w", err)
	}
	if inv == nil {
		// Provider events can outlive the messages that caused them
		// (resends reassign the message id). Unmatched events are dropped.
		t.logger.Warn("provider event for unknown message id", "message_id", ev.MessageID)
		return nil
	}

	occurredAt := ev.Timestamp
	if occurredAt.IsZero() {
		occurredAt = t.now()
	}

	err = t.events.Append(ctx, &models.InvitationEvent{
		InvitationID: inv.ID,
		OrgID:        inv.OrgID,
		Type:         typ,
		OccurredAt:   occurredAt,
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}

	// First-touch only: the projection keeps the earliest timestamp per
	// stage, so duplicate and out-of-order provider events are harmless.
	if err := t.invitations.RecordEngagement(ctx, inv.ID, typ, occurredAt); err != nil {
		return fmt.Errorf("record %s engagement: %w", typ, err)
	}

	providerEventsTotal.WithLabelValues(string(typ)).Inc()
	return nil
}

// Projection is the engagement state of one invitation recomputed purely
// from its event log.
type Projection struct {
	InvitationID   uuid.UUID  `json:"invitation_id"`
	EmailSentAt    *time.Time `json:"email_sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	ResendCount    int        `json:"resend_count"`
	ReminderCount  int        `json:"reminder_count"`
	LastReminderAt *time.Time `json:"last_reminder_at,omitempty"`
}

// Replay rebuilds the engagement projection from the append-only event log.
// The result must agree with the counters and timestamps stored on the
// invitation row; disagreement means the projection drifted.
func (t *Tracker) Replay(ctx context.Context, invitationID uuid.UUID) (*Projection, error) {
	events, err := t.events.ListByInvitation(ctx, invitationID)
	if err != nil {
		return nil, fmt.Errorf("list events for replay: %w", err)
	}

	p := &Projection{InvitationID: invitationID}
	firstTouch := func(dst **time.Time, at time.Time) {
		if *dst == nil || at.Before(**dst) {
			ts := at
			*dst = &ts
		}
	}

	for _, ev := range events {
		switch ev.Type {
		case models.EventSent:
			firstTouch(&p.EmailSentAt, ev.OccurredAt)
		case models.EventDelivered:
			firstTouch(&p.DeliveredAt, ev.OccurredAt)
		case models.EventOpened:
			firstTouch(&p.OpenedAt, ev.OccurredAt)
		case models.EventClicked:
			firstTouch(&p.ClickedAt, ev.OccurredAt)
		case models.EventAccepted:
			firstTouch(&p.AcceptedAt, ev.OccurredAt)
		case models.EventResent:
			p.ResendCount++
			firstTouch(&p.EmailSentAt, ev.OccurredAt)
		case models.EventReminded:
			p.ReminderCount++
			ts := ev.OccurredAt
			if p.LastReminderAt == nil || ts.After(*p.LastReminderAt) {
				p.LastReminderAt = &ts
			}
		}
	}
	return p, nil
}
