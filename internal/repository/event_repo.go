package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratix-hq/control-plane/internal/models"
	"github.com/stratix-hq/control-plane/internal/pkg/ulid"
)

// EventRepository defines the interface for the append-only invitation event
// log. Events are immutable once written; there is no update or delete.
type EventRepository interface {
	Append(ctx context.Context, event *models.InvitationEvent) error
	ListByInvitation(ctx context.Context, invitationID uuid.UUID) ([]*models.InvitationEvent, error)
}

type eventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new event repository.
func NewEventRepository(pool *pgxpool.Pool) EventRepository {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Append(ctx context.Context, event *models.InvitationEvent) error {
	query := `
		INSERT INTO invitation_events (id, invitation_id, org_id, event_type, actor_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if event.ID == "" {
		event.ID = ulid.NewFromTime(event.OccurredAt)
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.InvitationID,
		event.OrgID,
		event.Type,
		event.ActorID,
		event.Metadata,
		event.OccurredAt,
	)
	return err
}

func (r *eventRepo) ListByInvitation(ctx context.Context, invitationID uuid.UUID) ([]*models.InvitationEvent, error) {
	query := `
		SELECT id, invitation_id, org_id, event_type, actor_id, metadata, occurred_at
		FROM invitation_events
		WHERE invitation_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, invitationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.InvitationEvent
	for rows.Next() {
		var ev models.InvitationEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.InvitationID,
			&ev.OrgID,
			&ev.Type,
			&ev.ActorID,
			&ev.Metadata,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Compile-time check to ensure eventRepo implements EventRepository.
var _ EventRepository = (*eventRepo)(nil)
