// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratix-hq/control-plane/internal/models"
)

// ErrDuplicateActive is returned by Create when the tenant already has a
// pending or sent invitation for the same email address.
var ErrDuplicateActive = errors.New("active invitation already exists for email")

const invitationColumns = `
	id, org_id, email, role, area_id, status, token, kind, batch_id,
	invited_by, custom_message, template_id, created_at, updated_at, expires_at,
	email_sent_at, delivered_at, opened_at, clicked_at, accepted_at, accepted_by,
	resend_count, reminder_count, last_reminder_at, last_delivery_error,
	provider_message_id`

// InvitationRepository defines the interface for invitation persistence.
// All state transitions are conditional updates: the boolean result reports
// whether the row was in an eligible state, so concurrent writers race
// safely and the loser observes a conflict.
type InvitationRepository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error)
	GetByToken(ctx context.Context, tok string) (*models.Invitation, error)
	GetByProviderMessageID(ctx context.Context, messageID string) (*models.Invitation, error)
	GetActiveByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.Invitation, error)
	List(ctx context.Context, q models.InvitationQuery) ([]*models.Invitation, int64, error)
	// ListOutstanding returns pending/sent invitations; nil orgID scans all tenants.
	ListOutstanding(ctx context.Context, orgID *uuid.UUID) ([]*models.Invitation, error)

	// MarkSent transitions pending -> sent.
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, messageID string) (bool, error)
	// RecordResend increments resend_count and extends (never shortens) expiry.
	RecordResend(ctx context.Context, id uuid.UUID, expiresAt time.Time, messageID string, at time.Time) (bool, error)
	// RecordReminder increments reminder_count and stamps last_reminder_at.
	RecordReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// RecordDeliveryError stores the gateway failure on the invitation.
	RecordDeliveryError(ctx context.Context, id uuid.UUID, message string) error
	// RecordEngagement sets a first-touch timestamp (delivered/opened/clicked);
	// an already-set timestamp is never moved.
	RecordEngagement(ctx context.Context, id uuid.UUID, event models.EventType, at time.Time) error
	// Accept transitions pending/sent -> accepted and inserts the membership
	// row in the same transaction, so acceptance and membership never
	// diverge.
	Accept(ctx context.Context, id uuid.UUID, member *models.OrgMember, at time.Time) (bool, error)
	// Cancel transitions pending/sent -> cancelled.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type invitationRepo struct {
	pool *pgxpool.Pool
}

// NewInvitationRepository creates a new invitation repository.
func NewInvitationRepository(pool *pgxpool.Pool) InvitationRepository {
	return &invitationRepo{pool: pool}
}

func (r *invitationRepo) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (
			id, org_id, email, role, area_id, status, token, kind, batch_id,
			invited_by, custom_message, template_id, expires_at
		)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, query,
		inv.ID,
		inv.OrgID,
		inv.Email,
		inv.Role,
		inv.AreaID,
		inv.Status,
		inv.Token,
		inv.Kind,
		inv.BatchID,
		inv.InvitedBy,
		inv.CustomMessage,
		inv.TemplateID,
		inv.ExpiresAt,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_invitations_active" {
		return ErrDuplicateActive
	}
	return err
}

func (r *invitationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *invitationRepo) GetByToken(ctx context.Context, tok string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE token = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, tok))
}

func (r *invitationRepo) GetByProviderMessageID(ctx context.Context, messageID string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE provider_message_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, messageID))
}

func (r *invitationRepo) GetActiveByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations
		WHERE org_id = $1 AND lower(email) = lower($2) AND status IN ('pending', 'sent')`
	return r.scanOne(r.pool.QueryRow(ctx, query, orgID, email))
}

func (r *invitationRepo) List(ctx context.Context, q models.InvitationQuery) ([]*models.Invitation, int64, error) {
	where := ` WHERE org_id = $1`
	args := []any{q.OrgID}

	if q.Status != nil {
		args = append(args, *q.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if q.Email != nil {
		args = append(args, *q.Email)
		where += fmt.Sprintf(` AND lower(email) = lower($%d)`, len(args))
	}
	if q.BatchID != nil {
		args = append(args, *q.BatchID)
		where += fmt.Sprintf(` AND batch_id = $%d`, len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM invitations`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := q.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 50
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	args = append(args, perPage, (page-1)*perPage)
	query := `SELECT ` + invitationColumns + ` FROM invitations` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	invs, err := scanAll(rows)
	return invs, total, err
}

func (r *invitationRepo) ListOutstanding(ctx context.Context, orgID *uuid.UUID) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + `
		FROM invitations WHERE status IN ('pending', 'sent')`
	args := []any{}
	if orgID != nil {
		query += ` AND org_id = $1`
		args = append(args, *orgID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAll(rows)
}

func (r *invitationRepo) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time, messageID string) (bool, error) {
	query := `
		UPDATE invitations
		SET status = 'sent',
		    email_sent_at = COALESCE(email_sent_at, $2),
		    provider_message_id = $3,
		    last_delivery_error = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query, id, sentAt, messageID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invitationRepo) RecordResend(ctx context.Context, id uuid.UUID, expiresAt time.Time, messageID string, at time.Time) (bool, error) {
	// GREATEST keeps the invariant that a resend only ever extends expiry.
	query := `
		UPDATE invitations
		SET resend_count = resend_count + 1,
		    expires_at = GREATEST(expires_at, $2),
		    provider_message_id = $3,
		    email_sent_at = COALESCE(email_sent_at, $4),
		    last_delivery_error = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'sent'`

	tag, err := r.pool.Exec(ctx, query, id, expiresAt, messageID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invitationRepo) RecordReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE invitations
		SET reminder_count = reminder_count + 1,
		    last_reminder_at = $2,
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'sent')`

	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invitationRepo) RecordDeliveryError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE invitations
		SET last_delivery_error = $2, updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, message)
	return err
}

func (r *invitationRepo) RecordEngagement(ctx context.Context, id uuid.UUID, event models.EventType, at time.Time) error {
	var column string
	switch event {
	case models.EventDelivered:
		column = "delivered_at"
	case models.EventOpened:
		column = "opened_at"
	case models.EventClicked:
		column = "clicked_at"
	default:
		return fmt.Errorf("event %q has no engagement timestamp", event)
	}

	query := fmt.Sprintf(`
		UPDATE invitations
		SET %s = COALESCE(%s, $2), updated_at = now()
		WHERE id = $1`, column, column)

	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

func (r *invitationRepo) Accept(ctx context.Context, id uuid.UUID, member *models.OrgMember, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE invitations
		SET status = 'accepted',
		    accepted_at = $2,
		    accepted_by = $3,
		    updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'sent')`

	tag, err := tx.Exec(ctx, query, id, at, member.UserID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race; nothing to commit.
		return false, nil
	}

	memberQuery := `
		INSERT INTO org_members (org_id, user_id, email, role)
		VALUES ($1, $2, lower($3), $4)
		ON CONFLICT (org_id, user_id) DO NOTHING`

	if _, err := tx.Exec(ctx, memberQuery, member.OrgID, member.UserID, member.Email, member.Role); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (r *invitationRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE invitations
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'sent')`

	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invitationRepo) scanOne(row pgx.Row) (*models.Invitation, error) {
	inv, err := scanInvitation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func scanInvitation(row pgx.Row) (*models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(
		&inv.ID,
		&inv.OrgID,
		&inv.Email,
		&inv.Role,
		&inv.AreaID,
		&inv.Status,
		&inv.Token,
		&inv.Kind,
		&inv.BatchID,
		&inv.InvitedBy,
		&inv.CustomMessage,
		&inv.TemplateID,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&inv.ExpiresAt,
		&inv.EmailSentAt,
		&inv.DeliveredAt,
		&inv.OpenedAt,
		&inv.ClickedAt,
		&inv.AcceptedAt,
		&inv.AcceptedBy,
		&inv.ResendCount,
		&inv.ReminderCount,
		&inv.LastReminderAt,
		&inv.LastDeliveryError,
		&inv.ProviderMessageID,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func scanAll(rows pgx.Rows) ([]*models.Invitation, error) {
	var invs []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// Compile-time check to ensure invitationRepo implements InvitationRepository.
var _ InvitationRepository = (*invitationRepo)(nil)
