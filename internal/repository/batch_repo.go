package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratix-hq/control-plane/internal/models"
)

const batchColumns = `
	id, org_id, created_by, name, total_count, sent_count, failed_count,
	role, area_id, default_message, default_template, status, completed_at, created_at`

// BatchRepository defines the interface for invitation batch persistence.
// Counter updates are atomic SQL increments, never read-modify-write, since
// multiple member sends may complete concurrently.
type BatchRepository interface {
	Create(ctx context.Context, batch *models.InvitationBatch) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.InvitationBatch, error)
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.InvitationBatch, error)
	IncrementSent(ctx context.Context, id uuid.UUID) error
	// IncrementFailed adds n to failed_count, capped so that
	// sent_count + failed_count never exceeds total_count.
	IncrementFailed(ctx context.Context, id uuid.UUID, n int) error
	Finalize(ctx context.Context, id uuid.UUID, status models.BatchStatus, at time.Time) error
}

type batchRepo struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a new batch repository.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepo{pool: pool}
}

func (r *batchRepo) Create(ctx context.Context, batch *models.InvitationBatch) error {
	query := `
		INSERT INTO invitation_batches (
			id, org_id, created_by, name, total_count, role, area_id,
			default_message, default_template, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusProcessing
	}

	return r.pool.QueryRow(ctx, query,
		batch.ID,
		batch.OrgID,
		batch.CreatedBy,
		batch.Name,
		batch.TotalCount,
		batch.Role,
		batch.AreaID,
		batch.DefaultMessage,
		batch.DefaultTemplate,
		batch.Status,
	).Scan(&batch.CreatedAt)
}

func (r *batchRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.InvitationBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM invitation_batches WHERE id = $1`

	batch, err := scanBatch(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *batchRepo) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.InvitationBatch, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + batchColumns + `
		FROM invitation_batches WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.InvitationBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func (r *batchRepo) IncrementSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE invitation_batches SET sent_count = sent_count + 1 WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *batchRepo) IncrementFailed(ctx context.Context, id uuid.UUID, n int) error {
	query := `
		UPDATE invitation_batches
		SET failed_count = LEAST(total_count - sent_count, failed_count + $2)
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id, n)
	return err
}

func (r *batchRepo) Finalize(ctx context.Context, id uuid.UUID, status models.BatchStatus, at time.Time) error {
	query := `
		UPDATE invitation_batches
		SET status = $2, completed_at = $3
		WHERE id = $1 AND status = 'processing'`
	_, err := r.pool.Exec(ctx, query, id, status, at)
	return err
}

func scanBatch(row pgx.Row) (*models.InvitationBatch, error) {
	var b models.InvitationBatch
	err := row.Scan(
		&b.ID,
		&b.OrgID,
		&b.CreatedBy,
		&b.Name,
		&b.TotalCount,
		&b.SentCount,
		&b.FailedCount,
		&b.Role,
		&b.AreaID,
		&b.DefaultMessage,
		&b.DefaultTemplate,
		&b.Status,
		&b.CompletedAt,
		&b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Compile-time check to ensure batchRepo implements BatchRepository.
var _ BatchRepository = (*batchRepo)(nil)
