package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratix-hq/control-plane/internal/models"
)

// OrgRepository exposes the minimal tenant surface the invitation engine
// needs: duplicate-member checks, membership creation on acceptance, and the
// tenant list the scheduler iterates.
type OrgRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	ListOrgIDs(ctx context.Context) ([]uuid.UUID, error)
	GetMemberByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.OrgMember, error)
	GetMember(ctx context.Context, orgID, userID uuid.UUID) (*models.OrgMember, error)
	AddMember(ctx context.Context, member *models.OrgMember) error
}

type orgRepo struct {
	pool *pgxpool.Pool
}

// NewOrgRepository creates a new organization repository.
func NewOrgRepository(pool *pgxpool.Pool) OrgRepository {
	return &orgRepo{pool: pool}
}

func (r *orgRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	query := `SELECT id, name, slug, created_at, updated_at FROM organizations WHERE id = $1`

	var org models.Organization
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.Slug,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *orgRepo) ListOrgIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *orgRepo) GetMemberByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.OrgMember, error) {
	query := `
		SELECT org_id, user_id, email, role, joined_at
		FROM org_members
		WHERE org_id = $1 AND lower(email) = lower($2)`

	var m models.OrgMember
	err := r.pool.QueryRow(ctx, query, orgID, email).Scan(
		&m.OrgID,
		&m.UserID,
		&m.Email,
		&m.Role,
		&m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *orgRepo) GetMember(ctx context.Context, orgID, userID uuid.UUID) (*models.OrgMember, error) {
	query := `
		SELECT org_id, user_id, email, role, joined_at
		FROM org_members
		WHERE org_id = $1 AND user_id = $2`

	var m models.OrgMember
	err := r.pool.QueryRow(ctx, query, orgID, userID).Scan(
		&m.OrgID,
		&m.UserID,
		&m.Email,
		&m.Role,
		&m.JoinedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *orgRepo) AddMember(ctx context.Context, member *models.OrgMember) error {
	query := `
		INSERT INTO org_members (org_id, user_id, email, role)
		VALUES ($1, $2, lower($3), $4)
		ON CONFLICT (org_id, user_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		member.OrgID,
		member.UserID,
		member.Email,
		member.Role,
	)
	return err
}

// Compile-time check to ensure orgRepo implements OrgRepository.
var _ OrgRepository = (*orgRepo)(nil)
