package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stratix-hq/control-plane/internal/models"
)

// StatusCounts holds invitation totals by outcome for one tenant.
type StatusCounts struct {
	Total     int
	Sent      int
	Accepted  int
	Pending   int
	Expired   int
	Cancelled int
}

// FunnelCounts holds raw engagement funnel counts.
type FunnelCounts struct {
	Sent      int
	Delivered int
	Opened    int
	Clicked   int
	Accepted  int
}

// AnalyticsRepository exposes the aggregate queries behind the invitation
// report. All methods accept an optional created_at range; a nil bound is
// unbounded on that side.
type AnalyticsRepository interface {
	StatusCounts(ctx context.Context, orgID uuid.UUID, from, to *time.Time) (*StatusCounts, error)
	FunnelCounts(ctx context.Context, orgID uuid.UUID, from, to *time.Time) (*FunnelCounts, error)
	// TimeToAcceptHours returns hours between dispatch and acceptance for
	// every accepted invitation in range.
	TimeToAcceptHours(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]float64, error)
	RoleDistribution(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.DistributionEntry, error)
	AreaDistribution(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.DistributionEntry, error)
	TopSenders(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit int) ([]models.SenderVolume, error)
	MonthlyTrend(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.MonthlyTrendEntry, error)
}

type analyticsRepo struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates a new analytics repository.
func NewAnalyticsRepository(pool *pgxpool.Pool) AnalyticsRepository {
	return &analyticsRepo{pool: pool}
}

// rangeClause appends created_at bounds to a WHERE clause that already has
// org_id as $1.
func rangeClause(from, to *time.Time, args []any) (string, []any) {
	clause := ""
	if from != nil {
		args = append(args, *from)
		clause += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		clause += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	return clause, args
}

func (r *analyticsRepo) StatusCounts(ctx context.Context, orgID uuid.UUID, from, to *time.Time) (*StatusCounts, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'sent'),
			count(*) FILTER (WHERE status = 'accepted'),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status IN ('pending', 'sent') AND expires_at < now()),
			count(*) FILTER (WHERE status = 'cancelled')
		FROM invitations
		WHERE org_id = $1` + clause

	var c StatusCounts
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&c.Total, &c.Sent, &c.Accepted, &c.Pending, &c.Expired, &c.Cancelled,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *analyticsRepo) FunnelCounts(ctx context.Context, orgID uuid.UUID, from, to *time.Time) (*FunnelCounts, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT
			count(*) FILTER (WHERE email_sent_at IS NOT NULL),
			count(*) FILTER (WHERE delivered_at IS NOT NULL),
			count(*) FILTER (WHERE opened_at IS NOT NULL),
			count(*) FILTER (WHERE clicked_at IS NOT NULL),
			count(*) FILTER (WHERE accepted_at IS NOT NULL)
		FROM invitations
		WHERE org_id = $1` + clause

	var f FunnelCounts
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&f.Sent, &f.Delivered, &f.Opened, &f.Clicked, &f.Accepted,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *analyticsRepo) TimeToAcceptHours(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]float64, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT EXTRACT(EPOCH FROM (accepted_at - email_sent_at)) / 3600.0
		FROM invitations
		WHERE org_id = $1 AND accepted_at IS NOT NULL AND email_sent_at IS NOT NULL` + clause

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []float64
	for rows.Next() {
		var h float64
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

func (r *analyticsRepo) RoleDistribution(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.DistributionEntry, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT role, count(*), count(*) FILTER (WHERE status = 'accepted')
		FROM invitations
		WHERE org_id = $1` + clause + `
		GROUP BY role ORDER BY count(*) DESC`

	return r.scanDistribution(ctx, query, args)
}

func (r *analyticsRepo) AreaDistribution(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.DistributionEntry, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT COALESCE(area_id::text, 'unassigned'), count(*), count(*) FILTER (WHERE status = 'accepted')
		FROM invitations
		WHERE org_id = $1` + clause + `
		GROUP BY area_id ORDER BY count(*) DESC`

	return r.scanDistribution(ctx, query, args)
}

func (r *analyticsRepo) scanDistribution(ctx context.Context, query string, args []any) ([]models.DistributionEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.DistributionEntry
	for rows.Next() {
		var e models.DistributionEntry
		if err := rows.Scan(&e.Key, &e.Total, &e.Accepted); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *analyticsRepo) TopSenders(ctx context.Context, orgID uuid.UUID, from, to *time.Time, limit int) ([]models.SenderVolume, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)
	args = append(args, limit)

	query := `
		SELECT invited_by, count(*), count(*) FILTER (WHERE status = 'accepted')
		FROM invitations
		WHERE org_id = $1` + clause + fmt.Sprintf(`
		GROUP BY invited_by ORDER BY count(*) DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var senders []models.SenderVolume
	for rows.Next() {
		var s models.SenderVolume
		if err := rows.Scan(&s.SenderID, &s.Total, &s.Accepted); err != nil {
			return nil, err
		}
		senders = append(senders, s)
	}
	return senders, rows.Err()
}

func (r *analyticsRepo) MonthlyTrend(ctx context.Context, orgID uuid.UUID, from, to *time.Time) ([]models.MonthlyTrendEntry, error) {
	args := []any{orgID}
	clause, args := rangeClause(from, to, args)

	query := `
		SELECT to_char(date_trunc('month', created_at), 'YYYY-MM'),
		       count(*) FILTER (WHERE email_sent_at IS NOT NULL),
		       count(*) FILTER (WHERE status = 'accepted')
		FROM invitations
		WHERE org_id = $1` + clause + `
		GROUP BY date_trunc('month', created_at)
		ORDER BY date_trunc('month', created_at)`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trend []models.MonthlyTrendEntry
	for rows.Next() {
		var e models.MonthlyTrendEntry
		if err := rows.Scan(&e.Month, &e.Sent, &e.Accepted); err != nil {
			return nil, err
		}
		trend = append(trend, e)
	}
	return trend, rows.Err()
}

// Compile-time check to ensure analyticsRepo implements AnalyticsRepository.
var _ AnalyticsRepository = (*analyticsRepo)(nil)
