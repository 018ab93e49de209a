package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/stratix-hq/control-plane/internal/authz"
	"github.com/stratix-hq/control-plane/internal/models"
	apperrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/repository"
)

// AnalyticsService assembles the tenant invitation report. The same report
// backs the JSON response and the CSV export so the two can never disagree.
type AnalyticsService struct {
	analytics repository.AnalyticsRepository
	now       func() time.Time
}

// NewAnalyticsService creates a new analytics service.
func NewAnalyticsService(analytics repository.AnalyticsRepository) *AnalyticsService {
	return &AnalyticsService{
		analytics: analytics,
		now:       time.Now,
	}
}

// Report builds the full invitation report for a tenant over an optional
// created_at range.
func (s *AnalyticsService) Report(ctx context.Context, actor models.Identity, from, to *time.Time) (*models.InvitationReport, error) {
	if !authz.CanViewAnalytics(actor.Role) {
		return nil, apperrors.ErrForbidden
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperrors.NewValidationError("to", "range end precedes range start")
	}

	orgID := actor.OrgID

	counts, err := s.analytics.StatusCounts(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	funnel, err := s.analytics.FunnelCounts(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	hours, err := s.analytics.TimeToAcceptHours(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("time to accept: %w", err)
	}
	byRole, err := s.analytics.RoleDistribution(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("role distribution: %w", err)
	}
	byArea, err := s.analytics.AreaDistribution(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("area distribution: %w", err)
	}
	senders, err := s.analytics.TopSenders(ctx, orgID, from, to, 10)
	if err != nil {
		return nil, fmt.Errorf("top senders: %w", err)
	}
	trend, err := s.analytics.MonthlyTrend(ctx, orgID, from, to)
	if err != nil {
		return nil, fmt.Errorf("monthly trend: %w", err)
	}

	return &models.InvitationReport{
		OrgID:       orgID,
		From:        from,
		To:          to,
		GeneratedAt: s.now(),
		Totals: models.ReportTotals{
			Total:          counts.Total,
			Sent:           counts.Sent,
			Accepted:       counts.Accepted,
			Pending:        counts.Pending,
			Expired:        counts.Expired,
			Cancelled:      counts.Cancelled,
			AcceptanceRate: pct(counts.Accepted, counts.Total),
		},
		Funnel: models.EngagementFunnel{
			Sent:         funnel.Sent,
			Delivered:    funnel.Delivered,
			Opened:       funnel.Opened,
			Clicked:      funnel.Clicked,
			Accepted:     funnel.Accepted,
			DeliveryRate: pct(funnel.Delivered, funnel.Sent),
			OpenRate:     pct(funnel.Opened, funnel.Delivered),
			ClickRate:    pct(funnel.Clicked, funnel.Opened),
			AcceptRate:   pct(funnel.Accepted, funnel.Clicked),
		},
		TimeToAccept: summarizeTimeToAccept(hours),
		ByRole:       byRole,
		ByArea:       byArea,
		TopSenders:   senders,
		MonthlyTrend: trend,
	}, nil
}

// pct renders numerator/denominator as a whole percentage. A zero
// denominator renders "0%", never a division error or NaN.
func pct(num, den int) string {
	if den == 0 {
		return "0%"
	}
	return strconv.Itoa(int(float64(num)/float64(den)*100.0+0.5)) + "%"
}

var timeToAcceptBuckets = []struct {
	label string
	upper float64 // hours, exclusive
}{
	{"<1h", 1},
	{"1-6h", 6},
	{"6-24h", 24},
	{"1-3d", 72},
	{"3-7d", 168},
	{">7d", 0}, // catch-all
}

func summarizeTimeToAccept(hours []float64) models.TimeToAccept {
	dist := make([]models.TimeToAcceptBucket, len(timeToAcceptBuckets))
	for i, b := range timeToAcceptBuckets {
		dist[i].Label = b.label
	}

	var sum float64
	for _, h := range hours {
		sum += h
		placed := false
		for i, b := range timeToAcceptBuckets {
			if b.upper > 0 && h < b.upper {
				dist[i].Count++
				placed = true
				break
			}
		}
		if !placed {
			dist[len(dist)-1].Count++
		}
	}

	out := models.TimeToAccept{Distribution: dist}
	if len(hours) > 0 {
		// Round to two decimals for a stable, readable figure.
		out.AverageHours = float64(int(sum/float64(len(hours))*100+0.5)) / 100
	}
	return out
}

// CSVRows flattens the report into rows for export: a summary section
// followed by per-dimension detail sections. The first cell of each row is
// the section name so the file stays machine-parseable.
func CSVRows(report *models.InvitationReport) [][]string {
	rows := [][]string{
		{"section", "key", "total", "accepted", "rate"},
		{"totals", "all", strconv.Itoa(report.Totals.Total), strconv.Itoa(report.Totals.Accepted), report.Totals.AcceptanceRate},
		{"totals", "sent", strconv.Itoa(report.Totals.Sent), "", ""},
		{"totals", "pending", strconv.Itoa(report.Totals.Pending), "", ""},
		{"totals", "expired", strconv.Itoa(report.Totals.Expired), "", ""},
		{"totals", "cancelled", strconv.Itoa(report.Totals.Cancelled), "", ""},
		{"funnel", "sent", strconv.Itoa(report.Funnel.Sent), "", ""},
		{"funnel", "delivered", strconv.Itoa(report.Funnel.Delivered), "", report.Funnel.DeliveryRate},
		{"funnel", "opened", strconv.Itoa(report.Funnel.Opened), "", report.Funnel.OpenRate},
		{"funnel", "clicked", strconv.Itoa(report.Funnel.Clicked), "", report.Funnel.ClickRate},
		{"funnel", "accepted", strconv.Itoa(report.Funnel.Accepted), "", report.Funnel.AcceptRate},
		{"time_to_accept", "average_hours", fmt.Sprintf("%.2f", report.TimeToAccept.AverageHours), "", ""},
	}

	for _, b := range report.TimeToAccept.Distribution {
		rows = append(rows, []string{"time_to_accept", b.Label, strconv.Itoa(b.Count), "", ""})
	}
	for _, e := range report.ByRole {
		rows = append(rows, []string{"by_role", e.Key, strconv.Itoa(e.Total), strconv.Itoa(e.Accepted), pct(e.Accepted, e.Total)})
	}
	for _, e := range report.ByArea {
		rows = append(rows, []string{"by_area", e.Key, strconv.Itoa(e.Total), strconv.Itoa(e.Accepted), pct(e.Accepted, e.Total)})
	}
	for _, s := range report.TopSenders {
		rows = append(rows, []string{"top_senders", s.SenderID.String(), strconv.Itoa(s.Total), strconv.Itoa(s.Accepted), pct(s.Accepted, s.Total)})
	}
	for _, m := range report.MonthlyTrend {
		rows = append(rows, []string{"monthly_trend", m.Month, strconv.Itoa(m.Sent), strconv.Itoa(m.Accepted), ""})
	}
	return rows
}
