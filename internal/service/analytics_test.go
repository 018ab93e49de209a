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
	"github.com/stratix-hq/control-plane/internal/repository"
)

// mockAnalyticsRepo returns canned aggregates.
type mockAnalyticsRepo struct {
	counts  repository.StatusCounts
	funnel  repository.FunnelCounts
	hours   []float64
	byRole  []models.DistributionEntry
	byArea  []models.DistributionEntry
	senders []models.SenderVolume
	trend   []models.MonthlyTrendEntry
}

func (m *mockAnalyticsRepo) StatusCounts(context.Context, uuid.UUID, *time.Time, *time.Time) (*repository.StatusCounts, error) {
	c := m.counts
	return &c, nil
}

func (m *mockAnalyticsRepo) FunnelCounts(context.Context, uuid.UUID, *time.Time, *time.Time) (*repository.FunnelCounts, error) {
	f := m.funnel
	return &f, nil
}

func (m *mockAnalyticsRepo) TimeToAcceptHours(context.Context, uuid.UUID, *time.Time, *time.Time) ([]float64, error) {
	return m.hours, nil
}

func (m *mockAnalyticsRepo) RoleDistribution(context.Context, uuid.UUID, *time.Time, *time.Time) ([]models.DistributionEntry, error) {
	return m.byRole, nil
}

func (m *mockAnalyticsRepo) AreaDistribution(context.Context, uuid.UUID, *time.Time, *time.Time) ([]models.DistributionEntry, error) {
	return m.byArea, nil
}

func (m *mockAnalyticsRepo) TopSenders(context.Context, uuid.UUID, *time.Time, *time.Time, int) ([]models.SenderVolume, error) {
	return m.senders, nil
}

func (m *mockAnalyticsRepo) MonthlyTrend(context.Context, uuid.UUID, *time.Time, *time.Time) ([]models.MonthlyTrendEntry, error) {
	return m.trend, nil
}

var _ repository.AnalyticsRepository = (*mockAnalyticsRepo)(nil)

func TestPct(t *testing.T) {
	tests := []struct {
		num, den int
		want     string
	}{
		{0, 0, "0%"},
		{5, 0, "0%"},
		{0, 10, "0%"},
		{1, 3, "33%"},
		{2, 3, "67%"},
		{1, 2, "50%"},
		{10, 10, "100%"},
		{1, 200, "1%"},
		{1, 201, "0%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pct(tt.num, tt.den), "pct(%d, %d)", tt.num, tt.den)
	}
}

func TestSummarizeTimeToAccept(t *testing.T) {
	summary := summarizeTimeToAccept([]float64{0.5, 1, 5.9, 23, 71.9, 72, 167, 168, 500})

	want := map[string]int{
		"<1h":   1,
		"1-6h":  2,
		"6-24h": 1,
		"1-3d":  1,
		"3-7d":  2,
		">7d":   2,
	}
	require.Len(t, summary.Distribution, len(want))
	for _, b := range summary.Distribution {
		assert.Equal(t, want[b.Label], b.Count, "bucket %s", b.Label)
	}

	// (0.5+1+5.9+23+71.9+72+167+168+500)/9 = 112.144..., rounded to 2 places.
	assert.InDelta(t, 112.14, summary.AverageHours, 0.01)
}

func TestSummarizeTimeToAcceptEmpty(t *testing.T) {
	summary := summarizeTimeToAccept(nil)
	assert.Zero(t, summary.AverageHours)
	require.Len(t, summary.Distribution, 6)
	for _, b := range summary.Distribution {
		assert.Zero(t, b.Count)
	}
}

func TestReport(t *testing.T) {
	sender := uuid.New()
	repo := &mockAnalyticsRepo{
		counts: repository.StatusCounts{Total: 10, Sent: 4, Accepted: 3, Pending: 1, Expired: 1, Cancelled: 2},
		funnel: repository.FunnelCounts{Sent: 8, Delivered: 6, Opened: 4, Clicked: 3, Accepted: 3},
		hours:  []float64{2, 4},
		byRole: []models.DistributionEntry{{Key: "viewer", Total: 6, Accepted: 2}},
		byArea: []models.DistributionEntry{{Key: "unassigned", Total: 10, Accepted: 3}},
		senders: []models.SenderVolume{
			{SenderID: sender, Total: 7, Accepted: 3},
		},
		trend: []models.MonthlyTrendEntry{{Month: "2026-08", Sent: 8, Accepted: 3}},
	}
	svc := NewAnalyticsService(repo)
	actor := models.Identity{OrgID: uuid.New(), ActorID: uuid.New(), Role: models.RoleAdmin}

	report, err := svc.Report(context.Background(), actor, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, actor.OrgID, report.OrgID)
	assert.Equal(t, "30%", report.Totals.AcceptanceRate)

	// Funnel rates are stage over stage, not over total.
	assert.Equal(t, "75%", report.Funnel.DeliveryRate)
	assert.Equal(t, "67%", report.Funnel.OpenRate)
	assert.Equal(t, "75%", report.Funnel.ClickRate)
	assert.Equal(t, "100%", report.Funnel.AcceptRate)

	assert.InDelta(t, 3.0, report.TimeToAccept.AverageHours, 0.01)
	assert.Equal(t, repo.byRole, report.ByRole)
	assert.Equal(t, repo.senders, report.TopSenders)
}

func TestReportAuthz(t *testing.T) {
	svc := NewAnalyticsService(&mockAnalyticsRepo{})

	for _, role := range []models.Role{models.RoleCollaborator, models.RoleViewer} {
		actor := models.Identity{OrgID: uuid.New(), ActorID: uuid.New(), Role: role}
		_, err := svc.Report(context.Background(), actor, nil, nil)
		assert.Equal(t, "forbidden", apperrors.Code(err), "role %s", role)
	}
}

func TestReportRangeValidation(t *testing.T) {
	svc := NewAnalyticsService(&mockAnalyticsRepo{})
	actor := models.Identity{OrgID: uuid.New(), ActorID: uuid.New(), Role: models.RoleOwner}

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(-24 * time.Hour)

	_, err := svc.Report(context.Background(), actor, &from, &to)
	assert.Equal(t, "validation_error", apperrors.Code(err))
}

func TestCSVRows(t *testing.T) {
	sender := uuid.New()
	report := &models.InvitationReport{
		Totals: models.ReportTotals{Total: 4, Sent: 2, Accepted: 2, Pending: 1, Cancelled: 1, AcceptanceRate: "50%"},
		Funnel: models.EngagementFunnel{
			Sent: 3, Delivered: 3, Opened: 2, Clicked: 2, Accepted: 2,
			DeliveryRate: "100%", OpenRate: "67%", ClickRate: "100%", AcceptRate: "100%",
		},
		TimeToAccept: models.TimeToAccept{
			AverageHours: 5.25,
			Distribution: []models.TimeToAcceptBucket{{Label: "<1h", Count: 1}, {Label: "1-6h", Count: 1}},
		},
		ByRole:       []models.DistributionEntry{{Key: "admin", Total: 2, Accepted: 1}},
		TopSenders:   []models.SenderVolume{{SenderID: sender, Total: 4, Accepted: 2}},
		MonthlyTrend: []models.MonthlyTrendEntry{{Month: "2026-07", Sent: 3, Accepted: 2}},
	}

	rows := CSVRows(report)

	assert.Equal(t, []string{"section", "key", "total", "accepted", "rate"}, rows[0])
	assert.Contains(t, rows, []string{"totals", "all", "4", "2", "50%"})
	assert.Contains(t, rows, []string{"funnel", "opened", "2", "", "67%"})
	assert.Contains(t, rows, []string{"time_to_accept", "average_hours", "5.25", "", ""})
	assert.Contains(t, rows, []string{"time_to_accept", "1-6h", "1", "", ""})
	assert.Contains(t, rows, []string{"by_role", "admin", "2", "1", "50%"})
	assert.Contains(t, rows, []string{"top_senders", sender.String(), "4", "2", "50%"})
	assert.Contains(t, rows, []string{"monthly_trend", "2026-07", "3", "2", ""})

	// Every row has the same width so encoding/csv never pads.
	for i, row := range rows {
		assert.Len(t, row, 5, "row %d", i)
	}
}
