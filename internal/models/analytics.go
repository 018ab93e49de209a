package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationReport is the full analytics report for a tenant. The same
// figures back both the JSON response and the CSV export.
type InvitationReport struct {
	OrgID       uuid.UUID  `json:"org_id"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`

	Totals         ReportTotals        `json:"totals"`
	Funnel         EngagementFunnel    `json:"funnel"`
	TimeToAccept   TimeToAccept        `json:"time_to_accept"`
	ByRole         []DistributionEntry `json:"by_role"`
	ByArea         []DistributionEntry `json:"by_area"`
	TopSenders     []SenderVolume      `json:"top_senders"`
	MonthlyTrend   []MonthlyTrendEntry `json:"monthly_trend"`
}

// ReportTotals holds invitation counts by outcome plus the acceptance rate.
type ReportTotals struct {
	Total          int    `json:"total"`
	Sent           int    `json:"sent"`
	Accepted       int    `json:"accepted"`
	Pending        int    `json:"pending"`
	Expired        int    `json:"expired"`
	Cancelled      int    `json:"cancelled"`
	AcceptanceRate string `json:"acceptance_rate"`
}

// EngagementFunnel holds counts and stage-over-stage conversion rates for
// sent -> delivered -> opened -> clicked -> accepted.
type EngagementFunnel struct {
	Sent          int    `json:"sent"`
	Delivered     int    `json:"delivered"`
	Opened        int    `json:"opened"`
	Clicked       int    `json:"clicked"`
	Accepted      int    `json:"accepted"`
	DeliveryRate  string `json:"delivery_rate"`
	OpenRate      string `json:"open_rate"`
	ClickRate     string `json:"click_rate"`
	AcceptRate    string `json:"accept_rate"`
}

// TimeToAccept summarizes how long accepted invitations took, in hours
// between dispatch and acceptance.
type TimeToAccept struct {
	AverageHours float64              `json:"average_hours"`
	Distribution []TimeToAcceptBucket `json:"distribution"`
}

// TimeToAcceptBucket is one bucket of the time-to-accept histogram.
type TimeToAcceptBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DistributionEntry is one slice of a role or area breakdown.
type DistributionEntry struct {
	Key      string `json:"key"`
	Total    int    `json:"total"`
	Accepted int    `json:"accepted"`
}

// SenderVolume is one entry of the top-senders-by-volume breakdown.
type SenderVolume struct {
	SenderID uuid.UUID `json:"sender_id"`
	Total    int       `json:"total"`
	Accepted int       `json:"accepted"`
}

// MonthlyTrendEntry is one month of the sent-vs-accepted trend.
type MonthlyTrendEntry struct {
	Month    string `json:"month"` // YYYY-MM
	Sent     int    `json:"sent"`
	Accepted int    `json:"accepted"`
}
