package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
	"github.com/stratix-hq/control-plane/internal/service"
)

// AnalyticsHandler serves the tenant invitation report.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Routes returns a chi router with analytics routes.
func (h *AnalyticsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/invitations", h.Invitations)
	return r
}

// Invitations handles GET /v1/analytics/invitations. The same report backs
// ?format=csv, so the two exports always agree.
func (h *AnalyticsHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	from, ok := timeParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := timeParam(w, r, "to")
	if !ok {
		return
	}

	report, err := h.analytics.Report(r.Context(), actor, from, to)
	if err != nil {
		response.Error(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		filename := fmt.Sprintf("invitations-%s.csv", report.GeneratedAt.Format("2006-01-02"))
		response.CSV(w, r, filename, service.CSVRows(report))
		return
	}
	response.OK(w, report)
}

// timeParam parses an optional RFC 3339 (or date-only) query parameter.
func timeParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		response.Error(w, apierrors.NewValidationError(name, "want RFC 3339 timestamp or YYYY-MM-DD"))
		return nil, false
	}
	return &t, true
}
