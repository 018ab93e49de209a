package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stratix-hq/control-plane/internal/authz"
	apierrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
	"github.com/stratix-hq/control-plane/internal/service"
)

// SchedulerHandler exposes manual control over the reminder scheduler.
type SchedulerHandler struct {
	scheduler *service.Scheduler
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(scheduler *service.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{scheduler: scheduler}
}

// Routes returns a chi router with scheduler routes.
func (h *SchedulerHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/run", h.Run)
	r.Get("/next", h.Next)
	return r
}

// Run handles POST /v1/scheduler/run: a manual pass over the caller's
// tenant, bypassing the eligibility window but never the overlap lock.
func (h *SchedulerHandler) Run(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	if !authz.CanTriggerScheduler(actor.Role) {
		response.Error(w, apierrors.ErrForbidden)
		return
	}

	orgID := actor.OrgID
	result, err := h.scheduler.RunPass(r.Context(), &orgID, true)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, result)
}

// nextRunResponse is the body of GET /v1/scheduler/next.
type nextRunResponse struct {
	NextRun  time.Time `json:"next_run"`
	InWindow bool      `json:"in_window"`
}

// Next handles GET /v1/scheduler/next.
func (h *SchedulerHandler) Next(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity(w, r); !ok {
		return
	}

	now := time.Now()
	response.OK(w, nextRunResponse{
		NextRun:  h.scheduler.NextRun(now),
		InWindow: h.scheduler.InWindow(now),
	})
}
