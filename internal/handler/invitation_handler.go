// Package handler provides HTTP handlers for the Stratix control plane API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stratix-hq/control-plane/internal/middleware"
	"github.com/stratix-hq/control-plane/internal/models"
	apierrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
	"github.com/stratix-hq/control-plane/internal/service"
)

// InvitationHandler handles invitation HTTP requests.
type InvitationHandler struct {
	invitations *service.InvitationService
	batches     *service.BatchService
	cancels     *service.CancelService
	validate    *validator.Validate
}

// NewInvitationHandler creates a new invitation handler.
func NewInvitationHandler(
	invitations *service.InvitationService,
	batches *service.BatchService,
	cancels *service.CancelService,
) *InvitationHandler {
	return &InvitationHandler{
		invitations: invitations,
		batches:     batches,
		cancels:     cancels,
		validate:    validator.New(),
	}
}

// Routes returns a chi router with invitation routes.
func (h *InvitationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/bulk", h.CreateBulk)
	r.Post("/cancel", h.CancelBulk)
	r.Post("/accept", h.Accept)
	r.Get("/analysis", h.Analysis)
	r.Get("/batches", h.ListBatches)
	r.Get("/batches/{id}", h.GetBatch)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/events", h.Events)
	r.Post("/{id}/resend", h.Resend)
	r.Post("/{id}/cancel", h.Cancel)

	return r
}

func identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Error(w, apierrors.ErrUnauthorized)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /v1/invitations
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req service.CreateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}

	result, err := h.invitations.Create(r.Context(), actor, req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, result)
}

// CreateBulk handles POST /v1/invitations/bulk
func (h *InvitationHandler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req service.BulkInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}

	result, err := h.batches.Process(r.Context(), actor, req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, result)
}

// List handles GET /v1/invitations
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	q := models.InvitationQuery{}
	if s := r.URL.Query().Get("status"); s != "" {
		status := models.InvitationStatus(s)
		switch status {
		case models.InvitationStatusPending, models.InvitationStatusSent,
			models.InvitationStatusAccepted, models.InvitationStatusCancelled:
			q.Status = &status
		default:
			response.Error(w, apierrors.NewValidationError("status", "unknown status"))
			return
		}
	}
	if email := r.URL.Query().Get("email"); email != "" {
		q.Email = &email
	}
	if b := r.URL.Query().Get("batch_id"); b != "" {
		batchID, err := uuid.Parse(b)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("batch_id", "invalid UUID format"))
			return
		}
		q.BatchID = &batchID
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 || q.PerPage > 100 {
		q.PerPage = 50
	}

	invs, total, err := h.invitations.List(r.Context(), actor, q)
	if err != nil {
		response.Error(w, err)
		return
	}

	totalPages := int(total) / q.PerPage
	if int(total)%q.PerPage > 0 {
		totalPages++
	}
	response.JSONWithMeta(w, http.StatusOK, invs, &response.Meta{
		Page:       q.Page,
		PerPage:    q.PerPage,
		Total:      total,
		TotalPages: totalPages,
	})
}

// Get handles GET /v1/invitations/{id}
func (h *InvitationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.invitations.Get(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, inv)
}

// Events handles GET /v1/invitations/{id}/events
func (h *InvitationHandler) Events(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	events, err := h.invitations.Events(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, events)
}

// Resend handles POST /v1/invitations/{id}/resend
func (h *InvitationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.invitations.Resend(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, inv)
}

// cancelRequest is the optional body for cancellation endpoints.
type cancelRequest struct {
	Reason *string     `json:"reason,omitempty"`
	IDs    []uuid.UUID `json:"ids,omitempty"`
}

// Cancel handles POST /v1/invitations/{id}/cancel
func (h *InvitationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
			return
		}
	}

	inv, err := h.cancels.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, inv)
}

// CancelBulk handles POST /v1/invitations/cancel
func (h *InvitationHandler) CancelBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	result, err := h.cancels.CancelMany(r.Context(), actor, req.IDs, req.Reason)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, result)
}

// acceptRequest is the body of the acceptance callback.
type acceptRequest struct {
	Token  string    `json:"token" validate:"required"`
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// Accept handles POST /v1/invitations/accept
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}

	inv, err := h.invitations.Accept(r.Context(), req.Token, req.UserID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, inv)
}

// Analysis handles GET /v1/invitations/analysis
func (h *InvitationHandler) Analysis(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	analysis, err := h.invitations.Analysis(r.Context(), actor)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, analysis)
}

// GetBatch handles GET /v1/invitations/batches/{id}
func (h *InvitationHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), actor, id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, batch)
}

// ListBatches handles GET /v1/invitations/batches
func (h *InvitationHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.batches.ListBatches(r.Context(), actor, limit)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, batches)
}

// validationError maps validator output to the API error shape.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.ErrBadRequest
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "failed " + fe.Tag() + " validation"
	}
	return apierrors.NewValidationErrors(fields)
}
