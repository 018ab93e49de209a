package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stratix-hq/control-plane/internal/email"
	apierrors "github.com/stratix-hq/control-plane/internal/pkg/errors"
	"github.com/stratix-hq/control-plane/internal/pkg/response"
	"github.com/stratix-hq/control-plane/internal/service"
)

// WebhookHandler ingests delivery provider callbacks. The route sits outside
// tenant auth; a shared secret header authenticates the provider instead.
type WebhookHandler struct {
	tracker *service.Tracker
	secret  string
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(tracker *service.Tracker, secret string) *WebhookHandler {
	return &WebhookHandler{tracker: tracker, secret: secret}
}

// Routes returns a chi router with webhook routes.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/email", h.Email)
	return r
}

// webhookPayload accepts a single event or a provider-batched list.
type webhookPayload struct {
	Events []email.Event `json:"events"`
	email.Event
}

// Email handles POST /webhooks/email. Events are queued for the tracker and
// acknowledged immediately; the projection write happens off the HTTP path.
func (h *WebhookHandler) Email(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" ||
		subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Webhook-Secret")), []byte(h.secret)) != 1 {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}

	events := payload.Events
	if len(events) == 0 && payload.MessageID != "" {
		events = []email.Event{payload.Event}
	}
	if len(events) == 0 {
		response.Error(w, apierrors.NewValidationError("events", "no events in payload"))
		return
	}

	accepted := 0
	for _, ev := range events {
		if ev.MessageID == "" {
			continue
		}
		if err := h.tracker.Enqueue(r.Context(), ev); err != nil {
			// Buffer full or request cancelled; the provider will retry.
			response.Error(w, apierrors.ErrInternal.WithMessage("Event queue unavailable"))
			return
		}
		accepted++
	}

	response.Accepted(w, map[string]int{"accepted": accepted})
}
