// Package api exposes the inbound webhook endpoints for calendar providers.
package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// maxWebhookBody bounds inbound notification bodies.
const maxWebhookBody = 1 << 20

// WebhookHandler translates HTTP requests into webhook pipeline calls.
// Providers retry aggressively on non-2xx answers, so anything after the
// notification is recorded answers 200.
type WebhookHandler struct {
	service *application.WebhookService
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(service *application.WebhookService, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{service: service, logger: logger}
}

// HandleGoogle handles POST /webhooks/google-calendar/{tenant_id}/.
func (h *WebhookHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderGoogle)
}

// HandleMicrosoft handles POST /webhooks/microsoft-calendar/{tenant_id}/.
func (h *WebhookHandler) HandleMicrosoft(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderMicrosoft)
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider domain.CalendarProvider) {
	tenantID, err := uuid.Parse(r.PathValue("tenant_id"))
	if err != nil {
		// A tenant that cannot be identified is refused, never guessed.
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	result := h.service.Handle(r.Context(), provider, tenantID, r.Header, r.URL.Query(), body)

	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.WriteHeader(result.StatusCode)
	if result.Body != "" {
		if _, err := w.Write([]byte(result.Body)); err != nil {
			h.logger.Debug("failed to write webhook response", "error", err)
		}
	}
}
