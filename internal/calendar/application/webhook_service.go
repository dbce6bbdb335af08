package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// Webhook pipeline defaults.
const (
	// DefaultCoalesceWindow merges duplicate notifications onto one sync.
	DefaultCoalesceWindow = 5 * time.Minute
	// DefaultSyncWindowPast / Future bound the window of a webhook-triggered
	// sync.
	DefaultSyncWindowPast   = 24 * time.Hour
	DefaultSyncWindowFuture = 30 * 24 * time.Hour
)

// googleSyncResourceState is Google's subscription-confirmation ping; it
// carries no calendar change and is recorded as ignored.
const googleSyncResourceState = "sync"

var googleResourceURIPattern = regexp.MustCompile(`/calendars/([^/]+)/events`)

// WebhookResult tells the HTTP layer how to answer.
type WebhookResult struct {
	StatusCode  int
	Body        string
	ContentType string
	// WebhookEventID is set once a notification was recorded.
	WebhookEventID *uuid.UUID
}

// WebhookService validates, records and dispatches inbound provider
// notifications. Processing failures after the record exists still answer
// 200 so providers do not retry-storm; recovery is the job runner's concern.
type WebhookService struct {
	store          domain.Store
	syncs          *SyncService
	queue          JobQueue
	clock          Clock
	logger         *slog.Logger
	coalesceWindow time.Duration
	windowPast     time.Duration
	windowFuture   time.Duration
}

// NewWebhookService creates a webhook pipeline.
func NewWebhookService(store domain.Store, syncs *SyncService, queue JobQueue, clock Clock, logger *slog.Logger) *WebhookService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		store:          store,
		syncs:          syncs,
		queue:          queue,
		clock:          clock,
		logger:         logger,
		coalesceWindow: DefaultCoalesceWindow,
		windowPast:     DefaultSyncWindowPast,
		windowFuture:   DefaultSyncWindowFuture,
	}
}

// WithCoalesceWindow overrides the coalesce window.
func (s *WebhookService) WithCoalesceWindow(window time.Duration) *WebhookService {
	if window > 0 {
		s.coalesceWindow = window
	}
	return s
}

// Handle processes one inbound notification addressed to the tenant in the
// URL path. The returned result is always safe to write: validation errors
// map to 400, unknown tenants to 404, and anything after the WebhookEvent
// record exists to 200.
func (s *WebhookService) Handle(ctx context.Context, provider domain.CalendarProvider, tenantID uuid.UUID, headers http.Header, query url.Values, body []byte) WebhookResult {
	tenant, err := domain.NewTenantID(tenantID)
	if err != nil {
		return WebhookResult{StatusCode: http.StatusNotFound}
	}
	exists, err := s.store.Tenants().Exists(ctx, tenant)
	if err != nil {
		s.logger.Error("tenant lookup failed", "tenant", tenant.String(), "error", err)
		return WebhookResult{StatusCode: http.StatusInternalServerError}
	}
	if !exists {
		// Never fall back to another tenant: refusing is the only safe
		// answer when the tenant cannot be determined unambiguously.
		return WebhookResult{StatusCode: http.StatusNotFound}
	}

	// Microsoft subscription handshake: echo the escaped token, nothing is
	// recorded. A token that is not a canonical UUID is rejected outright.
	if provider == domain.ProviderMicrosoft {
		if token := query.Get("validationToken"); token != "" {
			if !ValidMicrosoftValidationToken(token) {
				s.logger.Warn("invalid validation token shape", "tenant", tenant.String())
				return WebhookResult{StatusCode: http.StatusBadRequest}
			}
			return WebhookResult{
				StatusCode:  http.StatusOK,
				Body:        html.EscapeString(token),
				ContentType: "text/plain",
			}
		}
	}

	if err := s.validator(provider).Validate(ctx, tenant, headers, body); err != nil {
		if errors.Is(err, domain.ErrWebhookValidationFailed) {
			s.logger.Warn("webhook validation failed",
				"tenant", tenant.String(), "provider", provider.String(), "error", err)
			return WebhookResult{StatusCode: http.StatusBadRequest}
		}
		s.logger.Error("webhook validation errored", "tenant", tenant.String(), "error", err)
		return WebhookResult{StatusCode: http.StatusInternalServerError}
	}

	eventType, externalCalendarID := s.parse(ctx, tenant, provider, headers, body)

	event, err := domain.NewWebhookEvent(tenant, provider, eventType, externalCalendarID, body, flattenHeaders(headers))
	if err != nil {
		return WebhookResult{StatusCode: http.StatusBadRequest}
	}
	if err := s.store.Webhooks().SaveEvent(ctx, event); err != nil {
		// The one case that justifies a 5xx: we could not even record it.
		s.logger.Error("failed to record webhook event", "tenant", tenant.String(), "error", err)
		return WebhookResult{StatusCode: http.StatusInternalServerError}
	}
	eventID := event.ID()

	if err := s.process(ctx, tenant, provider, headers, event); err != nil {
		event.MarkFailed(s.clock.Now(), err)
		if saveErr := s.store.Webhooks().SaveEvent(ctx, event); saveErr != nil {
			s.logger.Error("failed to persist webhook failure", "webhook_event_id", eventID, "error", saveErr)
		}
		s.logger.Warn("webhook processing failed",
			"tenant", tenant.String(), "webhook_event_id", eventID, "error", err)
	}
	return WebhookResult{StatusCode: http.StatusOK, WebhookEventID: &eventID}
}

func (s *WebhookService) validator(provider domain.CalendarProvider) WebhookValidator {
	switch provider {
	case domain.ProviderMicrosoft:
		return MicrosoftWebhookValidator{Webhooks: s.store.Webhooks(), Clock: s.clock}
	default:
		return GoogleWebhookValidator{}
	}
}

func (s *WebhookService) parse(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, headers http.Header, body []byte) (eventType, externalCalendarID string) {
	switch provider {
	case domain.ProviderGoogle:
		eventType = headers.Get("X-Goog-Resource-State")
		externalCalendarID = googleCalendarIDFromResourceURI(headers.Get("X-Goog-Resource-URI"))
	case domain.ProviderMicrosoft:
		eventType = "notification"
		if subscriptionID := microsoftSubscriptionID(body); subscriptionID != "" {
			sub, err := s.store.Webhooks().FindSubscriptionByExternalID(ctx, tenant, provider, subscriptionID)
			if err == nil {
				if calendar, err := s.store.Calendars().FindByID(ctx, tenant, sub.CalendarID()); err == nil {
					externalCalendarID = calendar.ExternalID()
				}
			}
		}
	}
	if eventType == "" {
		eventType = "unknown"
	}
	if externalCalendarID == "" {
		externalCalendarID = "unknown"
	}
	return eventType, externalCalendarID
}

// process links the recorded notification to a sync: a recent or in-flight
// one when coalescing applies, a freshly scheduled one otherwise.
func (s *WebhookService) process(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, headers http.Header, event *domain.WebhookEvent) error {
	now := s.clock.Now()

	// Google's subscription-sync ping needs no sync.
	if provider == domain.ProviderGoogle && headers.Get("X-Goog-Resource-State") == googleSyncResourceState {
		event.MarkIgnored(now)
		return s.store.Webhooks().SaveEvent(ctx, event)
	}

	if event.ExternalCalendarID() == "" || event.ExternalCalendarID() == "unknown" {
		return fmt.Errorf("notification does not identify a calendar")
	}
	calendar, err := s.store.Calendars().FindByExternalID(ctx, tenant, provider, event.ExternalCalendarID())
	if err != nil {
		return fmt.Errorf("resolving calendar %q: %w", event.ExternalCalendarID(), err)
	}

	s.touchSubscription(ctx, tenant, calendar.ID(), provider, now)

	// Coalesce: duplicate deliveries inside the window share one sync.
	candidate, err := s.store.Syncs().FindCoalesceCandidate(ctx, tenant, calendar.ID(), now.Add(-s.coalesceWindow))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if candidate != nil {
		candidateID := candidate.ID()
		event.MarkProcessed(now, &candidateID)
		return s.store.Webhooks().SaveEvent(ctx, event)
	}

	window, err := domain.NewTimeInterval(now.Add(-s.windowPast), now.Add(s.windowFuture), "UTC")
	if err != nil {
		return err
	}
	sync, err := s.syncs.RequestSync(ctx, tenant, calendar.ID(), window, true)
	if err != nil {
		return err
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, Job{
			Kind:     JobSyncCalendar,
			TenantID: tenant.UUID(),
			Provider: provider,
			EntityID: sync.ID(),
		}); err != nil {
			return err
		}
	}
	syncID := sync.ID()
	event.MarkProcessed(now, &syncID)
	return s.store.Webhooks().SaveEvent(ctx, event)
}

func (s *WebhookService) touchSubscription(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, provider domain.CalendarProvider, now time.Time) {
	sub, err := s.store.Webhooks().FindSubscription(ctx, tenant, calendarID, provider)
	if err != nil {
		return
	}
	sub.RecordNotification(now)
	if err := s.store.Webhooks().SaveSubscription(ctx, sub); err != nil {
		s.logger.Debug("failed to stamp subscription notification time", "error", err)
	}
}

func googleCalendarIDFromResourceURI(resourceURI string) string {
	if resourceURI == "" {
		return ""
	}
	match := googleResourceURIPattern.FindStringSubmatch(resourceURI)
	if match == nil {
		return ""
	}
	if decoded, err := url.PathUnescape(match[1]); err == nil {
		return decoded
	}
	return match[1]
}

// microsoftSubscriptionID pulls the subscription id out of a Graph change
// notification body.
func microsoftSubscriptionID(body []byte) string {
	var payload struct {
		Value []struct {
			SubscriptionID string `json:"subscriptionId"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, item := range payload.Value {
		if item.SubscriptionID != "" {
			return item.SubscriptionID
		}
	}
	return ""
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key := range headers {
		out[key] = headers.Get(key)
	}
	return out
}
