package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Webhook errors.
var (
	ErrSubscriptionExpired  = errors.New("webhook subscription is expired")
	ErrEmptyCallbackURL     = errors.New("subscription callback URL cannot be empty")
	ErrEmptySubscriptionID  = errors.New("subscription external id cannot be empty")
)

// WebhookProcessingStatus is the processing state of a received notification.
type WebhookProcessingStatus string

const (
	WebhookPending   WebhookProcessingStatus = "pending"
	WebhookProcessed WebhookProcessingStatus = "processed"
	WebhookFailed    WebhookProcessingStatus = "failed"
	WebhookIgnored   WebhookProcessingStatus = "ignored"
)

// String returns the string representation of the status.
func (s WebhookProcessingStatus) String() string { return string(s) }

// WebhookSubscription is a push-notification channel registered with a
// provider for one calendar. Unique per (tenant, calendar, provider).
type WebhookSubscription struct {
	BaseEntity
	calendarID             uuid.UUID
	provider               CalendarProvider
	externalSubscriptionID string
	externalResourceID     string
	callbackURL            string
	channelID              string
	verificationToken      string
	expiresAt              time.Time
	isActive               bool
	lastNotificationAt     *time.Time
}

// WebhookSubscriptionSpec carries the provider-assigned channel details.
type WebhookSubscriptionSpec struct {
	CalendarID             uuid.UUID
	Provider               CalendarProvider
	ExternalSubscriptionID string
	ExternalResourceID     string
	CallbackURL            string
	ChannelID              string
	VerificationToken      string
	ExpiresAt              time.Time
}

// NewWebhookSubscription records an active subscription.
func NewWebhookSubscription(tenant TenantID, spec WebhookSubscriptionSpec) (*WebhookSubscription, error) {
	if spec.CalendarID == uuid.Nil {
		return nil, ErrMissingCalendar
	}
	if !spec.Provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if strings.TrimSpace(spec.ExternalSubscriptionID) == "" {
		return nil, ErrEmptySubscriptionID
	}
	if strings.TrimSpace(spec.CallbackURL) == "" {
		return nil, ErrEmptyCallbackURL
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	return &WebhookSubscription{
		BaseEntity:             entity,
		calendarID:             spec.CalendarID,
		provider:               spec.Provider,
		externalSubscriptionID: spec.ExternalSubscriptionID,
		externalResourceID:     spec.ExternalResourceID,
		callbackURL:            spec.CallbackURL,
		channelID:              spec.ChannelID,
		verificationToken:      spec.VerificationToken,
		expiresAt:              spec.ExpiresAt.UTC(),
		isActive:               true,
	}, nil
}

// Getters
func (s *WebhookSubscription) CalendarID() uuid.UUID          { return s.calendarID }
func (s *WebhookSubscription) Provider() CalendarProvider     { return s.provider }
func (s *WebhookSubscription) ExternalSubscriptionID() string { return s.externalSubscriptionID }
func (s *WebhookSubscription) ExternalResourceID() string     { return s.externalResourceID }
func (s *WebhookSubscription) CallbackURL() string            { return s.callbackURL }
func (s *WebhookSubscription) ChannelID() string              { return s.channelID }
func (s *WebhookSubscription) VerificationToken() string      { return s.verificationToken }
func (s *WebhookSubscription) ExpiresAt() time.Time           { return s.expiresAt }
func (s *WebhookSubscription) LastNotificationAt() *time.Time { return cloneTime(s.lastNotificationAt) }

// ActiveFlag returns the raw active flag without the expiry check.
// Persistence stores the flag; callers should use IsActive.
func (s *WebhookSubscription) ActiveFlag() bool { return s.isActive }

// IsActive reports whether the subscription is active at the given instant.
// An active flag with a past expiry still counts as inactive.
func (s *WebhookSubscription) IsActive(now time.Time) bool {
	return s.isActive && s.expiresAt.After(now)
}

// ExpiresWithin reports whether the subscription needs renewal.
func (s *WebhookSubscription) ExpiresWithin(now time.Time, lead time.Duration) bool {
	return s.isActive && !s.expiresAt.After(now.Add(lead))
}

// Renew replaces the channel details after a provider renewal.
func (s *WebhookSubscription) Renew(externalSubscriptionID, externalResourceID, channelID string, expiresAt time.Time) error {
	if strings.TrimSpace(externalSubscriptionID) == "" {
		return ErrEmptySubscriptionID
	}
	s.externalSubscriptionID = externalSubscriptionID
	if externalResourceID != "" {
		s.externalResourceID = externalResourceID
	}
	if channelID != "" {
		s.channelID = channelID
	}
	s.expiresAt = expiresAt.UTC()
	s.isActive = true
	s.Touch()
	return nil
}

// Deactivate turns the subscription off after provider-side cancellation.
func (s *WebhookSubscription) Deactivate() {
	if s.isActive {
		s.isActive = false
		s.Touch()
	}
}

// RecordNotification stamps the latest inbound notification time.
func (s *WebhookSubscription) RecordNotification(now time.Time) {
	t := now.UTC()
	s.lastNotificationAt = &t
	s.Touch()
}

// RehydrateWebhookSubscription recreates a subscription from persisted data.
func RehydrateWebhookSubscription(
	entity BaseEntity,
	spec WebhookSubscriptionSpec,
	isActive bool,
	lastNotificationAt *time.Time,
) *WebhookSubscription {
	return &WebhookSubscription{
		BaseEntity:             entity,
		calendarID:             spec.CalendarID,
		provider:               spec.Provider,
		externalSubscriptionID: spec.ExternalSubscriptionID,
		externalResourceID:     spec.ExternalResourceID,
		callbackURL:            spec.CallbackURL,
		channelID:              spec.ChannelID,
		verificationToken:      spec.VerificationToken,
		expiresAt:              spec.ExpiresAt.UTC(),
		isActive:               isActive,
		lastNotificationAt:     cloneTime(lastNotificationAt),
	}
}

// WebhookEvent is an append-only record of one inbound provider
// notification. Only its parsed details (event type, external calendar id)
// and its processing outcome (status, time, error, sync link) ever change.
type WebhookEvent struct {
	BaseEntity
	provider           CalendarProvider
	eventType          string
	externalCalendarID string
	rawPayload         []byte
	headers            map[string]string
	processingStatus   WebhookProcessingStatus
	processedAt        *time.Time
	errorMessage       string
	calendarSyncID     *uuid.UUID
}

// NewWebhookEvent records an inbound notification in pending state.
func NewWebhookEvent(tenant TenantID, provider CalendarProvider, eventType, externalCalendarID string, rawPayload []byte, headers map[string]string) (*WebhookEvent, error) {
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	entity, err := NewBaseEntity(tenant)
	if err != nil {
		return nil, err
	}
	headersCopy := make(map[string]string, len(headers))
	for k, v := range headers {
		headersCopy[k] = v
	}
	return &WebhookEvent{
		BaseEntity:         entity,
		provider:           provider,
		eventType:          eventType,
		externalCalendarID: externalCalendarID,
		rawPayload:         append([]byte(nil), rawPayload...),
		headers:            headersCopy,
		processingStatus:   WebhookPending,
	}, nil
}

// Getters
func (e *WebhookEvent) Provider() CalendarProvider                 { return e.provider }
func (e *WebhookEvent) EventType() string                          { return e.eventType }
func (e *WebhookEvent) ExternalCalendarID() string                 { return e.externalCalendarID }
func (e *WebhookEvent) RawPayload() []byte                         { return append([]byte(nil), e.rawPayload...) }
func (e *WebhookEvent) ProcessingStatus() WebhookProcessingStatus  { return e.processingStatus }
func (e *WebhookEvent) ProcessedAt() *time.Time                    { return cloneTime(e.processedAt) }
func (e *WebhookEvent) ErrorMessage() string                       { return e.errorMessage }
func (e *WebhookEvent) CalendarSyncID() *uuid.UUID                 { return cloneID(e.calendarSyncID) }

// Headers returns a copy of the recorded request headers.
func (e *WebhookEvent) Headers() map[string]string {
	out := make(map[string]string, len(e.headers))
	for k, v := range e.headers {
		out[k] = v
	}
	return out
}

// SetParsed fills in the parsed notification details.
func (e *WebhookEvent) SetParsed(eventType, externalCalendarID string) {
	e.eventType = eventType
	e.externalCalendarID = externalCalendarID
	e.Touch()
}

// MarkProcessed links the notification to the sync that covers it.
func (e *WebhookEvent) MarkProcessed(now time.Time, calendarSyncID *uuid.UUID) {
	e.processingStatus = WebhookProcessed
	e.calendarSyncID = cloneID(calendarSyncID)
	t := now.UTC()
	e.processedAt = &t
	e.Touch()
}

// MarkIgnored records that the notification required no sync.
func (e *WebhookEvent) MarkIgnored(now time.Time) {
	e.processingStatus = WebhookIgnored
	t := now.UTC()
	e.processedAt = &t
	e.Touch()
}

// MarkFailed records a processing failure.
func (e *WebhookEvent) MarkFailed(now time.Time, cause error) {
	e.processingStatus = WebhookFailed
	if cause != nil {
		e.errorMessage = cause.Error()
	}
	t := now.UTC()
	e.processedAt = &t
	e.Touch()
}

// RehydrateWebhookEvent recreates a webhook event from persisted data.
func RehydrateWebhookEvent(
	entity BaseEntity,
	provider CalendarProvider,
	eventType, externalCalendarID string,
	rawPayload []byte,
	headers map[string]string,
	processingStatus WebhookProcessingStatus,
	processedAt *time.Time,
	errorMessage string,
	calendarSyncID *uuid.UUID,
) *WebhookEvent {
	return &WebhookEvent{
		BaseEntity:         entity,
		provider:           provider,
		eventType:          eventType,
		externalCalendarID: externalCalendarID,
		rawPayload:         append([]byte(nil), rawPayload...),
		headers:            headers,
		processingStatus:   processingStatus,
		processedAt:        cloneTime(processedAt),
		errorMessage:       errorMessage,
		calendarSyncID:     cloneID(calendarSyncID),
	}
}
