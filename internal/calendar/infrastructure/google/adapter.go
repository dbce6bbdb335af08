// Package google implements the calendar adapter for the Google Calendar
// REST API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/ratelimit"
)

const (
	defaultBaseURL      = "https://www.googleapis.com/calendar/v3"
	defaultAdminBaseURL = "https://admin.googleapis.com/admin/directory/v1"
	requestTimeout      = 30 * time.Second
)

// TokenSourceProvider resolves OAuth2 token sources per tenant.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, tenant domain.TenantID) (oauth2.TokenSource, error)
}

// rsvpMapping translates Google responseStatus values.
var rsvpMapping = application.NewRSVPMapping(map[string]domain.RSVPStatus{
	"needsAction": domain.RSVPPending,
	"tentative":   domain.RSVPPending,
	"accepted":    domain.RSVPAccepted,
	"declined":    domain.RSVPDeclined,
}).WithOverrides(map[domain.RSVPStatus]string{
	domain.RSVPPending:  "needsAction",
	domain.RSVPAccepted: "accepted",
	domain.RSVPDeclined: "declined",
})

// Adapter talks to the Google Calendar API for one tenant account.
type Adapter struct {
	tenant       domain.TenantID
	accountID    string
	tokens       TokenSourceProvider
	limiter      ratelimit.Limiter
	breaker      *gobreaker.CircuitBreaker[[]byte]
	logger       *slog.Logger
	baseURL      string
	adminBaseURL string
	httpClient   *http.Client
}

// NewAdapter creates a Google adapter.
func NewAdapter(tenant domain.TenantID, accountID string, tokens TokenSourceProvider, limiter ratelimit.Limiter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		tenant:       tenant,
		accountID:    accountID,
		tokens:       tokens,
		limiter:      limiter,
		logger:       logger,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "google-calendar",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		baseURL:      defaultBaseURL,
		adminBaseURL: defaultAdminBaseURL,
	}
}

// WithBaseURL overrides the API endpoints. Test hook.
func (a *Adapter) WithBaseURL(baseURL string) *Adapter {
	if baseURL != "" {
		a.baseURL = baseURL
		a.adminBaseURL = baseURL
	}
	return a
}

// Provider returns the provider this adapter serves.
func (a *Adapter) Provider() domain.CalendarProvider { return domain.ProviderGoogle }

func (a *Adapter) client(ctx context.Context) (*http.Client, error) {
	if a.httpClient != nil {
		return a.httpClient, nil
	}
	if a.tokens == nil {
		return nil, fmt.Errorf("%w: no token source configured", domain.ErrInvalidCredentials)
	}
	source, err := a.tokens.TokenSource(ctx, a.tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
	if _, err := source.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
	}
	a.httpClient = &http.Client{
		Timeout:   requestTimeout,
		Transport: &oauth2.Transport{Base: http.DefaultTransport, Source: source},
	}
	return a.httpClient, nil
}

// call performs one rate-limited, circuit-broken API call and returns the
// response body.
func (a *Adapter) call(ctx context.Context, class ratelimit.Class, method, rawURL string, payload any) ([]byte, error) {
	if a.limiter != nil {
		err := a.limiter.Acquire(ctx, ratelimit.Key{Provider: domain.ProviderGoogle, AccountID: a.accountID}, class)
		if err != nil {
			return nil, err
		}
	}
	client, err := a.client(ctx)
	if err != nil {
		return nil, err
	}

	return a.breaker.Execute(func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, domain.ErrProviderTimeout
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		return nil, statusError(resp.StatusCode, data)
	})
}

func statusError(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status=%d", domain.ErrAuthExpired, status)
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: status=%d", domain.ErrNotFound, status)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status=%d", domain.ErrRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: status=%d body=%s", domain.ErrProviderUnavailable, status, truncate(body))
	default:
		return &domain.MalformedError{Reason: fmt.Sprintf("status=%d body=%s", status, truncate(body))}
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleAttendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
	Resource       bool   `json:"resource,omitempty"`
}

type googleEvent struct {
	ID                string           `json:"id,omitempty"`
	Status            string           `json:"status,omitempty"`
	Summary           string           `json:"summary,omitempty"`
	Description       string           `json:"description,omitempty"`
	Start             *googleDateTime  `json:"start,omitempty"`
	End               *googleDateTime  `json:"end,omitempty"`
	Recurrence        []string         `json:"recurrence,omitempty"`
	RecurringEventID  string           `json:"recurringEventId,omitempty"`
	OriginalStartTime *googleDateTime  `json:"originalStartTime,omitempty"`
	Attendees         []googleAttendee `json:"attendees,omitempty"`
}

// parseDateTime preserves the payload's timeZone field instead of forcing
// UTC; all-day dates become midnight spans in that zone.
func parseDateTime(value *googleDateTime) (time.Time, string, error) {
	if value == nil {
		return time.Time{}, "", fmt.Errorf("missing datetime")
	}
	zone := value.TimeZone
	if value.DateTime != "" {
		t, err := time.Parse(time.RFC3339, value.DateTime)
		if err != nil {
			return time.Time{}, "", err
		}
		return t, zone, nil
	}
	if value.Date != "" {
		loc := time.UTC
		if zone != "" {
			if parsed, err := time.LoadLocation(zone); err == nil {
				loc = parsed
			}
		}
		t, err := time.ParseInLocation("2006-01-02", value.Date, loc)
		if err != nil {
			return time.Time{}, "", err
		}
		return t, zone, nil
	}
	return time.Time{}, "", fmt.Errorf("empty datetime")
}

func toEventRecord(event googleEvent) (application.EventRecord, error) {
	record := application.EventRecord{
		ExternalID:       event.ID,
		Title:            event.Summary,
		Description:      event.Description,
		Status:           domain.EventConfirmed,
		RecurringEventID: event.RecurringEventID,
	}
	if event.Status == "cancelled" {
		record.Status = domain.EventCancelled
		// Cancelled delta entries may carry no times at all.
		if event.Start == nil {
			payload := map[string]any{}
			raw, _ := json.Marshal(event)
			_ = json.Unmarshal(raw, &payload)
			record.OriginalPayload = payload
			return record, nil
		}
	}

	start, startZone, err := parseDateTime(event.Start)
	if err != nil {
		return record, &domain.MalformedError{Key: event.ID, Reason: "start: " + err.Error()}
	}
	end, endZone, err := parseDateTime(event.End)
	if err != nil {
		return record, &domain.MalformedError{Key: event.ID, Reason: "end: " + err.Error()}
	}
	record.Start = start
	record.End = end
	record.Timezone = startZone
	if record.Timezone == "" {
		record.Timezone = endZone
	}

	for _, rule := range event.Recurrence {
		if strings.HasPrefix(rule, "RRULE:") {
			record.RecurrenceRule = strings.TrimPrefix(rule, "RRULE:")
		}
	}
	if event.OriginalStartTime != nil {
		if original, _, err := parseDateTime(event.OriginalStartTime); err == nil {
			record.OriginalStart = original
		}
	}
	for _, attendee := range event.Attendees {
		mapped := application.AttendeeRecord{
			Email:  attendee.Email,
			Name:   attendee.DisplayName,
			Status: rsvpMapping.ToCanonical(attendee.ResponseStatus),
		}
		if attendee.Resource {
			record.Resources = append(record.Resources, application.ResourceRecord{
				Email:  attendee.Email,
				Name:   attendee.DisplayName,
				Status: mapped.Status,
			})
			continue
		}
		record.Attendees = append(record.Attendees, mapped)
	}

	payload := map[string]any{}
	raw, _ := json.Marshal(event)
	_ = json.Unmarshal(raw, &payload)
	record.OriginalPayload = payload
	return record, nil
}

// toGoogleEvent translates the uniform input; recurrence rules outside the
// supported subset fail with Malformed before anything reaches the wire.
func toGoogleEvent(input application.EventInput) (googleEvent, error) {
	event := googleEvent{
		Summary:     input.Title,
		Description: input.Description,
		Start: &googleDateTime{
			DateTime: input.Start.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
		End: &googleDateTime{
			DateTime: input.End.Format(time.RFC3339),
			TimeZone: input.Timezone,
		},
	}
	if input.RecurrenceRule != "" {
		if _, err := domain.ParseRRuleSpec(input.RecurrenceRule); err != nil {
			var unsupported *domain.UnsupportedRRuleError
			if errors.As(err, &unsupported) {
				return googleEvent{}, &domain.MalformedError{Key: unsupported.Component, Reason: "unsupported RRULE component"}
			}
			return googleEvent{}, &domain.MalformedError{Reason: err.Error()}
		}
		event.Recurrence = []string{"RRULE:" + input.RecurrenceRule}
	}
	for _, attendee := range input.Attendees {
		event.Attendees = append(event.Attendees, googleAttendee{
			Email:          attendee.Email,
			DisplayName:    attendee.Name,
			ResponseStatus: rsvpMapping.ToProvider(attendee.Status),
		})
	}
	return event, nil
}

// ListAccountCalendars lists the account's calendars.
func (a *Adapter) ListAccountCalendars(ctx context.Context) ([]application.CalendarDescriptor, error) {
	var descriptors []application.CalendarDescriptor
	pageToken := ""
	for {
		listURL := a.baseURL + "/users/me/calendarList"
		if pageToken != "" {
			listURL += "?pageToken=" + url.QueryEscape(pageToken)
		}
		data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, listURL, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Items []struct {
				ID          string `json:"id"`
				Summary     string `json:"summary"`
				Description string `json:"description"`
				Primary     bool   `json:"primary"`
				TimeZone    string `json:"timeZone"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &domain.MalformedError{Reason: err.Error()}
		}
		for _, item := range page.Items {
			descriptors = append(descriptors, application.CalendarDescriptor{
				ExternalID:  item.ID,
				Name:        item.Summary,
				Description: item.Description,
				IsPrimary:   item.Primary,
				Timezone:    item.TimeZone,
			})
		}
		if page.NextPageToken == "" {
			return descriptors, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateCalendar creates a secondary calendar on the account.
func (a *Adapter) CreateCalendar(ctx context.Context, name string) (application.CalendarDescriptor, error) {
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, a.baseURL+"/calendars", map[string]string{"summary": name})
	if err != nil {
		return application.CalendarDescriptor{}, err
	}
	var created struct {
		ID       string `json:"id"`
		Summary  string `json:"summary"`
		TimeZone string `json:"timeZone"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return application.CalendarDescriptor{}, &domain.MalformedError{Reason: err.Error()}
	}
	return application.CalendarDescriptor{
		ExternalID: created.ID,
		Name:       created.Summary,
		Timezone:   created.TimeZone,
	}, nil
}

// CreateEvent creates an event.
func (a *Adapter) CreateEvent(ctx context.Context, calendarExternalID string, input application.EventInput) (application.EventRecord, error) {
	payload, err := toGoogleEvent(input)
	if err != nil {
		return application.EventRecord{}, err
	}
	eventsURL := fmt.Sprintf("%s/calendars/%s/events", a.baseURL, url.PathEscape(calendarExternalID))
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, eventsURL, payload)
	if err != nil {
		return application.EventRecord{}, err
	}
	var created googleEvent
	if err := json.Unmarshal(data, &created); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(created)
}

// UpdateEvent updates an event.
func (a *Adapter) UpdateEvent(ctx context.Context, calendarExternalID, externalEventID string, input application.EventInput) (application.EventRecord, error) {
	payload, err := toGoogleEvent(input)
	if err != nil {
		return application.EventRecord{}, err
	}
	eventURL := fmt.Sprintf("%s/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPut, eventURL, payload)
	if err != nil {
		return application.EventRecord{}, err
	}
	var updated googleEvent
	if err := json.Unmarshal(data, &updated); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(updated)
}

// DeleteEvent deletes an event.
func (a *Adapter) DeleteEvent(ctx context.Context, calendarExternalID, externalEventID string) error {
	eventURL := fmt.Sprintf("%s/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	_, err := a.call(ctx, ratelimit.ClassWrite, http.MethodDelete, eventURL, nil)
	return err
}

// GetEvent fetches one event.
func (a *Adapter) GetEvent(ctx context.Context, calendarExternalID, externalEventID string) (application.EventRecord, error) {
	eventURL := fmt.Sprintf("%s/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, eventURL, nil)
	if err != nil {
		return application.EventRecord{}, err
	}
	var event googleEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(event)
}

// ListEvents streams events page by page. With a sync token the stream is a
// delta that includes cancelled entries.
func (a *Adapter) ListEvents(ctx context.Context, calendarExternalID string, start, end time.Time, syncToken string) (application.EventStream, error) {
	return &eventStream{
		adapter:    a,
		calendarID: calendarExternalID,
		start:      start,
		end:        end,
		syncToken:  syncToken,
	}, nil
}

// eventStream pages through the events collection lazily.
type eventStream struct {
	adapter       *Adapter
	calendarID    string
	start         time.Time
	end           time.Time
	syncToken     string
	pageToken     string
	page          []googleEvent
	index         int
	nextSyncToken string
	exhausted     bool
}

func (s *eventStream) Next(ctx context.Context) (application.EventRecord, bool, error) {
	for {
		if s.index < len(s.page) {
			event := s.page[s.index]
			s.index++
			record, err := toEventRecord(event)
			if err != nil {
				return application.EventRecord{}, true, err
			}
			return record, true, nil
		}
		if s.exhausted {
			return application.EventRecord{}, false, nil
		}
		if err := s.fetchPage(ctx); err != nil {
			return application.EventRecord{}, false, err
		}
	}
}

func (s *eventStream) fetchPage(ctx context.Context) error {
	params := url.Values{}
	if s.syncToken != "" {
		params.Set("syncToken", s.syncToken)
	} else {
		params.Set("timeMin", s.start.UTC().Format(time.RFC3339))
		params.Set("timeMax", s.end.UTC().Format(time.RFC3339))
	}
	params.Set("maxResults", "250")
	if s.pageToken != "" {
		params.Set("pageToken", s.pageToken)
	}
	listURL := fmt.Sprintf("%s/calendars/%s/events?%s", s.adapter.baseURL, url.PathEscape(s.calendarID), params.Encode())

	data, err := s.adapter.call(ctx, ratelimit.ClassRead, http.MethodGet, listURL, nil)
	if err != nil {
		return err
	}
	var page struct {
		Items         []googleEvent `json:"items"`
		NextPageToken string        `json:"nextPageToken"`
		NextSyncToken string        `json:"nextSyncToken"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return &domain.MalformedError{Reason: err.Error()}
	}

	s.page = page.Items
	s.index = 0
	s.pageToken = page.NextPageToken
	if page.NextSyncToken != "" {
		s.nextSyncToken = page.NextSyncToken
	}
	if s.pageToken == "" {
		s.exhausted = true
	}
	return nil
}

func (s *eventStream) NextSyncToken() string { return s.nextSyncToken }

// ListResources lists the organization's calendar resources (rooms).
func (a *Adapter) ListResources(ctx context.Context) ([]application.CalendarDescriptor, error) {
	var descriptors []application.CalendarDescriptor
	pageToken := ""
	for {
		resourceURL := a.adminBaseURL + "/customer/my_customer/resources/calendars"
		if pageToken != "" {
			resourceURL += "?pageToken=" + url.QueryEscape(pageToken)
		}
		data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, resourceURL, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Items []struct {
				ResourceID    string `json:"resourceId"`
				ResourceName  string `json:"resourceName"`
				ResourceEmail string `json:"resourceEmail"`
				Capacity      int    `json:"capacity"`
				Description   string `json:"resourceDescription"`
			} `json:"items"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &domain.MalformedError{Reason: err.Error()}
		}
		for _, item := range page.Items {
			descriptors = append(descriptors, application.CalendarDescriptor{
				ExternalID:  item.ResourceEmail,
				Name:        item.ResourceName,
				Description: item.Description,
				Email:       item.ResourceEmail,
				IsResource:  true,
				Capacity:    item.Capacity,
			})
		}
		if page.NextPageToken == "" {
			return descriptors, nil
		}
		pageToken = page.NextPageToken
	}
}

// GetResource fetches one resource by its calendar email.
func (a *Adapter) GetResource(ctx context.Context, resourceID string) (application.CalendarDescriptor, error) {
	resources, err := a.ListResources(ctx)
	if err != nil {
		return application.CalendarDescriptor{}, err
	}
	for _, resource := range resources {
		if resource.ExternalID == resourceID {
			return resource, nil
		}
	}
	return application.CalendarDescriptor{}, domain.ErrNotFound
}

// AvailableResources returns resources with no busy span inside the range,
// via the freebusy endpoint.
func (a *Adapter) AvailableResources(ctx context.Context, start, end time.Time) ([]application.CalendarDescriptor, error) {
	resources, err := a.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, nil
	}

	items := make([]map[string]string, 0, len(resources))
	for _, resource := range resources {
		items = append(items, map[string]string{"id": resource.ExternalID})
	}
	payload := map[string]any{
		"timeMin": start.UTC().Format(time.RFC3339),
		"timeMax": end.UTC().Format(time.RFC3339),
		"items":   items,
	}
	data, err := a.call(ctx, ratelimit.ClassRead, http.MethodPost, a.baseURL+"/freeBusy", payload)
	if err != nil {
		return nil, err
	}
	var freeBusy struct {
		Calendars map[string]struct {
			Busy []struct {
				Start string `json:"start"`
				End   string `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := json.Unmarshal(data, &freeBusy); err != nil {
		return nil, &domain.MalformedError{Reason: err.Error()}
	}

	available := make([]application.CalendarDescriptor, 0, len(resources))
	for _, resource := range resources {
		entry, ok := freeBusy.Calendars[resource.ExternalID]
		if !ok || len(entry.Busy) == 0 {
			available = append(available, resource)
		}
	}
	return available, nil
}

// CreateSubscription opens a push channel on the calendar. Google grants at
// most its own maximum TTL regardless of the request.
func (a *Adapter) CreateSubscription(ctx context.Context, resourceID, callbackURL string, desiredTTL time.Duration) (application.SubscriptionHandle, error) {
	channelID := uuid.NewString()
	expiration := time.Now().Add(desiredTTL).UnixMilli()
	watchURL := fmt.Sprintf("%s/calendars/%s/events/watch", a.baseURL, url.PathEscape(resourceID))
	payload := map[string]any{
		"id":         channelID,
		"type":       "web_hook",
		"address":    callbackURL,
		"expiration": strconv.FormatInt(expiration, 10),
	}
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, watchURL, payload)
	if err != nil {
		return application.SubscriptionHandle{}, err
	}
	var channel struct {
		ID         string `json:"id"`
		ResourceID string `json:"resourceId"`
		Expiration string `json:"expiration"`
	}
	if err := json.Unmarshal(data, &channel); err != nil {
		return application.SubscriptionHandle{}, &domain.MalformedError{Reason: err.Error()}
	}

	expiresAt := time.Now().Add(desiredTTL)
	if ms, err := strconv.ParseInt(channel.Expiration, 10, 64); err == nil {
		expiresAt = time.UnixMilli(ms)
	}
	return application.SubscriptionHandle{
		SubscriptionID: channel.ID,
		ResourceID:     channel.ResourceID,
		ChannelID:      channel.ID,
		CallbackURL:    callbackURL,
		ExpiresAt:      expiresAt,
	}, nil
}

// RenewSubscription replaces the channel: Google channels cannot be
// extended, so renewal is stop-then-watch.
func (a *Adapter) RenewSubscription(ctx context.Context, handle application.SubscriptionHandle) (application.SubscriptionHandle, error) {
	if err := a.CancelSubscription(ctx, handle); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return application.SubscriptionHandle{}, err
	}
	return a.CreateSubscription(ctx, handle.ResourceID, handle.CallbackURL, DefaultChannelTTL)
}

// DefaultChannelTTL is the channel lifetime requested on renewals.
const DefaultChannelTTL = 7 * 24 * time.Hour

// CancelSubscription stops the channel.
func (a *Adapter) CancelSubscription(ctx context.Context, handle application.SubscriptionHandle) error {
	payload := map[string]string{
		"id":         handle.ChannelID,
		"resourceId": handle.ResourceID,
	}
	_, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, a.baseURL+"/channels/stop", payload)
	return err
}

// ParseWebhook translates a Google push notification. Google has no
// validation challenge; everything rides on the channel headers.
func (a *Adapter) ParseWebhook(headers http.Header, _ []byte) (application.ParsedNotification, error) {
	state := headers.Get("X-Goog-Resource-State")
	if state == "" {
		return application.ParsedNotification{}, fmt.Errorf("%w: missing X-Goog-Resource-State", domain.ErrWebhookValidationFailed)
	}
	notification := application.ParsedNotification{
		EventType:      state,
		ResourceState:  state,
		SubscriptionID: headers.Get("X-Goog-Channel-ID"),
	}
	resourceURI := headers.Get("X-Goog-Resource-URI")
	if match := strings.SplitN(resourceURI, "/calendars/", 2); len(match) == 2 {
		if idx := strings.Index(match[1], "/events"); idx > 0 {
			if decoded, err := url.PathUnescape(match[1][:idx]); err == nil {
				notification.ExternalCalendarID = decoded
			} else {
				notification.ExternalCalendarID = match[1][:idx]
			}
		}
	}
	return notification, nil
}
