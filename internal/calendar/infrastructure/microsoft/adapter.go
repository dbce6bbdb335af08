// Package microsoft implements the calendar adapter for the Microsoft
// Graph API.
package microsoft

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
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	requestTimeout = 30 * time.Second

	// graphTimeLayout is the fractional-seconds layout Graph uses for
	// dateTimeTimeZone values.
	graphTimeLayout = "2006-01-02T15:04:05.9999999"
)

// TokenSourceProvider resolves OAuth2 token sources per tenant.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context, tenant domain.TenantID) (oauth2.TokenSource, error)
}

// rsvpMapping translates Graph response values.
var rsvpMapping = application.NewRSVPMapping(map[string]domain.RSVPStatus{
	"none":                 domain.RSVPPending,
	"notResponded":         domain.RSVPPending,
	"tentativelyAccepted":  domain.RSVPPending,
	"organizer":            domain.RSVPAccepted,
	"accepted":             domain.RSVPAccepted,
	"declined":             domain.RSVPDeclined,
}).WithOverrides(map[domain.RSVPStatus]string{
	domain.RSVPPending:  "none",
	domain.RSVPAccepted: "accepted",
	domain.RSVPDeclined: "declined",
})

// Adapter talks to Microsoft Graph for one tenant account.
type Adapter struct {
	tenant     domain.TenantID
	accountID  string
	tokens     TokenSourceProvider
	limiter    ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *slog.Logger
	baseURL    string
	httpClient *http.Client
}

// NewAdapter creates a Microsoft Graph adapter.
func NewAdapter(tenant domain.TenantID, accountID string, tokens TokenSourceProvider, limiter ratelimit.Limiter, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		tenant:    tenant,
		accountID: accountID,
		tokens:    tokens,
		limiter:   limiter,
		logger:    logger,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "microsoft-graph",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		baseURL: defaultBaseURL,
	}
}

// WithBaseURL overrides the API endpoint. Test hook.
func (a *Adapter) WithBaseURL(baseURL string) *Adapter {
	if baseURL != "" {
		a.baseURL = baseURL
	}
	return a
}

// Provider returns the provider this adapter serves.
func (a *Adapter) Provider() domain.CalendarProvider { return domain.ProviderMicrosoft }

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

func (a *Adapter) call(ctx context.Context, class ratelimit.Class, method, rawURL string, payload any) ([]byte, error) {
	if a.limiter != nil {
		err := a.limiter.Acquire(ctx, ratelimit.Key{Provider: domain.ProviderMicrosoft, AccountID: a.accountID}, class)
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
		// Ask Graph to return dateTime values in UTC so parsing never depends on Windows zone names.
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)

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
		return fmt.Errorf("%w: status=%d", domain.ErrProviderUnavailable, status)
	default:
		return &domain.MalformedError{Reason: fmt.Sprintf("status=%d body=%.256s", status, string(body))}
	}
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphRecurrence struct {
	Pattern struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		DaysOfWeek []string `json:"daysOfWeek,omitempty"`
		DayOfMonth int      `json:"dayOfMonth,omitempty"`
		Month      int      `json:"month,omitempty"`
	} `json:"pattern"`
	Range struct {
		Type                string `json:"type"`
		StartDate           string `json:"startDate,omitempty"`
		EndDate             string `json:"endDate,omitempty"`
		NumberOfOccurrences int    `json:"numberOfOccurrences,omitempty"`
	} `json:"range"`
}

type graphEvent struct {
	ID             string           `json:"id,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	BodyPreview    string           `json:"bodyPreview,omitempty"`
	Body           *graphBody       `json:"body,omitempty"`
	Start          *graphDateTime   `json:"start,omitempty"`
	End            *graphDateTime   `json:"end,omitempty"`
	IsCancelled    bool             `json:"isCancelled,omitempty"`
	Type           string           `json:"type,omitempty"`
	SeriesMasterID string           `json:"seriesMasterId,omitempty"`
	OriginalStart  string           `json:"originalStart,omitempty"`
	Recurrence     *graphRecurrence `json:"recurrence,omitempty"`
	Attendees      []graphAttendee  `json:"attendees,omitempty"`
	Removed        *graphRemoved    `json:"@removed,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphAttendee struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"emailAddress"`
	Status struct {
		Response string `json:"response"`
	} `json:"status"`
	Type string `json:"type,omitempty"`
}

type graphRemoved struct {
	Reason string `json:"reason"`
}

func parseGraphTime(value *graphDateTime) (time.Time, string, error) {
	if value == nil {
		return time.Time{}, "", fmt.Errorf("missing datetime")
	}
	zone := value.TimeZone
	loc := time.UTC
	if zone != "" {
		if parsed, err := time.LoadLocation(zone); err == nil {
			loc = parsed
		} else {
			// Windows zone names are not loadable; keep the instant but
			// record UTC rather than inventing a zone.
			zone = "UTC"
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, value.DateTime, loc)
	if err != nil {
		// Some payloads carry explicit offsets.
		t, err = time.Parse(time.RFC3339, value.DateTime)
		if err != nil {
			return time.Time{}, "", err
		}
	}
	return t, zone, nil
}

func toEventRecord(event graphEvent) (application.EventRecord, error) {
	record := application.EventRecord{
		ExternalID:       event.ID,
		Title:            event.Subject,
		Description:      event.BodyPreview,
		Status:           domain.EventConfirmed,
		RecurringEventID: event.SeriesMasterID,
	}
	if event.Body != nil && event.Body.Content != "" {
		record.Description = event.Body.Content
	}
	if event.Removed != nil || event.IsCancelled {
		record.Status = domain.EventCancelled
		if event.Start == nil {
			record.OriginalPayload = payloadOf(event)
			return record, nil
		}
	}

	start, startZone, err := parseGraphTime(event.Start)
	if err != nil {
		return record, &domain.MalformedError{Key: event.ID, Reason: "start: " + err.Error()}
	}
	end, _, err := parseGraphTime(event.End)
	if err != nil {
		return record, &domain.MalformedError{Key: event.ID, Reason: "end: " + err.Error()}
	}
	record.Start = start
	record.End = end
	record.Timezone = startZone

	if event.Recurrence != nil {
		rrule, err := recurrenceToRRule(event.Recurrence)
		if err != nil {
			return record, err
		}
		record.RecurrenceRule = rrule
	}
	if event.OriginalStart != "" {
		if original, err := time.Parse(time.RFC3339, event.OriginalStart); err == nil {
			record.OriginalStart = original
		}
	}
	for _, attendee := range event.Attendees {
		mapped := application.AttendeeRecord{
			Email:  attendee.EmailAddress.Address,
			Name:   attendee.EmailAddress.Name,
			Status: rsvpMapping.ToCanonical(attendee.Status.Response),
		}
		if attendee.Type == "resource" {
			record.Resources = append(record.Resources, application.ResourceRecord{
				Email:  mapped.Email,
				Name:   mapped.Name,
				Status: mapped.Status,
			})
			continue
		}
		record.Attendees = append(record.Attendees, mapped)
	}
	record.OriginalPayload = payloadOf(event)
	return record, nil
}

func payloadOf(event graphEvent) map[string]any {
	payload := map[string]any{}
	raw, _ := json.Marshal(event)
	_ = json.Unmarshal(raw, &payload)
	return payload
}

var graphWeekdays = map[domain.Weekday]string{
	domain.Monday:    "monday",
	domain.Tuesday:   "tuesday",
	domain.Wednesday: "wednesday",
	domain.Thursday:  "thursday",
	domain.Friday:    "friday",
	domain.Saturday:  "saturday",
	domain.Sunday:    "sunday",
}

var graphWeekdaysInverse = map[string]domain.Weekday{
	"monday":    domain.Monday,
	"tuesday":   domain.Tuesday,
	"wednesday": domain.Wednesday,
	"thursday":  domain.Thursday,
	"friday":    domain.Friday,
	"saturday":  domain.Saturday,
	"sunday":    domain.Sunday,
}

// rruleToRecurrence translates the supported RRULE subset into a Graph
// recurrence. Components Graph cannot express fail with Malformed carrying
// the offending key, so callers never round-trip an unsupported rule.
func rruleToRecurrence(rrule string, anchor time.Time) (*graphRecurrence, error) {
	spec, err := domain.ParseRRuleSpec(rrule)
	if err != nil {
		var unsupported *domain.UnsupportedRRuleError
		if errors.As(err, &unsupported) {
			return nil, &domain.MalformedError{Key: unsupported.Component, Reason: "unsupported RRULE component"}
		}
		return nil, &domain.MalformedError{Reason: err.Error()}
	}

	recurrence := &graphRecurrence{}
	recurrence.Pattern.Interval = spec.Interval

	switch spec.Frequency {
	case domain.FreqDaily:
		recurrence.Pattern.Type = "daily"
	case domain.FreqWeekly:
		recurrence.Pattern.Type = "weekly"
		for _, weekday := range spec.ByWeekday {
			recurrence.Pattern.DaysOfWeek = append(recurrence.Pattern.DaysOfWeek, graphWeekdays[weekday])
		}
	case domain.FreqMonthly:
		recurrence.Pattern.Type = "absoluteMonthly"
		if len(spec.ByMonthDay) > 1 {
			return nil, &domain.MalformedError{Key: "BYMONTHDAY", Reason: "graph supports a single day of month"}
		}
		if len(spec.ByMonthDay) == 1 {
			recurrence.Pattern.DayOfMonth = spec.ByMonthDay[0]
		} else {
			recurrence.Pattern.DayOfMonth = anchor.Day()
		}
	case domain.FreqYearly:
		recurrence.Pattern.Type = "absoluteYearly"
		if len(spec.ByMonth) > 1 {
			return nil, &domain.MalformedError{Key: "BYMONTH", Reason: "graph supports a single month"}
		}
		if len(spec.ByMonthDay) > 1 {
			return nil, &domain.MalformedError{Key: "BYMONTHDAY", Reason: "graph supports a single day of month"}
		}
		if len(spec.ByMonth) == 1 {
			recurrence.Pattern.Month = spec.ByMonth[0]
		} else {
			recurrence.Pattern.Month = int(anchor.Month())
		}
		if len(spec.ByMonthDay) == 1 {
			recurrence.Pattern.DayOfMonth = spec.ByMonthDay[0]
		} else {
			recurrence.Pattern.DayOfMonth = anchor.Day()
		}
	}
	if spec.Frequency == domain.FreqDaily && len(spec.ByWeekday) > 0 {
		return nil, &domain.MalformedError{Key: "BYDAY", Reason: "graph daily patterns cannot filter weekdays"}
	}

	recurrence.Range.StartDate = anchor.Format("2006-01-02")
	switch {
	case spec.Count != nil:
		recurrence.Range.Type = "numbered"
		recurrence.Range.NumberOfOccurrences = *spec.Count
	case spec.Until != nil:
		recurrence.Range.Type = "endDate"
		recurrence.Range.EndDate = spec.Until.Format("2006-01-02")
	default:
		recurrence.Range.Type = "noEnd"
	}
	return recurrence, nil
}

// recurrenceToRRule translates a Graph recurrence back into the RRULE
// subset.
func recurrenceToRRule(recurrence *graphRecurrence) (string, error) {
	spec := domain.RecurrenceRuleSpec{Interval: recurrence.Pattern.Interval}
	if spec.Interval < 1 {
		spec.Interval = 1
	}
	switch recurrence.Pattern.Type {
	case "daily":
		spec.Frequency = domain.FreqDaily
	case "weekly":
		spec.Frequency = domain.FreqWeekly
		for _, day := range recurrence.Pattern.DaysOfWeek {
			if weekday, ok := graphWeekdaysInverse[strings.ToLower(day)]; ok {
				spec.ByWeekday = append(spec.ByWeekday, weekday)
			}
		}
	case "absoluteMonthly":
		spec.Frequency = domain.FreqMonthly
		if recurrence.Pattern.DayOfMonth > 0 {
			spec.ByMonthDay = []int{recurrence.Pattern.DayOfMonth}
		}
	case "absoluteYearly":
		spec.Frequency = domain.FreqYearly
		if recurrence.Pattern.Month > 0 {
			spec.ByMonth = []int{recurrence.Pattern.Month}
		}
		if recurrence.Pattern.DayOfMonth > 0 {
			spec.ByMonthDay = []int{recurrence.Pattern.DayOfMonth}
		}
	default:
		return "", &domain.MalformedError{Key: recurrence.Pattern.Type, Reason: "unsupported graph recurrence pattern"}
	}

	switch recurrence.Range.Type {
	case "numbered":
		count := recurrence.Range.NumberOfOccurrences
		spec.Count = &count
	case "endDate":
		if until, err := time.Parse("2006-01-02", recurrence.Range.EndDate); err == nil {
			end := until.Add(24*time.Hour - time.Second)
			spec.Until = &end
		}
	}

	rule := domain.RehydrateRecurrenceRule(domain.BaseEntity{}, spec)
	return rule.RRuleString(), nil
}

func toGraphEvent(input application.EventInput) (map[string]any, error) {
	timezone := input.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	event := map[string]any{
		"subject": input.Title,
		"body": graphBody{
			ContentType: "text",
			Content:     input.Description,
		},
		"start": graphDateTime{
			DateTime: input.Start.UTC().Format(graphTimeLayout),
			TimeZone: "UTC",
		},
		"end": graphDateTime{
			DateTime: input.End.UTC().Format(graphTimeLayout),
			TimeZone: "UTC",
		},
	}
	if input.RecurrenceRule != "" {
		recurrence, err := rruleToRecurrence(input.RecurrenceRule, input.Start)
		if err != nil {
			return nil, err
		}
		event["recurrence"] = recurrence
	}
	if len(input.Attendees) > 0 {
		attendees := make([]map[string]any, 0, len(input.Attendees))
		for _, attendee := range input.Attendees {
			attendees = append(attendees, map[string]any{
				"emailAddress": map[string]string{
					"address": attendee.Email,
					"name":    attendee.Name,
				},
				"type": "required",
			})
		}
		event["attendees"] = attendees
	}
	return event, nil
}

// ListAccountCalendars lists the account's calendars.
func (a *Adapter) ListAccountCalendars(ctx context.Context) ([]application.CalendarDescriptor, error) {
	var descriptors []application.CalendarDescriptor
	nextURL := a.baseURL + "/me/calendars"
	for nextURL != "" {
		data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, nextURL, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Value []struct {
				ID                string `json:"id"`
				Name              string `json:"name"`
				IsDefaultCalendar bool   `json:"isDefaultCalendar"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &domain.MalformedError{Reason: err.Error()}
		}
		for _, item := range page.Value {
			descriptors = append(descriptors, application.CalendarDescriptor{
				ExternalID: item.ID,
				Name:       item.Name,
				IsPrimary:  item.IsDefaultCalendar,
			})
		}
		nextURL = page.NextLink
	}
	return descriptors, nil
}

// CreateCalendar creates a calendar on the account.
func (a *Adapter) CreateCalendar(ctx context.Context, name string) (application.CalendarDescriptor, error) {
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, a.baseURL+"/me/calendars", map[string]string{"name": name})
	if err != nil {
		return application.CalendarDescriptor{}, err
	}
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return application.CalendarDescriptor{}, &domain.MalformedError{Reason: err.Error()}
	}
	return application.CalendarDescriptor{ExternalID: created.ID, Name: created.Name}, nil
}

// CreateEvent creates an event.
func (a *Adapter) CreateEvent(ctx context.Context, calendarExternalID string, input application.EventInput) (application.EventRecord, error) {
	payload, err := toGraphEvent(input)
	if err != nil {
		return application.EventRecord{}, err
	}
	eventsURL := fmt.Sprintf("%s/me/calendars/%s/events", a.baseURL, url.PathEscape(calendarExternalID))
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, eventsURL, payload)
	if err != nil {
		return application.EventRecord{}, err
	}
	var created graphEvent
	if err := json.Unmarshal(data, &created); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(created)
}

// UpdateEvent patches an event.
func (a *Adapter) UpdateEvent(ctx context.Context, calendarExternalID, externalEventID string, input application.EventInput) (application.EventRecord, error) {
	payload, err := toGraphEvent(input)
	if err != nil {
		return application.EventRecord{}, err
	}
	eventURL := fmt.Sprintf("%s/me/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPatch, eventURL, payload)
	if err != nil {
		return application.EventRecord{}, err
	}
	var updated graphEvent
	if err := json.Unmarshal(data, &updated); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(updated)
}

// DeleteEvent deletes an event.
func (a *Adapter) DeleteEvent(ctx context.Context, calendarExternalID, externalEventID string) error {
	eventURL := fmt.Sprintf("%s/me/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	_, err := a.call(ctx, ratelimit.ClassWrite, http.MethodDelete, eventURL, nil)
	return err
}

// GetEvent fetches one event.
func (a *Adapter) GetEvent(ctx context.Context, calendarExternalID, externalEventID string) (application.EventRecord, error) {
	eventURL := fmt.Sprintf("%s/me/calendars/%s/events/%s", a.baseURL, url.PathEscape(calendarExternalID), url.PathEscape(externalEventID))
	data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, eventURL, nil)
	if err != nil {
		return application.EventRecord{}, err
	}
	var event graphEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return application.EventRecord{}, &domain.MalformedError{Reason: err.Error()}
	}
	return toEventRecord(event)
}

// ListEvents streams the calendar view as a delta query. The deltaLink's
// token is surfaced as the next sync token; removed entries appear with
// status cancelled.
func (a *Adapter) ListEvents(ctx context.Context, calendarExternalID string, start, end time.Time, syncToken string) (application.EventStream, error) {
	var first string
	if syncToken != "" {
		params := url.Values{}
		params.Set("$deltatoken", syncToken)
		first = fmt.Sprintf("%s/me/calendars/%s/calendarView/delta?%s", a.baseURL, url.PathEscape(calendarExternalID), params.Encode())
	} else {
		params := url.Values{}
		params.Set("startDateTime", start.UTC().Format(time.RFC3339))
		params.Set("endDateTime", end.UTC().Format(time.RFC3339))
		first = fmt.Sprintf("%s/me/calendars/%s/calendarView/delta?%s", a.baseURL, url.PathEscape(calendarExternalID), params.Encode())
	}
	return &eventStream{adapter: a, nextURL: first}, nil
}

type eventStream struct {
	adapter       *Adapter
	nextURL       string
	page          []graphEvent
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
	data, err := s.adapter.call(ctx, ratelimit.ClassRead, http.MethodGet, s.nextURL, nil)
	if err != nil {
		return err
	}
	var page struct {
		Value     []graphEvent `json:"value"`
		NextLink  string       `json:"@odata.nextLink"`
		DeltaLink string       `json:"@odata.deltaLink"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return &domain.MalformedError{Reason: err.Error()}
	}

	s.page = page.Value
	s.index = 0
	if page.DeltaLink != "" {
		s.nextSyncToken = deltaToken(page.DeltaLink)
		s.exhausted = true
		return nil
	}
	if page.NextLink == "" {
		s.exhausted = true
		return nil
	}
	s.nextURL = page.NextLink
	return nil
}

func (s *eventStream) NextSyncToken() string { return s.nextSyncToken }

func deltaToken(deltaLink string) string {
	parsed, err := url.Parse(deltaLink)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("$deltatoken")
}

// ListResources lists the organization's room resources.
func (a *Adapter) ListResources(ctx context.Context) ([]application.CalendarDescriptor, error) {
	var descriptors []application.CalendarDescriptor
	nextURL := a.baseURL + "/places/microsoft.graph.room"
	for nextURL != "" {
		data, err := a.call(ctx, ratelimit.ClassRead, http.MethodGet, nextURL, nil)
		if err != nil {
			return nil, err
		}
		var page struct {
			Value []struct {
				ID           string `json:"id"`
				DisplayName  string `json:"displayName"`
				EmailAddress string `json:"emailAddress"`
				Capacity     int    `json:"capacity"`
			} `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &domain.MalformedError{Reason: err.Error()}
		}
		for _, item := range page.Value {
			descriptors = append(descriptors, application.CalendarDescriptor{
				ExternalID: item.EmailAddress,
				Name:       item.DisplayName,
				Email:      item.EmailAddress,
				IsResource: true,
				Capacity:   item.Capacity,
			})
		}
		nextURL = page.NextLink
	}
	return descriptors, nil
}

// GetResource fetches one room by email.
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

// AvailableResources returns rooms with no busy span inside the range via
// the getSchedule endpoint.
func (a *Adapter) AvailableResources(ctx context.Context, start, end time.Time) ([]application.CalendarDescriptor, error) {
	resources, err := a.ListResources(ctx)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, nil
	}

	schedules := make([]string, 0, len(resources))
	for _, resource := range resources {
		schedules = append(schedules, resource.Email)
	}
	payload := map[string]any{
		"schedules": schedules,
		"startTime": graphDateTime{DateTime: start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		"endTime":   graphDateTime{DateTime: end.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
	}
	data, err := a.call(ctx, ratelimit.ClassRead, http.MethodPost, a.baseURL+"/me/calendar/getSchedule", payload)
	if err != nil {
		return nil, err
	}
	var response struct {
		Value []struct {
			ScheduleID    string `json:"scheduleId"`
			ScheduleItems []struct {
				Status string `json:"status"`
			} `json:"scheduleItems"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, &domain.MalformedError{Reason: err.Error()}
	}

	busy := make(map[string]bool, len(response.Value))
	for _, schedule := range response.Value {
		for _, item := range schedule.ScheduleItems {
			if item.Status != "free" {
				busy[schedule.ScheduleID] = true
				break
			}
		}
	}
	available := make([]application.CalendarDescriptor, 0, len(resources))
	for _, resource := range resources {
		if !busy[resource.Email] {
			available = append(available, resource)
		}
	}
	return available, nil
}

// CreateSubscription registers a Graph change notification subscription.
func (a *Adapter) CreateSubscription(ctx context.Context, resourceID, callbackURL string, desiredTTL time.Duration) (application.SubscriptionHandle, error) {
	clientState := uuid.NewString()
	payload := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    callbackURL,
		"resource":           fmt.Sprintf("/me/calendars/%s/events", resourceID),
		"expirationDateTime": time.Now().Add(desiredTTL).UTC().Format(time.RFC3339),
		"clientState":        clientState,
	}
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPost, a.baseURL+"/subscriptions", payload)
	if err != nil {
		return application.SubscriptionHandle{}, err
	}
	var created struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return application.SubscriptionHandle{}, &domain.MalformedError{Reason: err.Error()}
	}
	expiresAt := time.Now().Add(desiredTTL)
	if parsed, err := time.Parse(time.RFC3339, created.ExpirationDateTime); err == nil {
		expiresAt = parsed
	}
	return application.SubscriptionHandle{
		SubscriptionID: created.ID,
		ResourceID:     resourceID,
		ChannelID:      clientState,
		CallbackURL:    callbackURL,
		ExpiresAt:      expiresAt,
	}, nil
}

// RenewSubscription extends the subscription's expiry.
func (a *Adapter) RenewSubscription(ctx context.Context, handle application.SubscriptionHandle) (application.SubscriptionHandle, error) {
	payload := map[string]string{
		"expirationDateTime": time.Now().Add(application.DefaultSubscriptionTTL).UTC().Format(time.RFC3339),
	}
	data, err := a.call(ctx, ratelimit.ClassWrite, http.MethodPatch, a.baseURL+"/subscriptions/"+url.PathEscape(handle.SubscriptionID), payload)
	if err != nil {
		return application.SubscriptionHandle{}, err
	}
	var renewed struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(data, &renewed); err != nil {
		return application.SubscriptionHandle{}, &domain.MalformedError{Reason: err.Error()}
	}
	out := handle
	if renewed.ID != "" {
		out.SubscriptionID = renewed.ID
	}
	if parsed, err := time.Parse(time.RFC3339, renewed.ExpirationDateTime); err == nil {
		out.ExpiresAt = parsed
	}
	return out, nil
}

// CancelSubscription deletes the subscription.
func (a *Adapter) CancelSubscription(ctx context.Context, handle application.SubscriptionHandle) error {
	_, err := a.call(ctx, ratelimit.ClassWrite, http.MethodDelete, a.baseURL+"/subscriptions/"+url.PathEscape(handle.SubscriptionID), nil)
	return err
}

// ParseWebhook translates a Graph change notification. A validationToken in
// the body signals the setup handshake and is surfaced as a challenge.
func (a *Adapter) ParseWebhook(_ http.Header, body []byte) (application.ParsedNotification, error) {
	var payload struct {
		ValidationToken string `json:"validationToken"`
		Value           []struct {
			SubscriptionID string `json:"subscriptionId"`
			ChangeType     string `json:"changeType"`
			Resource       string `json:"resource"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return application.ParsedNotification{}, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}
	if payload.ValidationToken != "" {
		return application.ParsedNotification{Challenge: payload.ValidationToken}, nil
	}
	if len(payload.Value) == 0 {
		return application.ParsedNotification{}, fmt.Errorf("%w: empty notification", domain.ErrWebhookValidationFailed)
	}
	first := payload.Value[0]
	return application.ParsedNotification{
		EventType:          first.ChangeType,
		SubscriptionID:     first.SubscriptionID,
		ExternalCalendarID: calendarIDFromResource(first.Resource),
	}, nil
}

func calendarIDFromResource(resource string) string {
	parts := strings.Split(resource, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "calendars") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
