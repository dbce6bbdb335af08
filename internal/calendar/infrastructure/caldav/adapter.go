// Package caldav implements a read-only calendar adapter over CalDAV, used
// for Apple calendars and generic ICS feeds. CalDAV has no push channels
// and no delta tokens, so every sync is a full sync over the window.
package caldav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/ratelimit"
)

// ErrReadOnly marks writes against CalDAV calendars, which this adapter
// mirrors but never mutates.
var ErrReadOnly = fmt.Errorf("caldav calendars are mirrored read-only")

// Config carries the server endpoint and credentials.
type Config struct {
	Endpoint string
	Username string
	Password string
}

// Adapter reads calendars and events over CalDAV.
type Adapter struct {
	provider  domain.CalendarProvider
	accountID string
	config    Config
	limiter   ratelimit.Limiter
	client    *caldav.Client
}

// NewAdapter creates a CalDAV adapter for the apple or ics provider.
func NewAdapter(provider domain.CalendarProvider, accountID string, config Config, limiter ratelimit.Limiter) (*Adapter, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(&http.Client{Timeout: 30 * time.Second}, config.Username, config.Password)
	client, err := caldav.NewClient(httpClient, config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return &Adapter{
		provider:  provider,
		accountID: accountID,
		config:    config,
		limiter:   limiter,
		client:    client,
	}, nil
}

// Provider returns the provider this adapter serves.
func (a *Adapter) Provider() domain.CalendarProvider { return a.provider }

func (a *Adapter) acquire(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Acquire(ctx, ratelimit.Key{Provider: a.provider, AccountID: a.accountID}, ratelimit.ClassRead)
}

// ListAccountCalendars discovers the principal's calendars.
func (a *Adapter) ListAccountCalendars(ctx context.Context) ([]application.CalendarDescriptor, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	principal, err := a.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	homeSet, err := a.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	calendars, err := a.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	descriptors := make([]application.CalendarDescriptor, 0, len(calendars))
	for _, calendar := range calendars {
		descriptors = append(descriptors, application.CalendarDescriptor{
			ExternalID:  calendar.Path,
			Name:        calendar.Name,
			Description: calendar.Description,
		})
	}
	return descriptors, nil
}

// CreateCalendar is not supported: the server owns its collections.
func (a *Adapter) CreateCalendar(_ context.Context, _ string) (application.CalendarDescriptor, error) {
	return application.CalendarDescriptor{}, ErrReadOnly
}

// CreateEvent is not supported.
func (a *Adapter) CreateEvent(_ context.Context, _ string, _ application.EventInput) (application.EventRecord, error) {
	return application.EventRecord{}, ErrReadOnly
}

// UpdateEvent is not supported.
func (a *Adapter) UpdateEvent(_ context.Context, _, _ string, _ application.EventInput) (application.EventRecord, error) {
	return application.EventRecord{}, ErrReadOnly
}

// DeleteEvent is not supported.
func (a *Adapter) DeleteEvent(_ context.Context, _, _ string) error { return ErrReadOnly }

// GetEvent fetches a single object by path.
func (a *Adapter) GetEvent(ctx context.Context, _ string, externalEventID string) (application.EventRecord, error) {
	if err := a.acquire(ctx); err != nil {
		return application.EventRecord{}, err
	}
	object, err := a.client.GetCalendarObject(ctx, externalEventID)
	if err != nil {
		return application.EventRecord{}, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	records := recordsFromObject(object)
	if len(records) == 0 {
		return application.EventRecord{}, domain.ErrNotFound
	}
	return records[0], nil
}

// ListEvents queries VEVENTs in the window. CalDAV cannot express deltas,
// so a supplied sync token is ignored and the stream is always complete.
func (a *Adapter) ListEvents(ctx context.Context, calendarExternalID string, start, end time.Time, _ string) (application.EventStream, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}
	objects, err := a.client.QueryCalendar(ctx, calendarExternalID, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	var records []application.EventRecord
	for _, object := range objects {
		records = append(records, recordsFromObject(&object)...)
	}
	return &sliceStream{records: records}, nil
}

func recordsFromObject(object *caldav.CalendarObject) []application.EventRecord {
	if object == nil || object.Data == nil {
		return nil
	}
	var records []application.EventRecord
	for _, event := range object.Data.Events() {
		record, err := recordFromEvent(object.Path, event)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records
}

func recordFromEvent(path string, event ical.Event) (application.EventRecord, error) {
	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return application.EventRecord{}, err
	}
	end, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		return application.EventRecord{}, err
	}

	record := application.EventRecord{
		ExternalID: path,
		Start:      start,
		End:        end,
		Timezone:   start.Location().String(),
		Status:     domain.EventConfirmed,
	}
	if prop := event.Props.Get(ical.PropUID); prop != nil && prop.Value != "" {
		record.ExternalID = prop.Value
	}
	if prop := event.Props.Get(ical.PropSummary); prop != nil {
		record.Title = prop.Value
	}
	if prop := event.Props.Get(ical.PropDescription); prop != nil {
		record.Description = prop.Value
	}
	if prop := event.Props.Get(ical.PropStatus); prop != nil && prop.Value == "CANCELLED" {
		record.Status = domain.EventCancelled
	}
	if prop := event.Props.Get(ical.PropRecurrenceRule); prop != nil {
		record.RecurrenceRule = prop.Value
	}
	return record, nil
}

type sliceStream struct {
	records []application.EventRecord
	index   int
}

func (s *sliceStream) Next(_ context.Context) (application.EventRecord, bool, error) {
	if s.index >= len(s.records) {
		return application.EventRecord{}, false, nil
	}
	record := s.records[s.index]
	s.index++
	return record, true, nil
}

func (s *sliceStream) NextSyncToken() string { return "" }

// ListResources is not a CalDAV concept.
func (a *Adapter) ListResources(_ context.Context) ([]application.CalendarDescriptor, error) {
	return nil, nil
}

// GetResource is not a CalDAV concept.
func (a *Adapter) GetResource(_ context.Context, _ string) (application.CalendarDescriptor, error) {
	return application.CalendarDescriptor{}, domain.ErrNotFound
}

// AvailableResources is not a CalDAV concept.
func (a *Adapter) AvailableResources(_ context.Context, _, _ time.Time) ([]application.CalendarDescriptor, error) {
	return nil, nil
}

// CreateSubscription is unsupported: CalDAV servers do not push.
func (a *Adapter) CreateSubscription(_ context.Context, _, _ string, _ time.Duration) (application.SubscriptionHandle, error) {
	return application.SubscriptionHandle{}, ErrReadOnly
}

// RenewSubscription is unsupported.
func (a *Adapter) RenewSubscription(_ context.Context, _ application.SubscriptionHandle) (application.SubscriptionHandle, error) {
	return application.SubscriptionHandle{}, ErrReadOnly
}

// CancelSubscription is unsupported.
func (a *Adapter) CancelSubscription(_ context.Context, _ application.SubscriptionHandle) error {
	return ErrReadOnly
}

// ParseWebhook never receives anything.
func (a *Adapter) ParseWebhook(_ http.Header, _ []byte) (application.ParsedNotification, error) {
	return application.ParsedNotification{}, fmt.Errorf("%w: caldav has no webhooks", domain.ErrWebhookValidationFailed)
}
