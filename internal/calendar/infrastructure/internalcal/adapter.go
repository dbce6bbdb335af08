// Package internalcal implements the calendar adapter for calendars the
// application itself owns. There is no remote system: events live only in
// the store, so the adapter answers from nothing and accepts everything.
package internalcal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// Adapter satisfies the uniform contract for the internal provider.
type Adapter struct{}

// NewAdapter creates an internal adapter.
func NewAdapter() *Adapter { return &Adapter{} }

// Provider returns the provider this adapter serves.
func (a *Adapter) Provider() domain.CalendarProvider { return domain.ProviderInternal }

// ListAccountCalendars returns nothing: internal calendars are created
// through the service, not discovered.
func (a *Adapter) ListAccountCalendars(_ context.Context) ([]application.CalendarDescriptor, error) {
	return nil, nil
}

// CreateCalendar mints a descriptor with a fresh id.
func (a *Adapter) CreateCalendar(_ context.Context, name string) (application.CalendarDescriptor, error) {
	return application.CalendarDescriptor{
		ExternalID: uuid.NewString(),
		Name:       name,
	}, nil
}

// CreateEvent echoes the input with a generated id.
func (a *Adapter) CreateEvent(_ context.Context, _ string, input application.EventInput) (application.EventRecord, error) {
	return recordFromInput(uuid.NewString(), input), nil
}

// UpdateEvent echoes the input.
func (a *Adapter) UpdateEvent(_ context.Context, _ string, externalEventID string, input application.EventInput) (application.EventRecord, error) {
	return recordFromInput(externalEventID, input), nil
}

// DeleteEvent accepts silently.
func (a *Adapter) DeleteEvent(_ context.Context, _, _ string) error { return nil }

// GetEvent has nothing to answer from.
func (a *Adapter) GetEvent(_ context.Context, _, _ string) (application.EventRecord, error) {
	return application.EventRecord{}, domain.ErrNotFound
}

// ListEvents streams nothing: the store already holds the truth.
func (a *Adapter) ListEvents(_ context.Context, _ string, _, _ time.Time, _ string) (application.EventStream, error) {
	return emptyStream{}, nil
}

// ListResources returns nothing.
func (a *Adapter) ListResources(_ context.Context) ([]application.CalendarDescriptor, error) {
	return nil, nil
}

// GetResource has nothing to answer from.
func (a *Adapter) GetResource(_ context.Context, _ string) (application.CalendarDescriptor, error) {
	return application.CalendarDescriptor{}, domain.ErrNotFound
}

// AvailableResources returns nothing.
func (a *Adapter) AvailableResources(_ context.Context, _, _ time.Time) ([]application.CalendarDescriptor, error) {
	return nil, nil
}

// CreateSubscription is unsupported: internal calendars change through the
// service, which needs no push channel.
func (a *Adapter) CreateSubscription(_ context.Context, _, _ string, _ time.Duration) (application.SubscriptionHandle, error) {
	return application.SubscriptionHandle{}, fmt.Errorf("internal calendars do not use webhook subscriptions")
}

// RenewSubscription is unsupported.
func (a *Adapter) RenewSubscription(_ context.Context, _ application.SubscriptionHandle) (application.SubscriptionHandle, error) {
	return application.SubscriptionHandle{}, fmt.Errorf("internal calendars do not use webhook subscriptions")
}

// CancelSubscription is unsupported.
func (a *Adapter) CancelSubscription(_ context.Context, _ application.SubscriptionHandle) error {
	return fmt.Errorf("internal calendars do not use webhook subscriptions")
}

// ParseWebhook never receives anything.
func (a *Adapter) ParseWebhook(_ http.Header, _ []byte) (application.ParsedNotification, error) {
	return application.ParsedNotification{}, fmt.Errorf("%w: internal provider has no webhooks", domain.ErrWebhookValidationFailed)
}

func recordFromInput(externalID string, input application.EventInput) application.EventRecord {
	return application.EventRecord{
		ExternalID:     externalID,
		Title:          input.Title,
		Description:    input.Description,
		Start:          input.Start,
		End:            input.End,
		Timezone:       input.Timezone,
		Status:         domain.EventConfirmed,
		RecurrenceRule: input.RecurrenceRule,
		Attendees:      input.Attendees,
	}
}

type emptyStream struct{}

func (emptyStream) Next(_ context.Context) (application.EventRecord, bool, error) {
	return application.EventRecord{}, false, nil
}

func (emptyStream) NextSyncToken() string { return "" }
