package application

import (
	"context"
	"net/http"
	"time"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// CalendarDescriptor describes a calendar as the provider reports it.
type CalendarDescriptor struct {
	ExternalID  string
	Name        string
	Description string
	Email       string
	IsPrimary   bool
	IsResource  bool
	Capacity    int
	Timezone    string
}

// AttendeeRecord is a provider attendee with its status already mapped to
// the canonical RSVP set.
type AttendeeRecord struct {
	Email  string
	Name   string
	Status domain.RSVPStatus
}

// ResourceRecord is a provider resource allocation on an event.
type ResourceRecord struct {
	ExternalID string
	Name       string
	Email      string
	Status     domain.RSVPStatus
}

// EventRecord is one provider event, normalized. Start/End preserve the
// provider's timezone via the Timezone field; instants are absolute.
type EventRecord struct {
	ExternalID       string
	Title            string
	Description      string
	Start            time.Time
	End              time.Time
	Timezone         string
	Status           domain.EventStatus
	RecurrenceRule   string // raw RRULE without the "RRULE:" prefix
	RecurringEventID string // master external id when this is an instance
	OriginalStart    time.Time
	Attendees        []AttendeeRecord
	Resources        []ResourceRecord
	OriginalPayload  map[string]any
}

// EventInput is the uniform payload for creating or updating an event on a
// provider.
type EventInput struct {
	Title          string
	Description    string
	Start          time.Time
	End            time.Time
	Timezone       string
	RecurrenceRule string
	Attendees      []AttendeeRecord
	Resources      []ResourceRecord
}

// EventStream is a lazy, cursored sequence of provider events. NextSyncToken
// becomes valid once Next reports exhaustion.
type EventStream interface {
	// Next returns the next event. ok=false signals exhaustion. A malformed
	// item yields err (matching domain.ErrMalformed) with ok=true so callers
	// can skip it and continue.
	Next(ctx context.Context) (record EventRecord, ok bool, err error)
	// NextSyncToken returns the incremental cursor for the following sync,
	// or "" when the provider did not supply one.
	NextSyncToken() string
}

// SubscriptionHandle identifies a push channel at the provider.
type SubscriptionHandle struct {
	SubscriptionID string
	ResourceID     string
	ChannelID      string
	CallbackURL    string
	ExpiresAt      time.Time
}

// ParsedNotification is a provider webhook translated into the uniform
// shape the pipeline consumes.
type ParsedNotification struct {
	// Challenge carries a validation handshake token. When set, the HTTP
	// layer echoes it and no processing happens.
	Challenge          string
	EventType          string
	ExternalCalendarID string
	SubscriptionID     string
	ResourceState      string
}

// IsChallenge reports whether the notification is a setup handshake.
func (n ParsedNotification) IsChallenge() bool { return n.Challenge != "" }

// CalendarAdapter is the uniform contract every provider variant implements.
// Callers never switch on provider: the sync engine and webhook pipeline
// speak only this interface. All operations fail with the domain error
// taxonomy (ErrProviderUnavailable, ErrAuthExpired, ErrNotFound,
// ErrRateLimited, ErrMalformed).
type CalendarAdapter interface {
	Provider() domain.CalendarProvider

	ListAccountCalendars(ctx context.Context) ([]CalendarDescriptor, error)
	CreateCalendar(ctx context.Context, name string) (CalendarDescriptor, error)

	CreateEvent(ctx context.Context, calendarExternalID string, input EventInput) (EventRecord, error)
	UpdateEvent(ctx context.Context, calendarExternalID, externalEventID string, input EventInput) (EventRecord, error)
	DeleteEvent(ctx context.Context, calendarExternalID, externalEventID string) error
	GetEvent(ctx context.Context, calendarExternalID, externalEventID string) (EventRecord, error)

	// ListEvents streams events in [start, end). With a sync token the
	// stream is a delta and cancelled events appear with status cancelled;
	// without one only live events appear.
	ListEvents(ctx context.Context, calendarExternalID string, start, end time.Time, syncToken string) (EventStream, error)

	ListResources(ctx context.Context) ([]CalendarDescriptor, error)
	GetResource(ctx context.Context, resourceID string) (CalendarDescriptor, error)
	AvailableResources(ctx context.Context, start, end time.Time) ([]CalendarDescriptor, error)

	CreateSubscription(ctx context.Context, resourceID, callbackURL string, desiredTTL time.Duration) (SubscriptionHandle, error)
	RenewSubscription(ctx context.Context, handle SubscriptionHandle) (SubscriptionHandle, error)
	CancelSubscription(ctx context.Context, handle SubscriptionHandle) error

	ParseWebhook(headers http.Header, body []byte) (ParsedNotification, error)
}

// AdapterFactory resolves the adapter for a tenant's provider account.
type AdapterFactory interface {
	AdapterFor(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider) (CalendarAdapter, error)
}

// RSVPMapping is the bidirectional map between provider-native status
// strings and the canonical set. Unknown provider values map to pending.
type RSVPMapping struct {
	toCanonical map[string]domain.RSVPStatus
	toProvider  map[domain.RSVPStatus]string
}

// NewRSVPMapping builds a mapping from provider status to canonical status.
// The inverse map keeps the first provider string seen per canonical value.
func NewRSVPMapping(toCanonical map[string]domain.RSVPStatus) RSVPMapping {
	inverse := make(map[domain.RSVPStatus]string, 3)
	for provider, canonical := range toCanonical {
		if _, seen := inverse[canonical]; !seen {
			inverse[canonical] = provider
		}
	}
	return RSVPMapping{toCanonical: toCanonical, toProvider: inverse}
}

// ToCanonical maps a provider status string; unknown values are pending.
func (m RSVPMapping) ToCanonical(providerStatus string) domain.RSVPStatus {
	if status, ok := m.toCanonical[providerStatus]; ok {
		return status
	}
	return domain.RSVPPending
}

// ToProvider maps a canonical status to the provider's string.
func (m RSVPMapping) ToProvider(status domain.RSVPStatus) string {
	if s, ok := m.toProvider[status]; ok {
		return s
	}
	return m.toProvider[domain.RSVPPending]
}

// WithOverrides returns a copy of the mapping with explicit inverse choices.
func (m RSVPMapping) WithOverrides(toProvider map[domain.RSVPStatus]string) RSVPMapping {
	out := RSVPMapping{
		toCanonical: m.toCanonical,
		toProvider:  make(map[domain.RSVPStatus]string, len(m.toProvider)),
	}
	for k, v := range m.toProvider {
		out.toProvider[k] = v
	}
	for k, v := range toProvider {
		out.toProvider[k] = v
	}
	return out
}
