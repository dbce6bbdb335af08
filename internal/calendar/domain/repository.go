package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

// TenantID aliases the shared tenant identifier so calendar repositories
// read naturally.
type TenantID = shared.TenantID

// BaseEntity and BaseAggregateRoot are re-exported for entity definitions.
type (
	BaseEntity        = shared.BaseEntity
	BaseAggregateRoot = shared.BaseAggregateRoot
)

// Shared constructors and errors used throughout the package.
var (
	NewBaseEntity        = shared.NewBaseEntity
	NewBaseAggregateRoot = shared.NewBaseAggregateRoot
	RehydrateBaseEntity  = shared.RehydrateBaseEntity
	SameTenant           = shared.SameTenant
	ErrMissingTenant     = shared.ErrMissingTenant
	ErrTenantViolation   = shared.ErrTenantViolation
	ErrNotFound          = shared.ErrNotFound
)

// TenantRepository resolves tenant existence for inbound requests and sweeps.
type TenantRepository interface {
	Create(ctx context.Context, tenant TenantID) error
	Exists(ctx context.Context, tenant TenantID) (bool, error)
	ListTenants(ctx context.Context) ([]TenantID, error)
}

// CalendarRepository persists calendars and bundle membership.
type CalendarRepository interface {
	Save(ctx context.Context, calendar *Calendar) error
	FindByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*Calendar, error)
	FindByExternalID(ctx context.Context, tenant TenantID, provider CalendarProvider, externalID string) (*Calendar, error)
	FindChildren(ctx context.Context, tenant TenantID, bundleID uuid.UUID) ([]*Calendar, error)
	Delete(ctx context.Context, tenant TenantID, id uuid.UUID) error
}

// RecurrenceRuleRepository persists recurrence rules.
type RecurrenceRuleRepository interface {
	Save(ctx context.Context, rule *RecurrenceRule) error
	SaveAll(ctx context.Context, rules []*RecurrenceRule) error
	FindByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*RecurrenceRule, error)
	FindByIDs(ctx context.Context, tenant TenantID, ids []uuid.UUID) (map[uuid.UUID]*RecurrenceRule, error)
	Delete(ctx context.Context, tenant TenantID, id uuid.UUID) error
}

// EventRepository persists calendar events.
type EventRepository interface {
	Save(ctx context.Context, event *CalendarEvent) error
	SaveAll(ctx context.Context, events []*CalendarEvent) error
	FindByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*CalendarEvent, error)
	// FindByExternalID resolves a provider event id within the tenant.
	FindByExternalID(ctx context.Context, tenant TenantID, externalID string) (*CalendarEvent, error)
	// FindContainedIn returns events whose interval lies inside [start, end].
	FindContainedIn(ctx context.Context, tenant TenantID, calendarID uuid.UUID, start, end time.Time) ([]*CalendarEvent, error)
	// FindOverlapping returns non-recurring events intersecting [start, end).
	FindOverlapping(ctx context.Context, tenant TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*CalendarEvent, error)
	// FindRecurringMasters returns masters whose series may intersect the
	// window: anchored before end and not ended before start.
	FindRecurringMasters(ctx context.Context, tenant TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*CalendarEvent, error)
	// FindInstances returns instances and exceptions of the given masters.
	FindInstances(ctx context.Context, tenant TenantID, parentIDs []uuid.UUID) ([]*CalendarEvent, error)
	// FindContinuations returns continuation events forking the given masters.
	FindContinuations(ctx context.Context, tenant TenantID, masterIDs []uuid.UUID) ([]*CalendarEvent, error)
	// FindPendingParent returns events still waiting for their master.
	FindPendingParent(ctx context.Context, tenant TenantID, calendarID uuid.UUID) ([]*CalendarEvent, error)
	DeleteByExternalIDs(ctx context.Context, tenant TenantID, calendarID uuid.UUID, externalIDs []string) error
	Delete(ctx context.Context, tenant TenantID, id uuid.UUID) error
}

// BlockedTimeRepository persists blocked times.
type BlockedTimeRepository interface {
	Save(ctx context.Context, block *BlockedTime) error
	SaveAll(ctx context.Context, blocks []*BlockedTime) error
	FindByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*BlockedTime, error)
	FindByExternalID(ctx context.Context, tenant TenantID, externalID string) (*BlockedTime, error)
	FindContainedIn(ctx context.Context, tenant TenantID, calendarID uuid.UUID, start, end time.Time) ([]*BlockedTime, error)
	FindOverlapping(ctx context.Context, tenant TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*BlockedTime, error)
	// FindRecurringMasters returns recurring block masters whose series may
	// intersect the window.
	FindRecurringMasters(ctx context.Context, tenant TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*BlockedTime, error)
	FindPendingParent(ctx context.Context, tenant TenantID, calendarID uuid.UUID) ([]*BlockedTime, error)
	DeleteByExternalIDs(ctx context.Context, tenant TenantID, calendarID uuid.UUID, externalIDs []string) error
	Delete(ctx context.Context, tenant TenantID, id uuid.UUID) error
}

// AvailableTimeRepository persists explicit availability windows.
type AvailableTimeRepository interface {
	SaveAll(ctx context.Context, windows []*AvailableTime) error
	FindContainedIn(ctx context.Context, tenant TenantID, calendarID uuid.UUID, start, end time.Time) ([]*AvailableTime, error)
	DeleteByIDs(ctx context.Context, tenant TenantID, ids []uuid.UUID) error
}

// AttendanceRepository persists event participation records.
type AttendanceRepository interface {
	SaveAttendances(ctx context.Context, attendances []*EventAttendance) error
	FindAttendancesByEvent(ctx context.Context, tenant TenantID, eventID uuid.UUID) ([]*EventAttendance, error)
	// FindOrCreateExternalAttendee resolves an attendee by email within the
	// tenant, creating it with the given name when absent.
	FindOrCreateExternalAttendee(ctx context.Context, tenant TenantID, email, name string) (*ExternalAttendee, error)
	SaveExternalAttendances(ctx context.Context, attendances []*EventExternalAttendance) error
	// ExternalAttendanceExists reports whether the attendee is already on
	// the event.
	ExternalAttendanceExists(ctx context.Context, tenant TenantID, eventID, attendeeID uuid.UUID) (bool, error)
	FindExternalAttendancesByEvent(ctx context.Context, tenant TenantID, eventID uuid.UUID) ([]*EventExternalAttendance, error)
	SaveResourceAllocations(ctx context.Context, allocations []*ResourceAllocation) error
	FindResourceAllocationsByEvent(ctx context.Context, tenant TenantID, eventID uuid.UUID) ([]*ResourceAllocation, error)
}

// SyncRepository persists calendar sync runs.
type SyncRepository interface {
	Save(ctx context.Context, sync *CalendarSync) error
	FindByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*CalendarSync, error)
	// FindInProgress returns the running sync for a calendar, if any.
	FindInProgress(ctx context.Context, tenant TenantID, calendarID uuid.UUID) (*CalendarSync, error)
	// FindLatestSuccessful returns the newest successful sync for a calendar.
	FindLatestSuccessful(ctx context.Context, tenant TenantID, calendarID uuid.UUID) (*CalendarSync, error)
	// FindCoalesceCandidate returns a sync that can absorb a webhook
	// notification: in progress, scheduled, or successful no earlier than
	// since. Failed syncs never coalesce.
	FindCoalesceCandidate(ctx context.Context, tenant TenantID, calendarID uuid.UUID, since time.Time) (*CalendarSync, error)
}

// WebhookRepository persists subscriptions and inbound notification records.
type WebhookRepository interface {
	SaveSubscription(ctx context.Context, sub *WebhookSubscription) error
	FindSubscriptionByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*WebhookSubscription, error)
	FindSubscription(ctx context.Context, tenant TenantID, calendarID uuid.UUID, provider CalendarProvider) (*WebhookSubscription, error)
	FindSubscriptionByExternalID(ctx context.Context, tenant TenantID, provider CalendarProvider, externalSubscriptionID string) (*WebhookSubscription, error)
	// FindSubscriptionsExpiringBefore returns active subscriptions whose
	// expiry falls before the given instant.
	FindSubscriptionsExpiringBefore(ctx context.Context, tenant TenantID, before time.Time) ([]*WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, tenant TenantID, id uuid.UUID) error

	SaveEvent(ctx context.Context, event *WebhookEvent) error
	FindEventByID(ctx context.Context, tenant TenantID, id uuid.UUID) (*WebhookEvent, error)
	FindEventsByStatus(ctx context.Context, tenant TenantID, status WebhookProcessingStatus, limit int) ([]*WebhookEvent, error)
}

// Store bundles the repositories behind one transactional boundary.
// WithinTx runs fn against a transaction-bound Store; the sync engine
// applies each change set through exactly one WithinTx call.
type Store interface {
	Tenants() TenantRepository
	Calendars() CalendarRepository
	RecurrenceRules() RecurrenceRuleRepository
	Events() EventRepository
	BlockedTimes() BlockedTimeRepository
	AvailableTimes() AvailableTimeRepository
	Attendances() AttendanceRepository
	Syncs() SyncRepository
	Webhooks() WebhookRepository

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
