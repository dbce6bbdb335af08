package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// JobKind identifies a background job type.
type JobKind string

const (
	// JobSyncCalendar executes one scheduled CalendarSync.
	JobSyncCalendar JobKind = "sync_calendar"
	// JobImportAccountCalendars imports the provider account's calendars.
	JobImportAccountCalendars JobKind = "import_account_calendars"
	// JobImportOrgResources imports the organization's resource calendars.
	JobImportOrgResources JobKind = "import_org_resources"
	// JobRenewSubscription renews one webhook subscription.
	JobRenewSubscription JobKind = "renew_subscription"
)

// Job is one unit of background work. Jobs are idempotent by their keyed
// identifier: re-running a job for an already-terminal entity is a no-op.
type Job struct {
	Kind     JobKind                 `json:"kind"`
	TenantID uuid.UUID               `json:"tenant_id"`
	Provider domain.CalendarProvider `json:"provider,omitempty"`
	// EntityID keys the job: the CalendarSync id for sync jobs, the
	// subscription id for renewals, the calendar id otherwise.
	EntityID uuid.UUID `json:"entity_id"`
}

// Tenant returns the job's tenant id as a domain TenantID.
func (j Job) Tenant() (domain.TenantID, error) {
	return domain.NewTenantID(j.TenantID)
}

// JobQueue enqueues background jobs for the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}
