// Package workers runs the background jobs of the calendar core: calendar
// syncs, account and resource imports, and webhook subscription renewals.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// Runner defaults.
const (
	DefaultWorkersPerTenant = 4
	DefaultWorkersTotal     = 32
	DefaultMaxAttempts      = 5
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffCap       = 2 * time.Minute
	// DefaultFullSyncBudget / IncrementalSyncBudget bound a sync job's wall
	// clock.
	DefaultFullSyncBudget        = 10 * time.Minute
	DefaultIncrementalSyncBudget = 2 * time.Minute
	// DefaultJobBudget bounds every other job kind.
	DefaultJobBudget = 2 * time.Minute
)

// JobConsumer delivers jobs to a handler until the context is cancelled.
type JobConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, job application.Job) error) error
}

// RunnerConfig configures the job runner.
type RunnerConfig struct {
	WorkersPerTenant int64
	WorkersTotal     int64
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffCap       time.Duration
}

// DefaultRunnerConfig returns the default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkersPerTenant: DefaultWorkersPerTenant,
		WorkersTotal:     DefaultWorkersTotal,
		MaxAttempts:      DefaultMaxAttempts,
		BackoffBase:      DefaultBackoffBase,
		BackoffCap:       DefaultBackoffCap,
	}
}

// Runner executes background jobs with bounded concurrency: a global cap,
// a per-tenant cap, and strictly serial execution per calendar. Jobs are
// idempotent by their keyed entity id, so redelivery is safe.
type Runner struct {
	store         domain.Store
	syncs         *application.SyncService
	calendars     *application.CalendarService
	subscriptions *application.SubscriptionService
	consumer      JobConsumer
	config        RunnerConfig
	logger        *slog.Logger

	total *semaphore.Weighted

	mu            sync.Mutex
	tenantSlots   map[uuid.UUID]*semaphore.Weighted
	calendarLocks map[uuid.UUID]*sync.Mutex
}

// NewRunner creates a job runner.
func NewRunner(
	store domain.Store,
	syncs *application.SyncService,
	calendars *application.CalendarService,
	subscriptions *application.SubscriptionService,
	consumer JobConsumer,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if config.WorkersPerTenant <= 0 {
		config.WorkersPerTenant = DefaultWorkersPerTenant
	}
	if config.WorkersTotal <= 0 {
		config.WorkersTotal = DefaultWorkersTotal
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffCap <= 0 {
		config.BackoffCap = DefaultBackoffCap
	}
	return &Runner{
		store:         store,
		syncs:         syncs,
		calendars:     calendars,
		subscriptions: subscriptions,
		consumer:      consumer,
		config:        config,
		logger:        logger,
		total:         semaphore.NewWeighted(config.WorkersTotal),
		tenantSlots:   make(map[uuid.UUID]*semaphore.Weighted),
		calendarLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Run consumes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("job runner started",
		"workers_per_tenant", r.config.WorkersPerTenant,
		"workers_total", r.config.WorkersTotal)
	return r.consumer.Consume(ctx, r.Handle)
}

// Handle executes one job to completion, retrying retryable failures with
// exponential backoff inside the job's attempt budget.
func (r *Runner) Handle(ctx context.Context, job application.Job) error {
	tenant, err := job.Tenant()
	if err != nil {
		r.logger.Error("dropping job without tenant", "kind", string(job.Kind))
		return nil // unroutable, do not redeliver
	}

	if err := r.total.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.total.Release(1)

	slots := r.tenantSemaphore(tenant.UUID())
	if err := slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer slots.Release(1)

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = r.dispatch(ctx, tenant, job)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			r.logger.Warn("job failed permanently",
				"kind", string(job.Kind), "entity_id", job.EntityID, "error", lastErr)
			return nil // terminal: state is recorded on the entity
		}
		delay := backoffDelay(r.config.BackoffBase, r.config.BackoffCap, attempt)
		r.logger.Debug("job retrying",
			"kind", string(job.Kind), "entity_id", job.EntityID,
			"attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	r.logger.Warn("job exhausted retries",
		"kind", string(job.Kind), "entity_id", job.EntityID, "error", lastErr)
	return lastErr
}

func (r *Runner) dispatch(ctx context.Context, tenant domain.TenantID, job application.Job) error {
	switch job.Kind {
	case application.JobSyncCalendar:
		return r.runSync(ctx, tenant, job.EntityID)
	case application.JobImportAccountCalendars:
		ctx, cancel := context.WithTimeout(ctx, DefaultJobBudget)
		defer cancel()
		_, err := r.calendars.ImportAccountCalendars(ctx, tenant, job.Provider)
		return err
	case application.JobImportOrgResources:
		ctx, cancel := context.WithTimeout(ctx, DefaultJobBudget)
		defer cancel()
		_, err := r.calendars.ImportOrganizationResources(ctx, tenant, job.Provider)
		return err
	case application.JobRenewSubscription:
		ctx, cancel := context.WithTimeout(ctx, DefaultJobBudget)
		defer cancel()
		return r.subscriptions.Renew(ctx, tenant, job.EntityID)
	default:
		r.logger.Error("unknown job kind", "kind", string(job.Kind))
		return nil
	}
}

func (r *Runner) runSync(ctx context.Context, tenant domain.TenantID, syncID uuid.UUID) error {
	sync, err := r.store.Syncs().FindByID(ctx, tenant, syncID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if sync.Status() == domain.SyncSuccess {
		return nil
	}

	budget := DefaultFullSyncBudget
	if latest, err := r.store.Syncs().FindLatestSuccessful(ctx, tenant, sync.CalendarID()); err == nil && latest.NextSyncToken() != "" {
		budget = DefaultIncrementalSyncBudget
	}

	// Syncs for a single calendar run strictly in order.
	lock := r.calendarLock(sync.CalendarID())
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return r.syncs.Execute(ctx, tenant, syncID)
}

func (r *Runner) tenantSemaphore(tenant uuid.UUID) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	slots, ok := r.tenantSlots[tenant]
	if !ok {
		slots = semaphore.NewWeighted(r.config.WorkersPerTenant)
		r.tenantSlots[tenant] = slots
	}
	return slots
}

func (r *Runner) calendarLock(calendarID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.calendarLocks[calendarID]
	if !ok {
		lock = &sync.Mutex{}
		r.calendarLocks[calendarID] = lock
	}
	return lock
}

// retryable classifies failures the runner may retry. Everything else is
// terminal for the job; the entity records the failure.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderTimeout),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrSyncAlreadyRunning),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
