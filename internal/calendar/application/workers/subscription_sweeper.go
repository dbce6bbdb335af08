package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// DefaultSweepInterval is how often the sweeper looks for expiring
// subscriptions.
const DefaultSweepInterval = time.Hour

// SubscriptionSweeper periodically enqueues renewal jobs for webhook
// subscriptions nearing expiry, across all tenants.
type SubscriptionSweeper struct {
	store         domain.Store
	subscriptions *application.SubscriptionService
	interval      time.Duration
	logger        *slog.Logger
}

// NewSubscriptionSweeper creates a sweeper.
func NewSubscriptionSweeper(store domain.Store, subscriptions *application.SubscriptionService, interval time.Duration, logger *slog.Logger) *SubscriptionSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionSweeper{
		store:         store,
		subscriptions: subscriptions,
		interval:      interval,
		logger:        logger,
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (s *SubscriptionSweeper) Run(ctx context.Context) error {
	s.logger.Info("subscription sweeper started", "interval", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscription sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SubscriptionSweeper) sweep(ctx context.Context) {
	tenants, err := s.store.Tenants().ListTenants(ctx)
	if err != nil {
		s.logger.Error("listing tenants failed", "error", err)
		return
	}
	for _, tenant := range tenants {
		enqueued, err := s.subscriptions.EnqueueExpiringRenewals(ctx, tenant)
		if err != nil {
			s.logger.Warn("renewal sweep failed for tenant",
				"tenant", tenant.String(), "error", err)
			continue
		}
		if enqueued > 0 {
			s.logger.Info("enqueued subscription renewals",
				"tenant", tenant.String(), "count", enqueued)
		}
	}
}
