package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// Subscription defaults.
const (
	// DefaultSubscriptionTTL is requested from providers; they may grant less.
	DefaultSubscriptionTTL = 7 * 24 * time.Hour
	// DefaultRenewalLead renews subscriptions expiring within this lead time.
	DefaultRenewalLead = 24 * time.Hour
)

// SubscriptionService manages webhook subscription lifecycle against the
// providers: create on connect, renew before expiry, cancel on disconnect.
type SubscriptionService struct {
	store       domain.Store
	adapters    AdapterFactory
	queue       JobQueue
	clock       Clock
	logger      *slog.Logger
	ttl         time.Duration
	renewalLead time.Duration
}

// NewSubscriptionService creates a subscription service.
func NewSubscriptionService(store domain.Store, adapters AdapterFactory, queue JobQueue, clock Clock, logger *slog.Logger) *SubscriptionService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionService{
		store:       store,
		adapters:    adapters,
		queue:       queue,
		clock:       clock,
		logger:      logger,
		ttl:         DefaultSubscriptionTTL,
		renewalLead: DefaultRenewalLead,
	}
}

// Subscribe registers a push channel for the calendar. An existing active
// subscription is returned as-is; an expired one is replaced.
func (s *SubscriptionService) Subscribe(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, callbackURL string) (*domain.WebhookSubscription, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	if !calendar.Provider().SupportsWebhooks() {
		return nil, domain.ErrInvalidProvider
	}

	now := s.clock.Now()
	existing, err := s.store.Webhooks().FindSubscription(ctx, tenant, calendar.ID(), calendar.Provider())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsActive(now) {
		return existing, nil
	}

	adapter, err := s.adapters.AdapterFor(ctx, tenant, calendar.Provider())
	if err != nil {
		return nil, err
	}
	handle, err := adapter.CreateSubscription(ctx, calendar.ExternalID(), callbackURL, s.ttl)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := existing.Renew(handle.SubscriptionID, handle.ResourceID, handle.ChannelID, handle.ExpiresAt); err != nil {
			return nil, err
		}
		if err := s.store.Webhooks().SaveSubscription(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	subscription, err := domain.NewWebhookSubscription(tenant, domain.WebhookSubscriptionSpec{
		CalendarID:             calendar.ID(),
		Provider:               calendar.Provider(),
		ExternalSubscriptionID: handle.SubscriptionID,
		ExternalResourceID:     handle.ResourceID,
		CallbackURL:            callbackURL,
		ChannelID:              handle.ChannelID,
		ExpiresAt:              handle.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Webhooks().SaveSubscription(ctx, subscription); err != nil {
		return nil, err
	}
	return subscription, nil
}

// Renew refreshes one subscription against its provider.
func (s *SubscriptionService) Renew(ctx context.Context, tenant domain.TenantID, subscriptionID uuid.UUID) error {
	subscription, err := s.findSubscriptionByID(ctx, tenant, subscriptionID)
	if err != nil {
		return err
	}
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, subscription.CalendarID())
	if err != nil {
		return err
	}
	adapter, err := s.adapters.AdapterFor(ctx, tenant, subscription.Provider())
	if err != nil {
		return err
	}

	handle, err := adapter.RenewSubscription(ctx, SubscriptionHandle{
		SubscriptionID: subscription.ExternalSubscriptionID(),
		ResourceID:     calendar.ExternalID(),
		ChannelID:      subscription.ChannelID(),
		CallbackURL:    subscription.CallbackURL(),
		ExpiresAt:      subscription.ExpiresAt(),
	})
	if err != nil {
		return err
	}
	if err := subscription.Renew(handle.SubscriptionID, handle.ResourceID, handle.ChannelID, handle.ExpiresAt); err != nil {
		return err
	}
	return s.store.Webhooks().SaveSubscription(ctx, subscription)
}

// Cancel tears down the provider channel and deactivates the record.
func (s *SubscriptionService) Cancel(ctx context.Context, tenant domain.TenantID, subscriptionID uuid.UUID) error {
	subscription, err := s.findSubscriptionByID(ctx, tenant, subscriptionID)
	if err != nil {
		return err
	}
	adapter, err := s.adapters.AdapterFor(ctx, tenant, subscription.Provider())
	if err != nil {
		return err
	}
	if err := adapter.CancelSubscription(ctx, SubscriptionHandle{
		SubscriptionID: subscription.ExternalSubscriptionID(),
		ChannelID:      subscription.ChannelID(),
	}); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	subscription.Deactivate()
	return s.store.Webhooks().SaveSubscription(ctx, subscription)
}

// EnqueueExpiringRenewals sweeps one tenant for subscriptions nearing
// expiry and enqueues a renewal job for each. Returns the number enqueued.
func (s *SubscriptionService) EnqueueExpiringRenewals(ctx context.Context, tenant domain.TenantID) (int, error) {
	deadline := s.clock.Now().Add(s.renewalLead)
	expiring, err := s.store.Webhooks().FindSubscriptionsExpiringBefore(ctx, tenant, deadline)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, subscription := range expiring {
		if s.queue == nil {
			break
		}
		err := s.queue.Enqueue(ctx, Job{
			Kind:     JobRenewSubscription,
			TenantID: tenant.UUID(),
			Provider: subscription.Provider(),
			EntityID: subscription.ID(),
		})
		if err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

func (s *SubscriptionService) findSubscriptionByID(ctx context.Context, tenant domain.TenantID, subscriptionID uuid.UUID) (*domain.WebhookSubscription, error) {
	return s.store.Webhooks().FindSubscriptionByID(ctx, tenant, subscriptionID)
}
