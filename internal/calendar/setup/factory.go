// Package setup wires provider adapters for the calendar services. Token
// acquisition and refresh live outside the core; the factory only needs a
// token source per tenant and provider.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/oauth2"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/caldav"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/google"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/internalcal"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/microsoft"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/ratelimit"
)

// TokenSources resolves OAuth2 token sources per tenant and provider.
type TokenSources interface {
	TokenSource(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider) (oauth2.TokenSource, error)
}

// AdapterFactory builds provider adapters on demand.
type AdapterFactory struct {
	tokens  TokenSources
	limiter ratelimit.Limiter
	logger  *slog.Logger
	caldav  caldav.Config
}

// NewAdapterFactory creates an adapter factory.
func NewAdapterFactory(tokens TokenSources, limiter ratelimit.Limiter, caldavConfig caldav.Config, logger *slog.Logger) *AdapterFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdapterFactory{
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
		caldav:  caldavConfig,
	}
}

// AdapterFor returns the adapter variant for the provider.
func (f *AdapterFactory) AdapterFor(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider) (application.CalendarAdapter, error) {
	switch provider {
	case domain.ProviderInternal:
		return internalcal.NewAdapter(), nil
	case domain.ProviderGoogle:
		return google.NewAdapter(tenant, tenant.String(), providerTokens{f.tokens, provider}, f.limiter, f.logger), nil
	case domain.ProviderMicrosoft:
		return microsoft.NewAdapter(tenant, tenant.String(), providerTokens{f.tokens, provider}, f.limiter, f.logger), nil
	case domain.ProviderApple, domain.ProviderICS:
		return caldav.NewAdapter(provider, tenant.String(), f.caldav, f.limiter)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, provider)
	}
}

// providerTokens pins a TokenSources to one provider so it satisfies the
// per-adapter token interfaces.
type providerTokens struct {
	sources  TokenSources
	provider domain.CalendarProvider
}

func (p providerTokens) TokenSource(ctx context.Context, tenant domain.TenantID) (oauth2.TokenSource, error) {
	if p.sources == nil {
		return nil, fmt.Errorf("%w: no token sources configured", domain.ErrInvalidCredentials)
	}
	return p.sources.TokenSource(ctx, tenant, p.provider)
}

// EnvTokenSources reads static access tokens from the environment, keyed
// GOOGLE_ACCESS_TOKEN / MICROSOFT_ACCESS_TOKEN. Development helper; real
// deployments plug in their token store.
type EnvTokenSources struct{}

// TokenSource returns a static token source from the environment.
func (EnvTokenSources) TokenSource(_ context.Context, _ domain.TenantID, provider domain.CalendarProvider) (oauth2.TokenSource, error) {
	var key string
	switch provider {
	case domain.ProviderGoogle:
		key = "GOOGLE_ACCESS_TOKEN"
	case domain.ProviderMicrosoft:
		key = "MICROSOFT_ACCESS_TOKEN"
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidProvider, provider)
	}
	token := os.Getenv(key)
	if token == "" {
		return nil, fmt.Errorf("%w: %s not set", domain.ErrInvalidCredentials, key)
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), nil
}
