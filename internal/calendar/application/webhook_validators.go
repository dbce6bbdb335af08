package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// googleRequiredHeaders must all be present on a Google push notification.
var googleRequiredHeaders = []string{
	"X-Goog-Channel-ID",
	"X-Goog-Resource-ID",
	"X-Goog-Resource-State",
}

// microsoftValidationTokenPattern is the canonical UUID shape Microsoft uses
// for subscription handshake tokens. Anything else is rejected before it can
// be echoed back.
var microsoftValidationTokenPattern = regexp.MustCompile(`(?i)^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

// WebhookValidator checks an inbound notification before anything is
// recorded. Failure means the request is answered 400 and dropped.
type WebhookValidator interface {
	Validate(ctx context.Context, tenant domain.TenantID, headers http.Header, body []byte) error
}

// GoogleWebhookValidator requires the Google channel headers.
type GoogleWebhookValidator struct{}

// Validate checks the required Google headers are all present.
func (GoogleWebhookValidator) Validate(_ context.Context, _ domain.TenantID, headers http.Header, _ []byte) error {
	for _, header := range googleRequiredHeaders {
		if headers.Get(header) == "" {
			return fmt.Errorf("%w: missing header %s", domain.ErrWebhookValidationFailed, header)
		}
	}
	return nil
}

// MicrosoftWebhookValidator requires the notification's subscription to be
// known and active for the tenant.
type MicrosoftWebhookValidator struct {
	Webhooks domain.WebhookRepository
	Clock    Clock
}

// Validate resolves the subscription named in the notification body.
func (v MicrosoftWebhookValidator) Validate(ctx context.Context, tenant domain.TenantID, _ http.Header, body []byte) error {
	subscriptionID := microsoftSubscriptionID(body)
	if subscriptionID == "" {
		return fmt.Errorf("%w: notification without subscription id", domain.ErrWebhookValidationFailed)
	}
	sub, err := v.Webhooks.FindSubscriptionByExternalID(ctx, tenant, domain.ProviderMicrosoft, subscriptionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown subscription %s", domain.ErrWebhookValidationFailed, subscriptionID)
		}
		return err
	}
	if !sub.IsActive(v.Clock.Now()) {
		return fmt.Errorf("%w: subscription %s inactive", domain.ErrWebhookValidationFailed, subscriptionID)
	}
	return nil
}

// ValidMicrosoftValidationToken reports whether the handshake token has the
// canonical UUID shape.
func ValidMicrosoftValidationToken(token string) bool {
	return microsoftValidationTokenPattern.MatchString(token)
}
