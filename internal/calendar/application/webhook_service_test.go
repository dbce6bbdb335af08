package application

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

type recordingQueue struct {
	jobs []Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type webhookFixture struct {
	*syncFixture
	queue   *recordingQueue
	service *WebhookService
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	base := newSyncFixture(t)
	queue := &recordingQueue{}
	service := NewWebhookService(base.store, base.service, queue, base.clock, nil)
	return &webhookFixture{syncFixture: base, queue: queue, service: service}
}

func googleHeaders(calendarExternalID, state string) http.Header {
	headers := http.Header{}
	headers.Set("X-Goog-Channel-ID", "chan-1")
	headers.Set("X-Goog-Resource-ID", "res-1")
	headers.Set("X-Goog-Resource-State", state)
	headers.Set("X-Goog-Resource-URI", "https://www.googleapis.com/calendar/v3/calendars/"+calendarExternalID+"/events")
	return headers
}

func TestWebhook_UnknownTenantRefused(t *testing.T) {
	f := newWebhookFixture(t)

	result := f.service.Handle(context.Background(), domain.ProviderGoogle, uuid.New(),
		googleHeaders("cal-1", "exists"), url.Values{}, nil)

	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.Nil(t, result.WebhookEventID)
}

func TestWebhook_GoogleMissingHeadersRejected(t *testing.T) {
	f := newWebhookFixture(t)

	headers := http.Header{}
	headers.Set("X-Goog-Channel-ID", "chan-1")
	// Resource-ID and Resource-State missing.

	result := f.service.Handle(context.Background(), domain.ProviderGoogle, f.tenant.UUID(), headers, url.Values{}, nil)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Nil(t, result.WebhookEventID, "no WebhookEvent is recorded on validation failure")
}

func TestWebhook_GoogleSyncStateIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result := f.service.Handle(ctx, domain.ProviderGoogle, f.tenant.UUID(),
		googleHeaders("cal-1", "sync"), url.Values{}, nil)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NotNil(t, result.WebhookEventID)

	event, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *result.WebhookEventID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookIgnored, event.ProcessingStatus())
	assert.Empty(t, f.queue.jobs)
}

func TestWebhook_GoogleNotificationSchedulesSync(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result := f.service.Handle(ctx, domain.ProviderGoogle, f.tenant.UUID(),
		googleHeaders("cal-1", "exists"), url.Values{}, []byte(`{}`))
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NotNil(t, result.WebhookEventID)

	event, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *result.WebhookEventID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookProcessed, event.ProcessingStatus())
	assert.Equal(t, "exists", event.EventType())
	assert.Equal(t, "cal-1", event.ExternalCalendarID())
	require.NotNil(t, event.CalendarSyncID())

	sync, err := f.store.Syncs().FindByID(ctx, f.tenant, *event.CalendarSyncID())
	require.NoError(t, err)
	assert.True(t, sync.ShouldUpdateEvents())
	assert.True(t, sync.Window().Start().Equal(f.clock.Now().Add(-24*time.Hour)))
	assert.True(t, sync.Window().End().Equal(f.clock.Now().Add(30*24*time.Hour)))

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, JobSyncCalendar, f.queue.jobs[0].Kind)
	assert.Equal(t, sync.ID(), f.queue.jobs[0].EntityID)
}

func TestWebhook_DuplicateDeliveriesCoalesce(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	first := f.service.Handle(ctx, domain.ProviderGoogle, f.tenant.UUID(),
		googleHeaders("cal-1", "exists"), url.Values{}, []byte(`{}`))
	second := f.service.Handle(ctx, domain.ProviderGoogle, f.tenant.UUID(),
		googleHeaders("cal-1", "exists"), url.Values{}, []byte(`{}`))

	require.NotNil(t, first.WebhookEventID)
	require.NotNil(t, second.WebhookEventID)

	firstEvent, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *first.WebhookEventID)
	require.NoError(t, err)
	secondEvent, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *second.WebhookEventID)
	require.NoError(t, err)

	require.NotNil(t, firstEvent.CalendarSyncID())
	require.NotNil(t, secondEvent.CalendarSyncID())
	assert.Equal(t, *firstEvent.CalendarSyncID(), *secondEvent.CalendarSyncID(),
		"duplicates inside the coalesce window share one sync")
	assert.Len(t, f.queue.jobs, 1, "only the first delivery enqueues a job")
}

func TestWebhook_UnknownCalendarMarksFailed(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	result := f.service.Handle(ctx, domain.ProviderGoogle, f.tenant.UUID(),
		googleHeaders("not-a-calendar", "exists"), url.Values{}, []byte(`{}`))
	// Still 200: the provider must not retry-storm.
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NotNil(t, result.WebhookEventID)

	event, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *result.WebhookEventID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookFailed, event.ProcessingStatus())
	assert.NotEmpty(t, event.ErrorMessage())
}

func TestWebhook_MicrosoftValidationToken(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	// A script injection is rejected outright.
	evil := url.Values{}
	evil.Set("validationToken", "<script>alert(1)</script>")
	result := f.service.Handle(ctx, domain.ProviderMicrosoft, f.tenant.UUID(), http.Header{}, evil, nil)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)

	// A canonical UUID is echoed back escaped.
	token := "abcdef01-2345-6789-abcd-ef0123456789"
	ok := url.Values{}
	ok.Set("validationToken", token)
	result = f.service.Handle(ctx, domain.ProviderMicrosoft, f.tenant.UUID(), http.Header{}, ok, nil)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, token, result.Body)
	assert.Equal(t, "text/plain", result.ContentType)
	assert.Nil(t, result.WebhookEventID, "handshakes are not recorded")
}

func TestWebhook_MicrosoftNotificationViaSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	msCalendar, err := domain.NewCalendar(f.tenant, domain.CalendarSpec{
		Name:       "Outlook",
		Provider:   domain.ProviderMicrosoft,
		Kind:       domain.KindPersonal,
		ExternalID: "ms-cal-1",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Calendars().Save(ctx, msCalendar))

	sub, err := domain.NewWebhookSubscription(f.tenant, domain.WebhookSubscriptionSpec{
		CalendarID:             msCalendar.ID(),
		Provider:               domain.ProviderMicrosoft,
		ExternalSubscriptionID: "graph-sub-1",
		CallbackURL:            "https://example.com/webhooks/microsoft-calendar/t/",
		ExpiresAt:              f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Webhooks().SaveSubscription(ctx, sub))

	body := []byte(`{"value":[{"subscriptionId":"graph-sub-1","changeType":"updated","resource":"me/calendars/ms-cal-1/events/AAA"}]}`)
	result := f.service.Handle(ctx, domain.ProviderMicrosoft, f.tenant.UUID(), http.Header{}, url.Values{}, body)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NotNil(t, result.WebhookEventID)

	event, err := f.store.Webhooks().FindEventByID(ctx, f.tenant, *result.WebhookEventID)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookProcessed, event.ProcessingStatus())
	assert.Equal(t, "ms-cal-1", event.ExternalCalendarID())

	// The subscription records the delivery.
	touched, err := f.store.Webhooks().FindSubscriptionByExternalID(ctx, f.tenant, domain.ProviderMicrosoft, "graph-sub-1")
	require.NoError(t, err)
	assert.NotNil(t, touched.LastNotificationAt())
}

func TestWebhook_MicrosoftUnknownSubscriptionRejected(t *testing.T) {
	f := newWebhookFixture(t)

	body := []byte(`{"value":[{"subscriptionId":"unknown-sub","changeType":"updated"}]}`)
	result := f.service.Handle(context.Background(), domain.ProviderMicrosoft, f.tenant.UUID(), http.Header{}, url.Values{}, body)
	assert.Equal(t, http.StatusBadRequest, result.StatusCode)
	assert.Nil(t, result.WebhookEventID)
}
