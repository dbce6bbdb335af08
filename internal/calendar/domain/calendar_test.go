package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCalendar(t *testing.T, tenant TenantID, spec CalendarSpec) *Calendar {
	t.Helper()
	cal, err := NewCalendar(tenant, spec)
	require.NoError(t, err)
	return cal
}

func TestNewCalendar_Validation(t *testing.T) {
	tenant := testTenant()

	_, err := NewCalendar(tenant, CalendarSpec{Name: "", Provider: ProviderInternal, Kind: KindPersonal})
	assert.ErrorIs(t, err, ErrEmptyCalendarName)

	_, err = NewCalendar(tenant, CalendarSpec{Name: "x", Provider: "yahoo", Kind: KindPersonal})
	assert.ErrorIs(t, err, ErrInvalidProvider)

	_, err = NewCalendar(tenant, CalendarSpec{Name: "x", Provider: ProviderGoogle, Kind: KindPersonal})
	assert.ErrorIs(t, err, ErrExternalIDRequired)

	_, err = NewCalendar(TenantID{}, CalendarSpec{Name: "x", Provider: ProviderInternal, Kind: KindPersonal})
	assert.ErrorIs(t, err, ErrMissingTenant)

	cal := mustCalendar(t, tenant, CalendarSpec{
		Name:       "Room A",
		Provider:   ProviderGoogle,
		Kind:       KindResource,
		ExternalID: "room-a@resource.calendar.google.com",
	})
	assert.True(t, cal.IsResource())
	assert.True(t, cal.Provider().IsExternal())
}

func TestNewBundleCalendar(t *testing.T) {
	tenant := testTenant()
	c1 := mustCalendar(t, tenant, CalendarSpec{Name: "C1", Provider: ProviderInternal, Kind: KindPersonal})
	c2 := mustCalendar(t, tenant, CalendarSpec{Name: "C2", Provider: ProviderInternal, Kind: KindPersonal})

	primary := c1.ID()
	bundle, err := NewBundleCalendar(tenant, "Pool", []*Calendar{c1, c2}, &primary)
	require.NoError(t, err)

	assert.True(t, bundle.IsBundle())
	assert.Equal(t, []uuid.UUID{c1.ID(), c2.ID()}, bundle.ChildIDs())
	require.NotNil(t, bundle.PrimaryChildID())
	assert.Equal(t, c1.ID(), *bundle.PrimaryChildID())
}

func TestNewBundleCalendar_Invariants(t *testing.T) {
	tenant := testTenant()
	other := testTenant()
	c1 := mustCalendar(t, tenant, CalendarSpec{Name: "C1", Provider: ProviderInternal, Kind: KindPersonal})
	foreign := mustCalendar(t, other, CalendarSpec{Name: "F", Provider: ProviderInternal, Kind: KindPersonal})

	_, err := NewBundleCalendar(tenant, "Pool", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBundle)

	_, err = NewBundleCalendar(tenant, "Pool", []*Calendar{c1, foreign}, nil)
	assert.ErrorIs(t, err, ErrTenantViolation)

	stranger := uuid.New()
	_, err = NewBundleCalendar(tenant, "Pool", []*Calendar{c1}, &stranger)
	assert.ErrorIs(t, err, ErrPrimaryNotChild)

	inner, err := NewBundleCalendar(tenant, "Inner", []*Calendar{c1}, nil)
	require.NoError(t, err)
	_, err = NewBundleCalendar(tenant, "Outer", []*Calendar{inner}, nil)
	assert.ErrorIs(t, err, ErrBundleChildIsBundle)
}

func TestCalendarSync_StateMachine(t *testing.T) {
	tenant := testTenant()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	window, err := NewTimeInterval(now, now.Add(24*time.Hour), "UTC")
	require.NoError(t, err)

	sync, err := NewCalendarSync(tenant, uuid.New(), window, true)
	require.NoError(t, err)
	assert.Equal(t, SyncNotStarted, sync.Status())

	require.NoError(t, sync.Start(now))
	assert.Equal(t, SyncInProgress, sync.Status())

	// Double start is rejected.
	assert.ErrorIs(t, sync.Start(now), ErrInvalidSyncTransition)

	require.NoError(t, sync.Complete(now.Add(time.Minute), "token-1"))
	assert.Equal(t, SyncSuccess, sync.Status())
	assert.Equal(t, "token-1", sync.NextSyncToken())
	assert.True(t, sync.IsTerminal())

	// Terminal states cannot fail.
	assert.ErrorIs(t, sync.Fail(now, assert.AnError), ErrInvalidSyncTransition)
}

func TestCalendarSync_Fail(t *testing.T) {
	tenant := testTenant()
	now := time.Now().UTC()
	window, err := NewTimeInterval(now, now.Add(time.Hour), "UTC")
	require.NoError(t, err)

	sync, err := NewCalendarSync(tenant, uuid.New(), window, false)
	require.NoError(t, err)
	require.NoError(t, sync.Start(now))
	require.NoError(t, sync.Fail(now, assert.AnError))

	assert.Equal(t, SyncFailed, sync.Status())
	assert.Equal(t, assert.AnError.Error(), sync.ErrorMessage())
}

func TestTimeInterval(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	_, err := NewTimeInterval(end, start, "UTC")
	assert.ErrorIs(t, err, ErrIntervalInverted)

	_, err = NewTimeInterval(start, end, "Not/AZone")
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	iv, err := NewTimeInterval(start, end, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, iv.Duration())
	assert.Equal(t, "America/New_York", iv.Timezone())
	assert.Equal(t, 5, iv.StartLocal().Hour()) // March 10 2025 is EDT (UTC-4)

	other, err := NewTimeInterval(start.Add(30*time.Minute), end.Add(time.Hour), "UTC")
	require.NoError(t, err)
	assert.True(t, iv.Overlaps(other))

	touching, err := NewTimeInterval(end, end.Add(time.Hour), "UTC")
	require.NoError(t, err)
	assert.False(t, iv.Overlaps(touching))
	assert.True(t, iv.Within(start, end))
}

func TestCalendarEvent_LinkParent(t *testing.T) {
	tenant := testTenant()
	calID := uuid.New()
	iv, err := NewTimeInterval(time.Now().UTC(), time.Now().UTC().Add(time.Hour), "UTC")
	require.NoError(t, err)

	ruleID := uuid.New()
	master, err := NewCalendarEvent(tenant, CalendarEventSpec{
		CalendarID: calID, Title: "Standup", Interval: iv, RecurrenceRuleID: &ruleID,
	})
	require.NoError(t, err)

	plain, err := NewCalendarEvent(tenant, CalendarEventSpec{CalendarID: calID, Title: "One-off", Interval: iv})
	require.NoError(t, err)

	instance, err := NewCalendarEvent(tenant, CalendarEventSpec{CalendarID: calID, Title: "Standup", Interval: iv})
	require.NoError(t, err)

	// I1: parent must be recurring.
	assert.ErrorIs(t, instance.LinkParent(plain, iv.Start()), ErrParentNotRecurring)

	require.NoError(t, instance.LinkParent(master, iv.Start()))
	assert.True(t, instance.IsInstance())
	assert.True(t, instance.IsRecurringException())
	require.NotNil(t, instance.RecurrenceID())
	assert.Equal(t, iv.Start(), *instance.RecurrenceID())

	// I1: tenants must match.
	foreign, err := NewCalendarEvent(testTenant(), CalendarEventSpec{CalendarID: calID, Title: "X", Interval: iv})
	require.NoError(t, err)
	assert.ErrorIs(t, foreign.LinkParent(master, iv.Start()), ErrTenantViolation)
}

func TestWebhookSubscription_Lifecycle(t *testing.T) {
	tenant := testTenant()
	now := time.Now().UTC()

	sub, err := NewWebhookSubscription(tenant, WebhookSubscriptionSpec{
		CalendarID:             uuid.New(),
		Provider:               ProviderGoogle,
		ExternalSubscriptionID: "chan-1",
		CallbackURL:            "https://example.com/webhooks/google-calendar/t1/",
		ChannelID:              "channel-uuid",
		ExpiresAt:              now.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.True(t, sub.IsActive(now))
	assert.False(t, sub.IsActive(now.Add(2*time.Hour)))
	assert.True(t, sub.ExpiresWithin(now, 2*time.Hour))
	assert.False(t, sub.ExpiresWithin(now, 10*time.Minute))

	require.NoError(t, sub.Renew("chan-2", "", "", now.Add(48*time.Hour)))
	assert.Equal(t, "chan-2", sub.ExternalSubscriptionID())
	assert.True(t, sub.IsActive(now.Add(24*time.Hour)))

	sub.Deactivate()
	assert.False(t, sub.IsActive(now))
}

func TestWebhookEvent_Transitions(t *testing.T) {
	tenant := testTenant()
	now := time.Now().UTC()

	event, err := NewWebhookEvent(tenant, ProviderGoogle, "exists", "cal-1", []byte(`{}`), map[string]string{"X-Goog-Resource-State": "exists"})
	require.NoError(t, err)
	assert.Equal(t, WebhookPending, event.ProcessingStatus())

	syncID := uuid.New()
	event.MarkProcessed(now, &syncID)
	assert.Equal(t, WebhookProcessed, event.ProcessingStatus())
	require.NotNil(t, event.CalendarSyncID())
	assert.Equal(t, syncID, *event.CalendarSyncID())
	require.NotNil(t, event.ProcessedAt())

	failed, err := NewWebhookEvent(tenant, ProviderMicrosoft, "notification", "cal-2", nil, nil)
	require.NoError(t, err)
	failed.MarkFailed(now, assert.AnError)
	assert.Equal(t, WebhookFailed, failed.ProcessingStatus())
	assert.Equal(t, assert.AnError.Error(), failed.ErrorMessage())
}
