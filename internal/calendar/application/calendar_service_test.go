package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/availability"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/recurrence"
)

type serviceFixture struct {
	*syncFixture
	queue    *recordingQueue
	calendars *CalendarService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	base := newSyncFixture(t)
	queue := &recordingQueue{}
	engine := availability.NewEngine(base.store, recurrence.NewEngine(), nil)
	calendars := NewCalendarService(base.store, fakeFactory{adapter: base.adapter}, engine, base.service, queue, base.clock, nil)
	return &serviceFixture{syncFixture: base, queue: queue, calendars: calendars}
}

func (f *serviceFixture) internalCalendar(t *testing.T, name string) *domain.Calendar {
	t.Helper()
	calendar, err := f.calendars.CreateVirtualCalendar(context.Background(), f.tenant, name, "", false)
	require.NoError(t, err)
	return calendar
}

func TestCreateEvent_OnInternalCalendar(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Team")
	start := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	event, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID:  calendar.ID(),
		Title:       "Planning",
		Start:       start,
		End:         start.Add(time.Hour),
		Timezone:    "UTC",
		ExternalAttendees: []ExternalAttendeeInput{{Email: "guest@example.com", Name: "Guest"}},
	})
	require.NoError(t, err)
	assert.Empty(t, event.ExternalID(), "internal events are not pushed to a provider")

	attendances, err := f.store.Attendances().FindExternalAttendancesByEvent(ctx, f.tenant, event.ID())
	require.NoError(t, err)
	assert.Len(t, attendances, 1)
	assert.Empty(t, f.adapter.created)
}

func TestCreateEvent_RejectedWhenSlotBusy(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Team")
	start := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	_, err := f.calendars.BulkCreateBlockedTimes(ctx, f.tenant, calendar.ID(), []BlockedTimeInput{
		{Start: start, End: start.Add(2 * time.Hour), Timezone: "UTC", Reason: "maintenance"},
	})
	require.NoError(t, err)

	_, err = f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID: calendar.ID(),
		Title:      "Doomed",
		Start:      start.Add(30 * time.Minute),
		End:        start.Add(90 * time.Minute),
		Timezone:   "UTC",
	})
	assert.ErrorIs(t, err, domain.ErrNoAvailableTimeWindow)
}

func TestCreateEvent_OnExternalCalendarPushesFirst(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

	event, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID: f.calendar.ID(), // google calendar from the fixture
		Title:      "Push me",
		Start:      start,
		End:        start.Add(time.Hour),
		Timezone:   "UTC",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ExternalID())
	require.Len(t, f.adapter.created, 1)
	assert.Equal(t, "Push me", f.adapter.created[0].Title)
}

func TestCreateEvent_OnBundlePicksChild(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	c1 := f.internalCalendar(t, "C1")
	c2 := f.internalCalendar(t, "C2")
	primary := c1.ID()
	bundle, err := f.calendars.CreateBundleCalendar(ctx, f.tenant, "Pool", []uuid.UUID{c1.ID(), c2.ID()}, &primary)
	require.NoError(t, err)

	// The primary is blocked, so the booking lands on C2.
	start := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	_, err = f.calendars.BulkCreateBlockedTimes(ctx, f.tenant, c1.ID(), []BlockedTimeInput{
		{Start: start, End: start.Add(2 * time.Hour), Timezone: "UTC", Reason: "busy"},
	})
	require.NoError(t, err)

	event, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID: bundle.ID(),
		Title:      "Pool booking",
		Start:      start.Add(30 * time.Minute),
		End:        start.Add(time.Hour),
		Timezone:   "UTC",
	})
	require.NoError(t, err)
	assert.Equal(t, c2.ID(), event.CalendarID())
}

func TestCreateRecurringException_CancellationDropsOccurrence(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Recurring")
	start := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	master, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID:     calendar.ID(),
		Title:          "Standup",
		Start:          start,
		End:            start.Add(30 * time.Minute),
		Timezone:       "UTC",
		RecurrenceRule: "FREQ=DAILY;COUNT=5",
	})
	require.NoError(t, err)

	occurrence := start.AddDate(0, 0, 2)
	exception, err := f.calendars.CreateRecurringException(ctx, f.tenant, master.ID(), occurrence, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.EventCancelled, exception.Status())
	require.NotNil(t, exception.RecurrenceID())
	assert.True(t, exception.RecurrenceID().Equal(occurrence))

	// Expansion drops the cancelled occurrence.
	windows, err := f.calendars.UnavailableWindows(ctx, f.tenant, calendar.ID(), start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, windows, 4)
}

func TestCreateBulkContinuation_ForksSeries(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Forked")
	start := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	master, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID:     calendar.ID(),
		Title:          "Daily",
		Start:          start,
		End:            start.Add(time.Hour),
		Timezone:       "UTC",
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
	})
	require.NoError(t, err)

	continuation, err := f.calendars.CreateBulkContinuation(ctx, f.tenant, master.ID(), start.AddDate(0, 0, 5), "FREQ=DAILY;COUNT=3")
	require.NoError(t, err)
	require.NotNil(t, continuation.BulkModificationParentID())
	assert.Equal(t, master.ID(), *continuation.BulkModificationParentID())

	// D..D+4 from the master plus D+5..D+7 from the continuation.
	windows, err := f.calendars.UnavailableWindows(ctx, f.tenant, calendar.ID(), start, start.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, windows, 8)
	assert.True(t, windows[0].Start.Equal(start))
	assert.True(t, windows[7].Start.Equal(start.AddDate(0, 0, 7)))
}

func TestCreateBulkContinuation_NilRuleCancelsTail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Truncated")
	start := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	master, err := f.calendars.CreateEvent(ctx, f.tenant, CreateEventInput{
		CalendarID:     calendar.ID(),
		Title:          "Daily",
		Start:          start,
		End:            start.Add(time.Hour),
		Timezone:       "UTC",
		RecurrenceRule: "FREQ=DAILY;COUNT=10",
	})
	require.NoError(t, err)

	_, err = f.calendars.CreateBulkContinuation(ctx, f.tenant, master.ID(), start.AddDate(0, 0, 3), "")
	require.NoError(t, err)

	windows, err := f.calendars.UnavailableWindows(ctx, f.tenant, calendar.ID(), start, start.AddDate(0, 0, 15))
	require.NoError(t, err)
	assert.Len(t, windows, 3)
}

func TestBulkCreateAvailableTimes_RequiresManagedCalendar(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Unmanaged")
	start := time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)

	_, err := f.calendars.BulkCreateAvailableTimes(ctx, f.tenant, calendar.ID(), []AvailableTimeInput{
		{Start: start, End: start.Add(time.Hour), Timezone: "UTC"},
	})
	assert.ErrorIs(t, err, domain.ErrWindowsNotManaged)
}

func TestRequestCalendarSync_Enqueues(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	sync, err := f.calendars.RequestCalendarSync(ctx, f.tenant, f.calendar.ID(), now.AddDate(0, 0, -1), now.AddDate(0, 0, 30), true)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncNotStarted, sync.Status())

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, JobSyncCalendar, f.queue.jobs[0].Kind)
	assert.Equal(t, sync.ID(), f.queue.jobs[0].EntityID)
}

func TestTenantIsolation_AcrossServiceCalls(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	calendar := f.internalCalendar(t, "Mine")

	otherTenant := mustTenant(t)
	require.NoError(t, f.store.Tenants().Create(ctx, otherTenant))

	_, err := f.calendars.AvailableWindows(ctx, otherTenant, calendar.ID(), time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func mustTenant(t *testing.T) domain.TenantID {
	t.Helper()
	tenant, err := domain.NewTenantID(uuid.New())
	require.NoError(t, err)
	return tenant
}
