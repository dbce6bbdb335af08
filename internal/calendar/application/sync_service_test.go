package application

import (
	"context"
	"database/sql"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/persistence"
	shared "github.com/meridianhq/meridian/internal/shared/domain"

	_ "modernc.org/sqlite"
)

// fakeAdapter serves canned provider state for sync tests.
type fakeAdapter struct {
	provider      domain.CalendarProvider
	records       []EventRecord
	nextSyncToken string
	streamErrs    []error

	created []EventInput
	updated []EventInput
	deleted []string
	events  map[string]EventRecord
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		provider: domain.ProviderGoogle,
		events:   make(map[string]EventRecord),
	}
}

func (f *fakeAdapter) Provider() domain.CalendarProvider { return f.provider }

func (f *fakeAdapter) ListAccountCalendars(context.Context) ([]CalendarDescriptor, error) {
	return nil, nil
}

func (f *fakeAdapter) CreateCalendar(_ context.Context, name string) (CalendarDescriptor, error) {
	return CalendarDescriptor{ExternalID: uuid.NewString(), Name: name}, nil
}

func (f *fakeAdapter) CreateEvent(_ context.Context, _ string, input EventInput) (EventRecord, error) {
	f.created = append(f.created, input)
	record := EventRecord{
		ExternalID: uuid.NewString(),
		Title:      input.Title,
		Start:      input.Start,
		End:        input.End,
		Timezone:   input.Timezone,
		Status:     domain.EventConfirmed,
	}
	f.events[record.ExternalID] = record
	return record, nil
}

func (f *fakeAdapter) UpdateEvent(_ context.Context, _ string, externalEventID string, input EventInput) (EventRecord, error) {
	f.updated = append(f.updated, input)
	record := EventRecord{
		ExternalID: externalEventID,
		Title:      input.Title,
		Start:      input.Start,
		End:        input.End,
		Timezone:   input.Timezone,
		Status:     domain.EventConfirmed,
	}
	f.events[externalEventID] = record
	return record, nil
}

func (f *fakeAdapter) DeleteEvent(_ context.Context, _, externalEventID string) error {
	f.deleted = append(f.deleted, externalEventID)
	delete(f.events, externalEventID)
	return nil
}

func (f *fakeAdapter) GetEvent(_ context.Context, _, externalEventID string) (EventRecord, error) {
	record, ok := f.events[externalEventID]
	if !ok {
		return EventRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (f *fakeAdapter) ListEvents(_ context.Context, _ string, _, _ time.Time, _ string) (EventStream, error) {
	return &fakeStream{records: f.records, errs: f.streamErrs, token: f.nextSyncToken}, nil
}

func (f *fakeAdapter) ListResources(context.Context) ([]CalendarDescriptor, error) { return nil, nil }

func (f *fakeAdapter) GetResource(context.Context, string) (CalendarDescriptor, error) {
	return CalendarDescriptor{}, domain.ErrNotFound
}

func (f *fakeAdapter) AvailableResources(context.Context, time.Time, time.Time) ([]CalendarDescriptor, error) {
	return nil, nil
}

func (f *fakeAdapter) CreateSubscription(_ context.Context, resourceID, callbackURL string, ttl time.Duration) (SubscriptionHandle, error) {
	return SubscriptionHandle{
		SubscriptionID: "sub-" + uuid.NewString(),
		ResourceID:     resourceID,
		ChannelID:      uuid.NewString(),
		CallbackURL:    callbackURL,
		ExpiresAt:      time.Now().Add(ttl),
	}, nil
}

func (f *fakeAdapter) RenewSubscription(_ context.Context, handle SubscriptionHandle) (SubscriptionHandle, error) {
	handle.ExpiresAt = time.Now().Add(DefaultSubscriptionTTL)
	return handle, nil
}

func (f *fakeAdapter) CancelSubscription(context.Context, SubscriptionHandle) error { return nil }

func (f *fakeAdapter) ParseWebhook(http.Header, []byte) (ParsedNotification, error) {
	return ParsedNotification{}, nil
}

type fakeStream struct {
	records []EventRecord
	errs    []error
	index   int
	token   string
}

func (s *fakeStream) Next(context.Context) (EventRecord, bool, error) {
	total := len(s.records) + len(s.errs)
	if s.index >= total {
		return EventRecord{}, false, nil
	}
	i := s.index
	s.index++
	if i < len(s.errs) {
		return EventRecord{}, true, s.errs[i]
	}
	return s.records[i-len(s.errs)], true, nil
}

func (s *fakeStream) NextSyncToken() string { return s.token }

type fakeFactory struct{ adapter CalendarAdapter }

func (f fakeFactory) AdapterFor(context.Context, domain.TenantID, domain.CalendarProvider) (CalendarAdapter, error) {
	return f.adapter, nil
}

// Shared test fixture.

type syncFixture struct {
	store    domain.Store
	tenant   domain.TenantID
	calendar *domain.Calendar
	adapter  *fakeAdapter
	service  *SyncService
	clock    FixedClock
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.EnsureSQLiteSchema(context.Background(), db))
	store := persistence.NewSQLiteStore(db)

	tenant := shared.MustTenantID(uuid.New())
	require.NoError(t, store.Tenants().Create(context.Background(), tenant))

	calendar, err := domain.NewCalendar(tenant, domain.CalendarSpec{
		Name:       "Synced",
		Provider:   domain.ProviderGoogle,
		Kind:       domain.KindPersonal,
		ExternalID: "cal-1",
	})
	require.NoError(t, err)
	require.NoError(t, store.Calendars().Save(context.Background(), calendar))

	adapter := newFakeAdapter()
	clock := FixedClock{Time: time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC)}
	service := NewSyncService(store, fakeFactory{adapter: adapter}, clock, nil)

	return &syncFixture{
		store:    store,
		tenant:   tenant,
		calendar: calendar,
		adapter:  adapter,
		service:  service,
		clock:    clock,
	}
}

func (f *syncFixture) runSync(t *testing.T, start, end time.Time) *domain.CalendarSync {
	t.Helper()
	ctx := context.Background()
	window, err := domain.NewTimeInterval(start, end, "UTC")
	require.NoError(t, err)
	sync, err := f.service.RequestSync(ctx, f.tenant, f.calendar.ID(), window, true)
	require.NoError(t, err)
	require.NoError(t, f.service.Execute(ctx, f.tenant, sync.ID()))

	done, err := f.store.Syncs().FindByID(ctx, f.tenant, sync.ID())
	require.NoError(t, err)
	return done
}

func confirmedRecord(externalID, title string, start time.Time, d time.Duration) EventRecord {
	return EventRecord{
		ExternalID: externalID,
		Title:      title,
		Start:      start,
		End:        start.Add(d),
		Timezone:   "UTC",
		Status:     domain.EventConfirmed,
	}
}

func TestSync_NewSingleEventBecomesBlockedTime(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	f.adapter.records = []EventRecord{confirmedRecord("E1", "External meeting", day.Add(10*time.Hour), time.Hour)}
	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	assert.Equal(t, domain.SyncSuccess, done.Status())

	block, err := f.store.BlockedTimes().FindByExternalID(ctx, f.tenant, "E1")
	require.NoError(t, err)
	assert.Equal(t, "External meeting", block.Reason())
	assert.Equal(t, f.calendar.ID(), block.CalendarID())

	// Provider-originated single events never become CalendarEvents.
	_, err = f.store.Events().FindByExternalID(ctx, f.tenant, "E1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSync_IncrementalCancelDeletesMirror(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	// Seed a local mirror of provider event E1 and a prior successful sync
	// so the next run is incremental.
	window, err := domain.NewTimeInterval(day, day.AddDate(0, 0, 1), "UTC")
	require.NoError(t, err)
	event, err := domain.NewCalendarEvent(f.tenant, domain.CalendarEventSpec{
		CalendarID: f.calendar.ID(),
		Title:      "Mirrored",
		Interval:   mustNewInterval(t, day.Add(9*time.Hour), time.Hour),
		ExternalID: "E1",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Events().Save(ctx, event))

	prior, err := domain.NewCalendarSync(f.tenant, f.calendar.ID(), window, true)
	require.NoError(t, err)
	require.NoError(t, prior.Start(f.clock.Now().Add(-time.Hour)))
	require.NoError(t, prior.Complete(f.clock.Now().Add(-time.Hour), "S0"))
	require.NoError(t, f.store.Syncs().Save(ctx, prior))

	f.adapter.records = []EventRecord{{ExternalID: "E1", Status: domain.EventCancelled}}
	f.adapter.nextSyncToken = "S1"

	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	assert.Equal(t, domain.SyncSuccess, done.Status())
	assert.Equal(t, "S1", done.NextSyncToken())

	_, err = f.store.Events().FindByExternalID(ctx, f.tenant, "E1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSync_RecurringInstanceBeforeMaster(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 7, 7, 0, 0, 0, 0, time.UTC)
	instanceStart := day.Add(9 * time.Hour)

	// First sync: the instance arrives before its master.
	instance := confirmedRecord("I1", "Weekly standup", instanceStart, 30*time.Minute)
	instance.RecurringEventID = "M1"
	f.adapter.records = []EventRecord{instance}

	done := f.runSync(t, day, day.AddDate(0, 0, 30))
	require.Equal(t, domain.SyncSuccess, done.Status())

	block, err := f.store.BlockedTimes().FindByExternalID(ctx, f.tenant, "I1")
	require.NoError(t, err)
	pending, ok := block.Meta().PendingParentExternalID()
	require.True(t, ok)
	assert.Equal(t, "M1", pending)

	// Second sync: the master shows up.
	master := confirmedRecord("M1", "Weekly standup", instanceStart, 30*time.Minute)
	master.RecurrenceRule = "FREQ=WEEKLY;COUNT=4"
	f.adapter.records = []EventRecord{master}

	done = f.runSync(t, day, day.AddDate(0, 0, 30))
	require.Equal(t, domain.SyncSuccess, done.Status())

	masterEvent, err := f.store.Events().FindByExternalID(ctx, f.tenant, "M1")
	require.NoError(t, err)
	assert.True(t, masterEvent.IsRecurring())

	linked, err := f.store.Events().FindByExternalID(ctx, f.tenant, "I1")
	require.NoError(t, err)
	require.NotNil(t, linked.ParentEventID())
	assert.Equal(t, masterEvent.ID(), *linked.ParentEventID())
	require.NotNil(t, linked.RecurrenceID())
	assert.True(t, linked.RecurrenceID().Equal(instanceStart))

	// The opaque mirror is gone and the pending marker with it.
	_, err = f.store.BlockedTimes().FindByExternalID(ctx, f.tenant, "I1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, ok = linked.Meta().PendingParentExternalID()
	assert.False(t, ok)
}

func TestSync_FullSyncDeletesUnmatched(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	stale, err := domain.NewCalendarEvent(f.tenant, domain.CalendarEventSpec{
		CalendarID: f.calendar.ID(),
		Title:      "Gone at provider",
		Interval:   mustNewInterval(t, day.Add(8*time.Hour), time.Hour),
		ExternalID: "STALE",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Events().Save(ctx, stale))

	f.adapter.records = []EventRecord{confirmedRecord("KEPT", "Still there", day.Add(11*time.Hour), time.Hour)}
	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	require.Equal(t, domain.SyncSuccess, done.Status())

	_, err = f.store.Events().FindByExternalID(ctx, f.tenant, "STALE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.store.BlockedTimes().FindByExternalID(ctx, f.tenant, "KEPT")
	assert.NoError(t, err)
}

func TestSync_Idempotent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	master := confirmedRecord("M1", "Series", day.Add(9*time.Hour), time.Hour)
	master.RecurrenceRule = "FREQ=DAILY;COUNT=5"
	f.adapter.records = []EventRecord{
		master,
		confirmedRecord("E1", "Single", day.Add(14*time.Hour), time.Hour),
	}

	first := f.runSync(t, day, day.AddDate(0, 0, 7))
	require.Equal(t, domain.SyncSuccess, first.Status())
	second := f.runSync(t, day, day.AddDate(0, 0, 7))
	require.Equal(t, domain.SyncSuccess, second.Status())

	events, err := f.store.Events().FindContainedIn(ctx, f.tenant, f.calendar.ID(), day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, events, 1, "master must not duplicate")

	blocks, err := f.store.BlockedTimes().FindContainedIn(ctx, f.tenant, f.calendar.ID(), day, day.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, blocks, 1, "single mirror must not duplicate")
}

func TestSync_MalformedItemSkipsAndContinues(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	f.adapter.streamErrs = []error{&domain.MalformedError{Key: "BAD", Reason: "unparseable"}}
	f.adapter.records = []EventRecord{confirmedRecord("GOOD", "Ok", day.Add(10*time.Hour), time.Hour)}

	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	assert.Equal(t, domain.SyncSuccess, done.Status())

	_, err := f.store.BlockedTimes().FindByExternalID(ctx, f.tenant, "GOOD")
	assert.NoError(t, err)
}

func TestSync_UpdatesExistingEventAndAttendees(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	event, err := domain.NewCalendarEvent(f.tenant, domain.CalendarEventSpec{
		CalendarID: f.calendar.ID(),
		Title:      "Old title",
		Interval:   mustNewInterval(t, day.Add(9*time.Hour), time.Hour),
		ExternalID: "E1",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Events().Save(ctx, event))

	updated := confirmedRecord("E1", "New title", day.Add(10*time.Hour), 2*time.Hour)
	updated.Attendees = []AttendeeRecord{{Email: "guest@example.com", Name: "Guest", Status: domain.RSVPAccepted}}
	f.adapter.records = []EventRecord{updated}

	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	require.Equal(t, domain.SyncSuccess, done.Status())

	found, err := f.store.Events().FindByExternalID(ctx, f.tenant, "E1")
	require.NoError(t, err)
	assert.Equal(t, "New title", found.Title())
	assert.True(t, found.Interval().Start().Equal(day.Add(10*time.Hour)))
	assert.Equal(t, 2*time.Hour, found.Interval().Duration())

	attendances, err := f.store.Attendances().FindExternalAttendancesByEvent(ctx, f.tenant, found.ID())
	require.NoError(t, err)
	require.Len(t, attendances, 1)
	assert.Equal(t, domain.RSVPAccepted, attendances[0].Status())
}

func TestSync_FailureRecordsMessageAndAllowsRetry(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	f.adapter.streamErrs = []error{domain.ErrProviderUnavailable}

	window, err := domain.NewTimeInterval(day, day.AddDate(0, 0, 1), "UTC")
	require.NoError(t, err)
	sync, err := f.service.RequestSync(ctx, f.tenant, f.calendar.ID(), window, true)
	require.NoError(t, err)

	err = f.service.Execute(ctx, f.tenant, sync.ID())
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	failed, err := f.store.Syncs().FindByID(ctx, f.tenant, sync.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, failed.Status())
	assert.NotEmpty(t, failed.ErrorMessage())

	// A retry of the same sync succeeds once the provider recovers.
	f.adapter.streamErrs = nil
	f.adapter.records = []EventRecord{confirmedRecord("E1", "Back", day.Add(10*time.Hour), time.Hour)}
	require.NoError(t, f.service.Execute(ctx, f.tenant, sync.ID()))

	recovered, err := f.store.Syncs().FindByID(ctx, f.tenant, sync.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSuccess, recovered.Status())
}

func TestSync_RemovesOverlappingAvailableWindows(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC)

	managed, err := domain.NewCalendar(f.tenant, domain.CalendarSpec{
		Name:                    "Managed",
		Provider:                domain.ProviderGoogle,
		Kind:                    domain.KindResource,
		ExternalID:              "cal-managed",
		ManagesAvailableWindows: true,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Calendars().Save(ctx, managed))
	f.calendar = managed

	window, err := domain.NewAvailableTime(f.tenant, managed.ID(), mustNewInterval(t, day.Add(9*time.Hour), 4*time.Hour), nil)
	require.NoError(t, err)
	keep, err := domain.NewAvailableTime(f.tenant, managed.ID(), mustNewInterval(t, day.Add(15*time.Hour), 2*time.Hour), nil)
	require.NoError(t, err)
	require.NoError(t, f.store.AvailableTimes().SaveAll(ctx, []*domain.AvailableTime{window, keep}))

	f.adapter.records = []EventRecord{confirmedRecord("B1", "Booked externally", day.Add(10*time.Hour), time.Hour)}
	done := f.runSync(t, day, day.AddDate(0, 0, 1))
	require.Equal(t, domain.SyncSuccess, done.Status())

	remaining, err := f.store.AvailableTimes().FindContainedIn(ctx, f.tenant, managed.ID(), day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID(), remaining[0].ID())
}

func mustNewInterval(t *testing.T, start time.Time, d time.Duration) domain.TimeInterval {
	t.Helper()
	interval, err := domain.NewTimeInterval(start, start.Add(d), "UTC")
	require.NoError(t, err)
	return interval
}
