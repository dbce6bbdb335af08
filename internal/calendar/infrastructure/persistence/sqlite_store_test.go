package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"

	_ "modernc.org/sqlite"
)

// setupCalendarTestDB opens an in-memory database with the full schema.
func setupCalendarTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, EnsureSQLiteSchema(context.Background(), db))
	return db
}

func setupStore(t *testing.T) (*SQLiteStore, domain.TenantID) {
	t.Helper()
	db := setupCalendarTestDB(t)
	t.Cleanup(func() { _ = db.Close() })
	store := NewSQLiteStore(db)

	tenant := shared.MustTenantID(uuid.New())
	require.NoError(t, store.Tenants().Create(context.Background(), tenant))
	return store, tenant
}

func seedCalendar(t *testing.T, store *SQLiteStore, tenant domain.TenantID, spec domain.CalendarSpec) *domain.Calendar {
	t.Helper()
	calendar, err := domain.NewCalendar(tenant, spec)
	require.NoError(t, err)
	require.NoError(t, store.Calendars().Save(context.Background(), calendar))
	return calendar
}

func testInterval(t *testing.T, start time.Time, d time.Duration) domain.TimeInterval {
	t.Helper()
	interval, err := domain.NewTimeInterval(start, start.Add(d), "UTC")
	require.NoError(t, err)
	return interval
}

func TestSQLiteCalendarRepo_SaveAndFind(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name:       "Primary",
		Provider:   domain.ProviderGoogle,
		Kind:       domain.KindPersonal,
		ExternalID: "primary@example.com",
	})

	found, err := store.Calendars().FindByID(ctx, tenant, calendar.ID())
	require.NoError(t, err)
	assert.Equal(t, calendar.ID(), found.ID())
	assert.Equal(t, "Primary", found.Name())
	assert.Equal(t, domain.ProviderGoogle, found.Provider())

	byExternal, err := store.Calendars().FindByExternalID(ctx, tenant, domain.ProviderGoogle, "primary@example.com")
	require.NoError(t, err)
	assert.Equal(t, calendar.ID(), byExternal.ID())
}

func TestSQLiteCalendarRepo_TenantIsolation(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	otherTenant := shared.MustTenantID(uuid.New())
	require.NoError(t, store.Tenants().Create(ctx, otherTenant))

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Mine", Provider: domain.ProviderInternal, Kind: domain.KindPersonal,
	})

	// The other tenant cannot see it by id.
	_, err := store.Calendars().FindByID(ctx, otherTenant, calendar.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteCalendarRepo_OptimisticLock(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Busy", Provider: domain.ProviderInternal, Kind: domain.KindPersonal,
	})

	stale, err := store.Calendars().FindByID(ctx, tenant, calendar.ID())
	require.NoError(t, err)

	require.NoError(t, calendar.Rename("Renamed"))
	require.NoError(t, store.Calendars().Save(ctx, calendar))

	require.NoError(t, stale.Rename("Conflicting"))
	assert.ErrorIs(t, store.Calendars().Save(ctx, stale), shared.ErrConcurrentModification)
}

func TestSQLiteCalendarRepo_BundleChildren(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	c1 := seedCalendar(t, store, tenant, domain.CalendarSpec{Name: "C1", Provider: domain.ProviderInternal, Kind: domain.KindPersonal})
	c2 := seedCalendar(t, store, tenant, domain.CalendarSpec{Name: "C2", Provider: domain.ProviderInternal, Kind: domain.KindPersonal})

	primary := c1.ID()
	bundle, err := domain.NewBundleCalendar(tenant, "Pool", []*domain.Calendar{c1, c2}, &primary)
	require.NoError(t, err)
	require.NoError(t, store.Calendars().Save(ctx, bundle))

	found, err := store.Calendars().FindByID(ctx, tenant, bundle.ID())
	require.NoError(t, err)
	assert.True(t, found.IsBundle())
	assert.Equal(t, []uuid.UUID{c1.ID(), c2.ID()}, found.ChildIDs())

	children, err := store.Calendars().FindChildren(ctx, tenant, bundle.ID())
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "C1", children[0].Name())
}

func TestSQLiteEventRepo_RoundTrip(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Cal", Provider: domain.ProviderGoogle, Kind: domain.KindPersonal, ExternalID: "cal-1",
	})

	start := time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC)
	event, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
		CalendarID: calendar.ID(),
		Title:      "Kickoff",
		Interval:   testInterval(t, start, time.Hour),
		ExternalID: "E1",
		Meta:       domain.Meta{"latest_original_payload": map[string]any{"id": "E1"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Events().Save(ctx, event))

	found, err := store.Events().FindByExternalID(ctx, tenant, "E1")
	require.NoError(t, err)
	assert.Equal(t, event.ID(), found.ID())
	assert.Equal(t, "Kickoff", found.Title())
	assert.True(t, found.Interval().Start().Equal(start))
	assert.Equal(t, domain.EventConfirmed, found.Status())

	contained, err := store.Events().FindContainedIn(ctx, tenant, calendar.ID(), start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, contained, 1)

	require.NoError(t, store.Events().DeleteByExternalIDs(ctx, tenant, calendar.ID(), []string{"E1"}))
	_, err = store.Events().FindByExternalID(ctx, tenant, "E1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteBlockedRepo_PendingParent(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Cal", Provider: domain.ProviderGoogle, Kind: domain.KindPersonal, ExternalID: "cal-1",
	})

	start := time.Now().UTC().Truncate(time.Second)
	block, err := domain.NewBlockedTime(tenant, domain.BlockedTimeSpec{
		CalendarID: calendar.ID(),
		Interval:   testInterval(t, start, time.Hour),
		Reason:     "Instance",
		ExternalID: "I1",
	})
	require.NoError(t, err)
	block.MarkPendingParent("M1")
	require.NoError(t, store.BlockedTimes().Save(ctx, block))

	orphans, err := store.BlockedTimes().FindPendingParent(ctx, tenant, calendar.ID())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	pending, ok := orphans[0].Meta().PendingParentExternalID()
	require.True(t, ok)
	assert.Equal(t, "M1", pending)

	orphans[0].ClearPendingParent()
	require.NoError(t, store.BlockedTimes().Save(ctx, orphans[0]))

	cleared, err := store.BlockedTimes().FindPendingParent(ctx, tenant, calendar.ID())
	require.NoError(t, err)
	assert.Empty(t, cleared)
}

func TestSQLiteSyncRepo_Lifecycle(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Cal", Provider: domain.ProviderGoogle, Kind: domain.KindPersonal, ExternalID: "cal-1",
	})

	now := time.Now().UTC().Truncate(time.Second)
	sync, err := domain.NewCalendarSync(tenant, calendar.ID(), testInterval(t, now, 24*time.Hour), true)
	require.NoError(t, err)
	require.NoError(t, store.Syncs().Save(ctx, sync))

	require.NoError(t, sync.Start(now))
	require.NoError(t, store.Syncs().Save(ctx, sync))

	running, err := store.Syncs().FindInProgress(ctx, tenant, calendar.ID())
	require.NoError(t, err)
	assert.Equal(t, sync.ID(), running.ID())

	require.NoError(t, sync.Complete(now.Add(time.Minute), "token-1"))
	require.NoError(t, store.Syncs().Save(ctx, sync))

	latest, err := store.Syncs().FindLatestSuccessful(ctx, tenant, calendar.ID())
	require.NoError(t, err)
	assert.Equal(t, "token-1", latest.NextSyncToken())

	// Recent success coalesces; an old window does not.
	candidate, err := store.Syncs().FindCoalesceCandidate(ctx, tenant, calendar.ID(), now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, sync.ID(), candidate.ID())

	_, err = store.Syncs().FindCoalesceCandidate(ctx, tenant, calendar.ID(), now.Add(10*time.Minute))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteWebhookRepo_Subscriptions(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Cal", Provider: domain.ProviderMicrosoft, Kind: domain.KindPersonal, ExternalID: "cal-ms",
	})

	now := time.Now().UTC().Truncate(time.Second)
	sub, err := domain.NewWebhookSubscription(tenant, domain.WebhookSubscriptionSpec{
		CalendarID:             calendar.ID(),
		Provider:               domain.ProviderMicrosoft,
		ExternalSubscriptionID: "sub-1",
		CallbackURL:            "https://example.com/webhooks/microsoft-calendar/t/",
		ExpiresAt:              now.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, store.Webhooks().SaveSubscription(ctx, sub))

	found, err := store.Webhooks().FindSubscriptionByExternalID(ctx, tenant, domain.ProviderMicrosoft, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID(), found.ID())

	expiring, err := store.Webhooks().FindSubscriptionsExpiringBefore(ctx, tenant, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expiring, 1)

	none, err := store.Webhooks().FindSubscriptionsExpiringBefore(ctx, tenant, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteWebhookRepo_Events(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	event, err := domain.NewWebhookEvent(tenant, domain.ProviderGoogle, "exists", "cal-1",
		[]byte(`{"kind":"push"}`), map[string]string{"X-Goog-Resource-State": "exists"})
	require.NoError(t, err)
	require.NoError(t, store.Webhooks().SaveEvent(ctx, event))

	pending, err := store.Webhooks().FindEventsByStatus(ctx, tenant, domain.WebhookPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	syncID := uuid.New()
	event.MarkProcessed(time.Now().UTC(), &syncID)
	require.NoError(t, store.Webhooks().SaveEvent(ctx, event))

	found, err := store.Webhooks().FindEventByID(ctx, tenant, event.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookProcessed, found.ProcessingStatus())
	require.NotNil(t, found.CalendarSyncID())
	assert.Equal(t, syncID, *found.CalendarSyncID())
	assert.Equal(t, "exists", found.Headers()["X-Goog-Resource-State"])
}

func TestSQLiteRuleRepo_RoundTrip(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	rule, err := domain.ParseRecurrenceRule(tenant, "FREQ=WEEKLY;INTERVAL=2;COUNT=4;BYDAY=MO,WE")
	require.NoError(t, err)
	require.NoError(t, store.RecurrenceRules().Save(ctx, rule))

	found, err := store.RecurrenceRules().FindByID(ctx, tenant, rule.ID())
	require.NoError(t, err)
	assert.Equal(t, rule.RRuleString(), found.RRuleString())

	byIDs, err := store.RecurrenceRules().FindByIDs(ctx, tenant, []uuid.UUID{rule.ID()})
	require.NoError(t, err)
	require.Contains(t, byIDs, rule.ID())
}

func TestSQLiteStore_WithinTxRollsBack(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	calendar := seedCalendar(t, store, tenant, domain.CalendarSpec{
		Name: "Cal", Provider: domain.ProviderInternal, Kind: domain.KindPersonal,
	})

	start := time.Now().UTC()
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		event, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
			CalendarID: calendar.ID(),
			Title:      "Doomed",
			Interval:   testInterval(t, start, time.Hour),
		})
		if err != nil {
			return err
		}
		if err := tx.Events().Save(ctx, event); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	events, err := store.Events().FindContainedIn(ctx, tenant, calendar.ID(), start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events, "rolled-back event must not persist")
}

func TestSQLiteAttendanceRepo_ExternalAttendees(t *testing.T) {
	store, tenant := setupStore(t)
	ctx := context.Background()

	attendee, err := store.Attendances().FindOrCreateExternalAttendee(ctx, tenant, "Guest@Example.com", "Guest")
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", attendee.Email())

	again, err := store.Attendances().FindOrCreateExternalAttendee(ctx, tenant, "guest@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, attendee.ID(), again.ID())

	eventID := uuid.New()
	attendance, err := domain.NewEventExternalAttendance(tenant, eventID, attendee, domain.RSVPAccepted)
	require.NoError(t, err)
	require.NoError(t, store.Attendances().SaveExternalAttendances(ctx, []*domain.EventExternalAttendance{attendance}))

	exists, err := store.Attendances().ExternalAttendanceExists(ctx, tenant, eventID, attendee.ID())
	require.NoError(t, err)
	assert.True(t, exists)
}
