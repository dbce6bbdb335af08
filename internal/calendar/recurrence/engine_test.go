package recurrence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

func testTenant() domain.TenantID {
	return shared.MustTenantID(uuid.New())
}

func mustRule(t *testing.T, rrule string) *domain.RecurrenceRule {
	t.Helper()
	rule, err := domain.ParseRecurrenceRule(testTenant(), rrule)
	require.NoError(t, err)
	return rule
}

func mustInterval(t *testing.T, start time.Time, d time.Duration, tz string) domain.TimeInterval {
	t.Helper()
	iv, err := domain.NewTimeInterval(start, start.Add(d), tz)
	require.NoError(t, err)
	return iv
}

func TestExpand_DailyCount(t *testing.T) {
	engine := NewEngine()
	anchor := mustInterval(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), time.Hour, "UTC")
	rule := mustRule(t, "FREQ=DAILY;COUNT=5")

	occs, err := engine.Expand(rule, anchor, anchor.Start(), anchor.Start().AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, occs, 5)

	for i, occ := range occs {
		expected := anchor.Start().AddDate(0, 0, i)
		assert.True(t, occ.Start.Equal(expected), "occurrence %d: got %s want %s", i, occ.Start, expected)
		assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
		assert.True(t, occ.RecurrenceID.Equal(occ.Start))
	}
}

func TestExpand_Deterministic(t *testing.T) {
	engine := NewEngine()
	anchor := mustInterval(t, time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC), 30*time.Minute, "UTC")
	rule := mustRule(t, "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,TH;COUNT=8")
	windowEnd := anchor.Start().AddDate(0, 6, 0)

	first, err := engine.Expand(rule, anchor, anchor.Start(), windowEnd)
	require.NoError(t, err)
	second, err := engine.Expand(rule, anchor, anchor.Start(), windowEnd)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExpand_WallClockAcrossDST(t *testing.T) {
	engine := NewEngine()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Daily 09:00 New York, spanning the 2025-03-09 spring-forward.
	start := time.Date(2025, 3, 7, 9, 0, 0, 0, loc)
	anchor := mustInterval(t, start, time.Hour, "America/New_York")
	rule := mustRule(t, "FREQ=DAILY;COUNT=5")

	occs, err := engine.Expand(rule, anchor, start.UTC(), start.UTC().AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, occs, 5)

	for _, occ := range occs {
		assert.Equal(t, 9, occ.Start.In(loc).Hour(), "occurrence at %s should stay 09:00 local", occ.Start)
	}
	// The UTC hour shifts by one across the transition.
	assert.Equal(t, 14, occs[0].Start.UTC().Hour())
	assert.Equal(t, 13, occs[4].Start.UTC().Hour())
}

func TestExpand_WindowClipsAndKeepsOverlapping(t *testing.T) {
	engine := NewEngine()
	anchor := mustInterval(t, time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC), 2*time.Hour, "UTC")
	rule := mustRule(t, "FREQ=DAILY;COUNT=3")

	// Window starts at midnight on June 2: the June 1 23:00-01:00 occurrence
	// overlaps and must be included.
	windowStart := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	occs, err := engine.Expand(rule, anchor, windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, occs, 2)
	assert.True(t, occs[0].Start.Equal(anchor.Start()))
}

func TestExpand_TooBroad(t *testing.T) {
	engine := NewEngineWithCap(10)
	anchor := mustInterval(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, "UTC")
	rule := mustRule(t, "FREQ=DAILY")

	_, err := engine.Expand(rule, anchor, anchor.Start(), anchor.Start().AddDate(1, 0, 0))
	assert.ErrorIs(t, err, domain.ErrRecurrenceTooBroad)
}

func TestApplyExceptions(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	occs := []Occurrence{
		{Start: base, End: base.Add(time.Hour), RecurrenceID: base},
		{Start: base.AddDate(0, 0, 1), End: base.AddDate(0, 0, 1).Add(time.Hour), RecurrenceID: base.AddDate(0, 0, 1)},
		{Start: base.AddDate(0, 0, 2), End: base.AddDate(0, 0, 2).Add(time.Hour), RecurrenceID: base.AddDate(0, 0, 2)},
	}

	moved := base.AddDate(0, 0, 1).Add(3 * time.Hour)
	result := ApplyExceptions(occs, []Exception{
		{RecurrenceID: base, Cancelled: true},
		{RecurrenceID: base.AddDate(0, 0, 1), Replacement: &Occurrence{Start: moved, End: moved.Add(time.Hour)}},
		// Unmatched exceptions are ignored.
		{RecurrenceID: base.AddDate(0, 0, 9), Cancelled: true},
	})

	require.Len(t, result, 2)
	assert.True(t, result[0].Start.Equal(moved))
	assert.True(t, result[0].IsException)
	// RecurrenceID stays on the original occurrence slot.
	assert.True(t, result[0].RecurrenceID.Equal(base.AddDate(0, 0, 1)))
	assert.True(t, result[1].Start.Equal(base.AddDate(0, 0, 2)))
}

func TestExpandSeries_BulkContinuation(t *testing.T) {
	engine := NewEngine()
	day := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	master := &Series{
		MasterID: uuid.New(),
		Anchor:   mustInterval(t, day, time.Hour, "UTC"),
		Rule:     mustRule(t, "FREQ=DAILY;COUNT=10"),
	}
	continuation := &Series{
		MasterID: uuid.New(),
		Anchor:   mustInterval(t, day.AddDate(0, 0, 5), time.Hour, "UTC"),
		Rule:     mustRule(t, "FREQ=DAILY;COUNT=3"),
	}
	master.Continuations = []*Series{continuation}

	occs, err := engine.ExpandSeries(master, day, day.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, occs, 8)

	// D..D+4 from the master, D+5..D+7 from the continuation, no duplicates.
	for i := 0; i < 5; i++ {
		assert.True(t, occs[i].Start.Equal(day.AddDate(0, 0, i)))
		assert.Equal(t, master.MasterID, occs[i].SourceID)
	}
	for i := 5; i < 8; i++ {
		assert.True(t, occs[i].Start.Equal(day.AddDate(0, 0, i)))
		assert.Equal(t, continuation.MasterID, occs[i].SourceID)
	}
}

func TestExpandSeries_BulkCancel(t *testing.T) {
	engine := NewEngine()
	day := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	master := &Series{
		MasterID: uuid.New(),
		Anchor:   mustInterval(t, day, time.Hour, "UTC"),
		Rule:     mustRule(t, "FREQ=DAILY;COUNT=10"),
		Continuations: []*Series{{
			MasterID: uuid.New(),
			Anchor:   mustInterval(t, day.AddDate(0, 0, 3), time.Hour, "UTC"),
			Rule:     nil, // bulk cancel from D+3 onward
		}},
	}

	occs, err := engine.ExpandSeries(master, day, day.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, occs, 3)
	assert.True(t, occs[2].Start.Equal(day.AddDate(0, 0, 2)))
}

func TestExpandSeries_ChainedContinuations(t *testing.T) {
	engine := NewEngine()
	day := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	second := &Series{
		MasterID: uuid.New(),
		Anchor:   mustInterval(t, day.AddDate(0, 0, 7), 30*time.Minute, "UTC"),
		Rule:     mustRule(t, "FREQ=DAILY;COUNT=2"),
	}
	first := &Series{
		MasterID:      uuid.New(),
		Anchor:        mustInterval(t, day.AddDate(0, 0, 4), time.Hour, "UTC"),
		Rule:          mustRule(t, "FREQ=DAILY;COUNT=10"),
		Continuations: []*Series{second},
	}
	master := &Series{
		MasterID:      uuid.New(),
		Anchor:        mustInterval(t, day, time.Hour, "UTC"),
		Rule:          mustRule(t, "FREQ=DAILY;COUNT=10"),
		Continuations: []*Series{first},
	}

	occs, err := engine.ExpandSeries(master, day, day.AddDate(0, 0, 20))
	require.NoError(t, err)

	// Master D..D+3, first continuation D+4..D+6, second D+7..D+8.
	require.Len(t, occs, 9)
	assert.Equal(t, master.MasterID, occs[0].SourceID)
	assert.Equal(t, first.MasterID, occs[4].SourceID)
	assert.Equal(t, second.MasterID, occs[7].SourceID)
	assert.Equal(t, 30*time.Minute, occs[8].End.Sub(occs[8].Start))
}

func TestExpandSeries_NonRecurringAnchor(t *testing.T) {
	engine := NewEngine()
	day := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	series := &Series{
		MasterID: uuid.New(),
		Anchor:   mustInterval(t, day, time.Hour, "UTC"),
	}

	occs, err := engine.ExpandSeries(series, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, occs, 1)

	outside, err := engine.ExpandSeries(series, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Empty(t, outside)
}
