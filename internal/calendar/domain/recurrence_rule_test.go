package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

func testTenant() TenantID {
	return shared.MustTenantID(uuid.New())
}

func intPtr(v int) *int { return &v }

func TestParseRecurrenceRule_Weekly(t *testing.T) {
	rule, err := ParseRecurrenceRule(testTenant(), "FREQ=WEEKLY;INTERVAL=2;COUNT=4;BYDAY=MO,WE")
	require.NoError(t, err)

	assert.Equal(t, FreqWeekly, rule.Frequency())
	assert.Equal(t, 2, rule.Interval())
	require.NotNil(t, rule.Count())
	assert.Equal(t, 4, *rule.Count())
	assert.Nil(t, rule.Until())
	assert.Equal(t, []Weekday{Monday, Wednesday}, rule.ByWeekday())
}

func TestParseRecurrenceRule_AcceptsPrefix(t *testing.T) {
	rule, err := ParseRecurrenceRule(testTenant(), "RRULE:FREQ=DAILY")
	require.NoError(t, err)
	assert.Equal(t, FreqDaily, rule.Frequency())
	assert.Equal(t, 1, rule.Interval())
}

func TestParseRecurrenceRule_Until(t *testing.T) {
	rule, err := ParseRecurrenceRule(testTenant(), "FREQ=MONTHLY;UNTIL=20250630T120000Z;BYMONTHDAY=1,15")
	require.NoError(t, err)

	require.NotNil(t, rule.Until())
	assert.Equal(t, time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC), *rule.Until())
	assert.Equal(t, []int{1, 15}, rule.ByMonthDay())
}

func TestParseRecurrenceRule_CountAndUntilRejected(t *testing.T) {
	_, err := ParseRecurrenceRule(testTenant(), "FREQ=DAILY;COUNT=3;UNTIL=20250630T000000Z")
	assert.ErrorIs(t, err, ErrCountAndUntil)
}

func TestParseRecurrenceRule_UnsupportedComponent(t *testing.T) {
	_, err := ParseRecurrenceRule(testTenant(), "FREQ=WEEKLY;BYSETPOS=-1")
	var unsupported *UnsupportedRRuleError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "BYSETPOS", unsupported.Component)
}

func TestParseRecurrenceRule_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad freq":     "FREQ=HOURLY",
		"bad interval": "FREQ=DAILY;INTERVAL=0",
		"bad count":    "FREQ=DAILY;COUNT=0",
		"bad monthday": "FREQ=MONTHLY;BYMONTHDAY=32",
		"bad month":    "FREQ=YEARLY;BYMONTH=13",
		"bad weekday":  "FREQ=WEEKLY;BYDAY=XX",
	}
	for name, rrule := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecurrenceRule(testTenant(), rrule)
			assert.ErrorIs(t, err, ErrInvalidRecurrenceRule)
		})
	}
}

func TestRecurrenceRule_RoundTrip(t *testing.T) {
	until := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	specs := []RecurrenceRuleSpec{
		{Frequency: FreqDaily, Interval: 1, Count: intPtr(10)},
		{Frequency: FreqWeekly, Interval: 2, Count: intPtr(4), ByWeekday: []Weekday{Monday, Friday}},
		{Frequency: FreqMonthly, Interval: 1, Until: &until, ByMonthDay: []int{1, 15}},
		{Frequency: FreqYearly, Interval: 3, ByMonth: []int{1, 6, 12}},
	}

	tenant := testTenant()
	for _, spec := range specs {
		rule, err := NewRecurrenceRule(tenant, spec)
		require.NoError(t, err)

		parsed, err := ParseRecurrenceRule(tenant, rule.RRuleString())
		require.NoError(t, err, "rrule: %s", rule.RRuleString())

		assert.Equal(t, rule.Spec(), parsed.Spec(), "rrule: %s", rule.RRuleString())
	}
}

func TestRecurrenceRule_SerializationDeterministic(t *testing.T) {
	tenant := testTenant()
	rule, err := NewRecurrenceRule(tenant, RecurrenceRuleSpec{
		Frequency: FreqWeekly,
		Interval:  1,
		Count:     intPtr(5),
		ByWeekday: []Weekday{Tuesday, Thursday},
	})
	require.NoError(t, err)

	assert.Equal(t, "FREQ=WEEKLY;COUNT=5;BYDAY=TU,TH", rule.RRuleString())
}
