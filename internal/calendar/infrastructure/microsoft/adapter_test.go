package microsoft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

type staticTokens struct{}

func (staticTokens) TokenSource(context.Context, domain.TenantID) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}), nil
}

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	tenant := shared.MustTenantID(uuid.New())
	return NewAdapter(tenant, "acct-1", staticTokens{}, nil, nil).WithBaseURL(server.URL)
}

func TestRRuleToRecurrence(t *testing.T) {
	anchor := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // a Monday

	recurrence, err := rruleToRecurrence("FREQ=WEEKLY;INTERVAL=2;COUNT=4;BYDAY=MO,WE", anchor)
	require.NoError(t, err)
	assert.Equal(t, "weekly", recurrence.Pattern.Type)
	assert.Equal(t, 2, recurrence.Pattern.Interval)
	assert.Equal(t, []string{"monday", "wednesday"}, recurrence.Pattern.DaysOfWeek)
	assert.Equal(t, "numbered", recurrence.Range.Type)
	assert.Equal(t, 4, recurrence.Range.NumberOfOccurrences)

	monthly, err := rruleToRecurrence("FREQ=MONTHLY;BYMONTHDAY=15;UNTIL=20251231T000000Z", anchor)
	require.NoError(t, err)
	assert.Equal(t, "absoluteMonthly", monthly.Pattern.Type)
	assert.Equal(t, 15, monthly.Pattern.DayOfMonth)
	assert.Equal(t, "endDate", monthly.Range.Type)
	assert.Equal(t, "2025-12-31", monthly.Range.EndDate)
}

func TestRRuleToRecurrence_UnsupportedComponents(t *testing.T) {
	anchor := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	// Graph cannot express multiple month days.
	_, err := rruleToRecurrence("FREQ=MONTHLY;BYMONTHDAY=1,15", anchor)
	var malformed *domain.MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "BYMONTHDAY", malformed.Key)

	// Unsupported RRULE components fail before translation.
	_, err = rruleToRecurrence("FREQ=WEEKLY;BYSETPOS=-1", anchor)
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "BYSETPOS", malformed.Key)
}

func TestRecurrenceRoundTrip(t *testing.T) {
	anchor := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	rules := []string{
		"FREQ=DAILY;INTERVAL=3;COUNT=10",
		"FREQ=WEEKLY;COUNT=4;BYDAY=MO,WE",
		"FREQ=MONTHLY;BYMONTHDAY=15",
	}
	for _, rule := range rules {
		graph, err := rruleToRecurrence(rule, anchor)
		require.NoError(t, err, rule)
		back, err := recurrenceToRRule(graph)
		require.NoError(t, err, rule)
		assert.Equal(t, rule, back)
	}
}

func TestListEvents_DeltaStream(t *testing.T) {
	var server *httptest.Server
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "next" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "E2", "@removed": map[string]string{"reason": "deleted"}},
				},
				"@odata.deltaLink": server.URL + "/delta?$deltatoken=D2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{{
				"id":      "E1",
				"subject": "Review",
				"type":    "singleInstance",
				"start":   map[string]string{"dateTime": "2025-06-22T10:00:00.0000000", "timeZone": "UTC"},
				"end":     map[string]string{"dateTime": "2025-06-22T11:00:00.0000000", "timeZone": "UTC"},
			}},
			"@odata.nextLink": server.URL + "/delta?$skiptoken=next",
		})
	})
	server = httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tenant := shared.MustTenantID(uuid.New())
	adapter := NewAdapter(tenant, "acct-1", staticTokens{}, nil, nil).WithBaseURL(server.URL)

	stream, err := adapter.ListEvents(context.Background(), "cal-1",
		time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC), "D1")
	require.NoError(t, err)

	first, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E1", first.ExternalID)
	assert.Equal(t, domain.EventConfirmed, first.Status)

	second, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E2", second.ExternalID)
	assert.Equal(t, domain.EventCancelled, second.Status, "removed delta entries surface as cancelled")

	_, ok, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "D2", stream.NextSyncToken())
}

func TestParseWebhook(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())

	challenge, err := adapter.ParseWebhook(http.Header{}, []byte(`{"validationToken":"abc-123"}`))
	require.NoError(t, err)
	assert.True(t, challenge.IsChallenge())
	assert.Equal(t, "abc-123", challenge.Challenge)

	notification, err := adapter.ParseWebhook(http.Header{},
		[]byte(`{"value":[{"subscriptionId":"sub-1","changeType":"updated","resource":"me/calendars/cal-9/events/AAA"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", notification.SubscriptionID)
	assert.Equal(t, "updated", notification.EventType)
	assert.Equal(t, "cal-9", notification.ExternalCalendarID)

	_, err = adapter.ParseWebhook(http.Header{}, []byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrWebhookValidationFailed)
}

var _ application.EventStream = (*eventStream)(nil)
