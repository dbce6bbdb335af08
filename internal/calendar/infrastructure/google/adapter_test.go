package google

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

func TestListEvents_IncrementalIncludesCancelled(t *testing.T) {
	var gotSyncToken string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSyncToken = r.URL.Query().Get("syncToken")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "E1",
					"status":  "confirmed",
					"summary": "Kickoff",
					"start":   map[string]string{"dateTime": "2025-06-22T10:00:00-04:00", "timeZone": "America/New_York"},
					"end":     map[string]string{"dateTime": "2025-06-22T11:00:00-04:00", "timeZone": "America/New_York"},
				},
				{"id": "E2", "status": "cancelled"},
			},
			"nextSyncToken": "S1",
		})
	}))

	stream, err := adapter.ListEvents(context.Background(), "primary",
		time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC), "S0")
	require.NoError(t, err)

	first, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E1", first.ExternalID)
	assert.Equal(t, domain.EventConfirmed, first.Status)
	// The provider timezone is preserved, never forced to UTC.
	assert.Equal(t, "America/New_York", first.Timezone)
	assert.True(t, first.Start.Equal(time.Date(2025, 6, 22, 14, 0, 0, 0, time.UTC)))

	second, ok, err := stream.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "E2", second.ExternalID)
	assert.Equal(t, domain.EventCancelled, second.Status)

	_, ok, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "S1", stream.NextSyncToken())
	assert.Equal(t, "S0", gotSyncToken)
}

func TestListEvents_Pagination(t *testing.T) {
	calls := 0
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{{
					"id": "P1", "status": "confirmed", "summary": "One",
					"start": map[string]string{"dateTime": "2025-06-22T10:00:00Z"},
					"end":   map[string]string{"dateTime": "2025-06-22T11:00:00Z"},
				}},
				"nextPageToken": "page-2",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id": "P2", "status": "confirmed", "summary": "Two",
				"start": map[string]string{"dateTime": "2025-06-22T12:00:00Z"},
				"end":   map[string]string{"dateTime": "2025-06-22T13:00:00Z"},
			}},
			"nextSyncToken": "S9",
		})
	}))

	stream, err := adapter.ListEvents(context.Background(), "primary",
		time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)

	var ids []string
	for {
		record, ok, err := stream.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		ids = append(ids, record.ExternalID)
	}
	assert.Equal(t, []string{"P1", "P2"}, ids)
	assert.Equal(t, "S9", stream.NextSyncToken())
	assert.Equal(t, 2, calls)
}

func TestCreateEvent_RSVPMappingAndRecurrence(t *testing.T) {
	var received googleEvent
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		received.ID = "created-1"
		received.Attendees = []googleAttendee{{Email: "guest@example.com", ResponseStatus: "tentative"}}
		_ = json.NewEncoder(w).Encode(received)
	}))

	record, err := adapter.CreateEvent(context.Background(), "primary", application.EventInput{
		Title:          "Series",
		Start:          time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC),
		End:            time.Date(2025, 6, 22, 11, 0, 0, 0, time.UTC),
		Timezone:       "UTC",
		RecurrenceRule: "FREQ=WEEKLY;COUNT=4",
		Attendees:      []application.AttendeeRecord{{Email: "guest@example.com", Status: domain.RSVPAccepted}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;COUNT=4"}, received.Recurrence)
	require.Len(t, received.Attendees, 1)

	assert.Equal(t, "created-1", record.ExternalID)
	require.Len(t, record.Attendees, 1)
	// Unknown / tentative provider statuses map to pending.
	assert.Equal(t, domain.RSVPPending, record.Attendees[0].Status)
}

func TestCreateEvent_UnsupportedRRuleFailsBeforeWire(t *testing.T) {
	called := false
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	_, err := adapter.CreateEvent(context.Background(), "primary", application.EventInput{
		Title:          "Bad",
		Start:          time.Now(),
		End:            time.Now().Add(time.Hour),
		RecurrenceRule: "FREQ=WEEKLY;BYSETPOS=-1",
	})
	require.ErrorIs(t, err, domain.ErrMalformed)
	var malformed *domain.MalformedError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "BYSETPOS", malformed.Key)
	assert.False(t, called, "nothing reaches the provider")
}

func TestCall_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthExpired},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadGateway, domain.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := adapter.GetEvent(context.Background(), "primary", "E1")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

func TestParseWebhook(t *testing.T) {
	adapter := newTestAdapter(t, http.NotFoundHandler())

	headers := http.Header{}
	headers.Set("X-Goog-Channel-ID", "chan-1")
	headers.Set("X-Goog-Resource-State", "exists")
	headers.Set("X-Goog-Resource-URI", "https://www.googleapis.com/calendar/v3/calendars/team%40example.com/events")

	notification, err := adapter.ParseWebhook(headers, nil)
	require.NoError(t, err)
	assert.Equal(t, "exists", notification.EventType)
	assert.Equal(t, "chan-1", notification.SubscriptionID)
	assert.Equal(t, "team@example.com", notification.ExternalCalendarID)
	assert.False(t, notification.IsChallenge())

	_, err = adapter.ParseWebhook(http.Header{}, nil)
	assert.ErrorIs(t, err, domain.ErrWebhookValidationFailed)
}
