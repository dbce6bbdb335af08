package api

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/persistence"
	shared "github.com/meridianhq/meridian/internal/shared/domain"

	_ "modernc.org/sqlite"
)

func setupServer(t *testing.T) (http.Handler, domain.Store, domain.TenantID) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.EnsureSQLiteSchema(context.Background(), db))
	store := persistence.NewSQLiteStore(db)

	tenant := shared.MustTenantID(uuid.New())
	require.NoError(t, store.Tenants().Create(context.Background(), tenant))

	clock := application.FixedClock{Time: time.Date(2025, 6, 22, 12, 0, 0, 0, time.UTC)}
	syncs := application.NewSyncService(store, nil, clock, nil)
	webhooks := application.NewWebhookService(store, syncs, nil, clock, nil)
	server := NewServer(DefaultServerConfig(), NewWebhookHandler(webhooks, nil), nil)
	return server.Handler(), store, tenant
}

func TestMicrosoftWebhook_ValidationTokenXSS(t *testing.T) {
	handler, _, tenant := setupServer(t)

	// A script payload must never be echoed.
	evil := httptest.NewRequest(http.MethodPost,
		"/webhooks/microsoft-calendar/"+tenant.String()+"/?validationToken="+
			"%3Cscript%3Ealert(1)%3C%2Fscript%3E", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, evil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "<script>")

	// A canonical UUID is echoed back.
	token := "ABCDEF01-2345-6789-abcd-ef0123456789"
	valid := httptest.NewRequest(http.MethodPost,
		"/webhooks/microsoft-calendar/"+tenant.String()+"/?validationToken="+token, nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, valid)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, token, recorder.Body.String())
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/plain")
}

func TestGoogleWebhook_UnknownTenant404(t *testing.T) {
	handler, _, _ := setupServer(t)

	request := httptest.NewRequest(http.MethodPost, "/webhooks/google-calendar/"+uuid.NewString()+"/", nil)
	request.Header.Set("X-Goog-Channel-ID", "chan-1")
	request.Header.Set("X-Goog-Resource-ID", "res-1")
	request.Header.Set("X-Goog-Resource-State", "exists")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGoogleWebhook_MalformedTenant404(t *testing.T) {
	handler, _, _ := setupServer(t)

	request := httptest.NewRequest(http.MethodPost, "/webhooks/google-calendar/not-a-uuid/", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGoogleWebhook_RecordsNotification(t *testing.T) {
	handler, store, tenant := setupServer(t)
	ctx := context.Background()

	calendar, err := domain.NewCalendar(tenant, domain.CalendarSpec{
		Name:       "Cal",
		Provider:   domain.ProviderGoogle,
		Kind:       domain.KindPersonal,
		ExternalID: "cal-1",
	})
	require.NoError(t, err)
	require.NoError(t, store.Calendars().Save(ctx, calendar))

	request := httptest.NewRequest(http.MethodPost,
		"/webhooks/google-calendar/"+tenant.String()+"/", strings.NewReader("{}"))
	request.Header.Set("X-Goog-Channel-ID", "chan-1")
	request.Header.Set("X-Goog-Resource-ID", "res-1")
	request.Header.Set("X-Goog-Resource-State", "exists")
	request.Header.Set("X-Goog-Resource-URI", "https://www.googleapis.com/calendar/v3/calendars/cal-1/events")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorded, err := store.Webhooks().FindEventsByStatus(ctx, tenant, domain.WebhookProcessed, 10)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "cal-1", recorded[0].ExternalCalendarID())
	require.NotNil(t, recorded[0].CalendarSyncID())
}

func TestHealthEndpoint(t *testing.T) {
	handler, _, _ := setupServer(t)

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
}
