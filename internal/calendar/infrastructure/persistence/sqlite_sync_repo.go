package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

type sqliteSyncRepo struct{ q sqlQuerier }

const sqliteSyncColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone, status,
	should_update_events, next_sync_token, error_message, started_at, finished_at, created_at, updated_at`

func (r *sqliteSyncRepo) Save(ctx context.Context, sync *domain.CalendarSync) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO calendar_sync (`+sqliteSyncColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			next_sync_token = excluded.next_sync_token,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
		WHERE calendar_sync.tenant_id = excluded.tenant_id`,
		sync.ID().String(),
		sync.Tenant().String(),
		sync.CalendarID().String(),
		formatTime(sync.Window().Start()),
		formatTime(sync.Window().End()),
		sync.Window().Timezone(),
		sync.Status().String(),
		boolInt(sync.ShouldUpdateEvents()),
		sync.NextSyncToken(),
		sync.ErrorMessage(),
		formatTimePtr(sync.StartedAt()),
		formatTimePtr(sync.FinishedAt()),
		formatTime(sync.CreatedAt()),
		formatTime(sync.UpdatedAt()),
	)
	return err
}

func (r *sqliteSyncRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSyncColumns+` FROM calendar_sync WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	sync, err := scanSync(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sync, err
}

func (r *sqliteSyncRepo) FindInProgress(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = ? AND calendar_id = ? AND status = 'in_progress'
		 ORDER BY created_at DESC LIMIT 1`,
		tenant.String(), calendarID.String())
	sync, err := scanSync(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sync, err
}

func (r *sqliteSyncRepo) FindLatestSuccessful(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = ? AND calendar_id = ? AND status = 'success'
		 ORDER BY finished_at DESC LIMIT 1`,
		tenant.String(), calendarID.String())
	sync, err := scanSync(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sync, err
}

func (r *sqliteSyncRepo) FindCoalesceCandidate(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, since time.Time) (*domain.CalendarSync, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = ? AND calendar_id = ?
		   AND (status IN ('not_started', 'in_progress')
		        OR (status = 'success' AND finished_at >= ?))
		 ORDER BY created_at DESC LIMIT 1`,
		tenant.String(), calendarID.String(), formatTime(since))
	sync, err := scanSync(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sync, err
}

func scanSync(row rowScanner) (*domain.CalendarSync, error) {
	var (
		id, tenantRaw, calendarID, startRaw, endRaw, timezone, status string
		shouldUpdate                                                  int
		nextSyncToken, errorMessage                                   string
		startedAt, finishedAt                                         sql.NullString
		createdAt, updatedAt                                          string
	)
	err := row.Scan(&id, &tenantRaw, &calendarID, &startRaw, &endRaw, &timezone, &status,
		&shouldUpdate, &nextSyncToken, &errorMessage, &startedAt, &finishedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	window, err := parseInterval(startRaw, endRaw, timezone)
	if err != nil {
		return nil, err
	}
	calID, err := uuid.Parse(calendarID)
	if err != nil {
		return nil, err
	}
	started, err := parseTimePtr(startedAt)
	if err != nil {
		return nil, err
	}
	finished, err := parseTimePtr(finishedAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateCalendarSync(
		entity, calID, window, domain.SyncStatus(status), shouldUpdate != 0,
		nextSyncToken, errorMessage, started, finished,
	), nil
}

type sqliteWebhookRepo struct{ q sqlQuerier }

const sqliteSubscriptionColumns = `id, tenant_id, calendar_id, provider, external_subscription_id,
	external_resource_id, callback_url, channel_id, verification_token, expires_at, is_active,
	last_notification_at, created_at, updated_at`

func (r *sqliteWebhookRepo) SaveSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO webhook_subscription (`+sqliteSubscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, calendar_id, provider) DO UPDATE SET
			external_subscription_id = excluded.external_subscription_id,
			external_resource_id = excluded.external_resource_id,
			callback_url = excluded.callback_url,
			channel_id = excluded.channel_id,
			verification_token = excluded.verification_token,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			last_notification_at = excluded.last_notification_at,
			updated_at = excluded.updated_at`,
		sub.ID().String(),
		sub.Tenant().String(),
		sub.CalendarID().String(),
		sub.Provider().String(),
		sub.ExternalSubscriptionID(),
		sub.ExternalResourceID(),
		sub.CallbackURL(),
		sub.ChannelID(),
		sub.VerificationToken(),
		formatTime(sub.ExpiresAt()),
		boolInt(sub.ActiveFlag()),
		formatTimePtr(sub.LastNotificationAt()),
		formatTime(sub.CreatedAt()),
		formatTime(sub.UpdatedAt()),
	)
	return err
}

func (r *sqliteWebhookRepo) FindSubscriptionByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM webhook_subscription WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sub, err
}

func (r *sqliteWebhookRepo) FindSubscription(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, provider domain.CalendarProvider) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = ? AND calendar_id = ? AND provider = ?`,
		tenant.String(), calendarID.String(), provider.String())
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sub, err
}

func (r *sqliteWebhookRepo) FindSubscriptionByExternalID(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, externalSubscriptionID string) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = ? AND provider = ? AND external_subscription_id = ?`,
		tenant.String(), provider.String(), externalSubscriptionID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return sub, err
}

func (r *sqliteWebhookRepo) FindSubscriptionsExpiringBefore(ctx context.Context, tenant domain.TenantID, before time.Time) ([]*domain.WebhookSubscription, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = ? AND is_active = 1 AND expires_at < ?
		 ORDER BY expires_at`,
		tenant.String(), formatTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *sqliteWebhookRepo) DeleteSubscription(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM webhook_subscription WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return err
}

func scanSubscription(row rowScanner) (*domain.WebhookSubscription, error) {
	var (
		id, tenantRaw, calendarID, provider                                    string
		externalSubscriptionID, externalResourceID, callbackURL                string
		channelID, verificationToken, expiresAt                                string
		isActive                                                               int
		lastNotificationAt                                                     sql.NullString
		createdAt, updatedAt                                                   string
	)
	err := row.Scan(&id, &tenantRaw, &calendarID, &provider, &externalSubscriptionID,
		&externalResourceID, &callbackURL, &channelID, &verificationToken, &expiresAt,
		&isActive, &lastNotificationAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	calID, err := uuid.Parse(calendarID)
	if err != nil {
		return nil, err
	}
	expires, err := parseTime(expiresAt)
	if err != nil {
		return nil, err
	}
	lastNotification, err := parseTimePtr(lastNotificationAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateWebhookSubscription(entity, domain.WebhookSubscriptionSpec{
		CalendarID:             calID,
		Provider:               domain.CalendarProvider(provider),
		ExternalSubscriptionID: externalSubscriptionID,
		ExternalResourceID:     externalResourceID,
		CallbackURL:            callbackURL,
		ChannelID:              channelID,
		VerificationToken:      verificationToken,
		ExpiresAt:              expires,
	}, isActive != 0, lastNotification), nil
}

const sqliteWebhookEventColumns = `id, tenant_id, provider, event_type, external_calendar_id,
	raw_payload, headers, processing_status, processed_at, error_message, calendar_sync_id,
	created_at, updated_at`

func (r *sqliteWebhookRepo) SaveEvent(ctx context.Context, event *domain.WebhookEvent) error {
	headers, err := json.Marshal(event.Headers())
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO webhook_event (`+sqliteWebhookEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			event_type = excluded.event_type,
			external_calendar_id = excluded.external_calendar_id,
			processing_status = excluded.processing_status,
			processed_at = excluded.processed_at,
			error_message = excluded.error_message,
			calendar_sync_id = excluded.calendar_sync_id,
			updated_at = excluded.updated_at
		WHERE webhook_event.tenant_id = excluded.tenant_id`,
		event.ID().String(),
		event.Tenant().String(),
		event.Provider().String(),
		event.EventType(),
		event.ExternalCalendarID(),
		event.RawPayload(),
		string(headers),
		event.ProcessingStatus().String(),
		formatTimePtr(event.ProcessedAt()),
		event.ErrorMessage(),
		uuidPtrString(event.CalendarSyncID()),
		formatTime(event.CreatedAt()),
		formatTime(event.UpdatedAt()),
	)
	return err
}

func (r *sqliteWebhookRepo) FindEventByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.WebhookEvent, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteWebhookEventColumns+` FROM webhook_event WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	event, err := scanWebhookEvent(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *sqliteWebhookRepo) FindEventsByStatus(ctx context.Context, tenant domain.TenantID, status domain.WebhookProcessingStatus, limit int) ([]*domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteWebhookEventColumns+` FROM webhook_event
		 WHERE tenant_id = ? AND processing_status = ?
		 ORDER BY created_at LIMIT ?`,
		tenant.String(), status.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanWebhookEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var (
		id, tenantRaw, provider, eventType, externalCalendarID string
		rawPayload                                             []byte
		headersRaw, processingStatus                           string
		processedAt                                            sql.NullString
		errorMessage                                           string
		calendarSyncID                                         sql.NullString
		createdAt, updatedAt                                   string
	)
	err := row.Scan(&id, &tenantRaw, &provider, &eventType, &externalCalendarID,
		&rawPayload, &headersRaw, &processingStatus, &processedAt, &errorMessage,
		&calendarSyncID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	_ = json.Unmarshal([]byte(headersRaw), &headers)
	processed, err := parseTimePtr(processedAt)
	if err != nil {
		return nil, err
	}
	syncID, err := parseUUIDPtr(calendarSyncID)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateWebhookEvent(
		entity, domain.CalendarProvider(provider), eventType, externalCalendarID,
		rawPayload, headers, domain.WebhookProcessingStatus(processingStatus),
		processed, errorMessage, syncID,
	), nil
}

type sqliteAttendanceRepo struct{ q sqlQuerier }

func (r *sqliteAttendanceRepo) SaveAttendances(ctx context.Context, attendances []*domain.EventAttendance) error {
	for _, attendance := range attendances {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO event_attendance (id, tenant_id, event_id, user_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at
			WHERE event_attendance.tenant_id = excluded.tenant_id`,
			attendance.ID().String(),
			attendance.Tenant().String(),
			attendance.EventID().String(),
			attendance.UserID().String(),
			attendance.Status().String(),
			formatTime(attendance.CreatedAt()),
			formatTime(attendance.UpdatedAt()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteAttendanceRepo) FindAttendancesByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.EventAttendance, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, event_id, user_id, status, created_at, updated_at
		 FROM event_attendance WHERE tenant_id = ? AND event_id = ? ORDER BY created_at`,
		tenant.String(), eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendances []*domain.EventAttendance
	for rows.Next() {
		var id, tenantRaw, eventRaw, userRaw, status, createdAt, updatedAt string
		if err := rows.Scan(&id, &tenantRaw, &eventRaw, &userRaw, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		eID, err := uuid.Parse(eventRaw)
		if err != nil {
			return nil, err
		}
		uID, err := uuid.Parse(userRaw)
		if err != nil {
			return nil, err
		}
		attendances = append(attendances, domain.RehydrateEventAttendance(entity, eID, uID, domain.RSVPStatus(status)))
	}
	return attendances, rows.Err()
}

func (r *sqliteAttendanceRepo) FindOrCreateExternalAttendee(ctx context.Context, tenant domain.TenantID, email, name string) (*domain.ExternalAttendee, error) {
	attendee, err := r.findExternalAttendee(ctx, tenant, email)
	if err == nil {
		return attendee, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}

	created, err := domain.NewExternalAttendee(tenant, email, name)
	if err != nil {
		return nil, err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO external_attendee (id, tenant_id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, email) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		created.ID().String(),
		created.Tenant().String(),
		created.Email(),
		created.Name(),
		formatTime(created.CreatedAt()),
		formatTime(created.UpdatedAt()),
	)
	if err != nil {
		return nil, err
	}
	// Re-read so a concurrent insert resolves to the surviving row.
	return r.findExternalAttendee(ctx, tenant, email)
}

func (r *sqliteAttendanceRepo) findExternalAttendee(ctx context.Context, tenant domain.TenantID, email string) (*domain.ExternalAttendee, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, created_at, updated_at
		 FROM external_attendee WHERE tenant_id = ? AND email = ?`,
		tenant.String(), normalizeEmail(email))
	var id, tenantRaw, emailRaw, name, createdAt, updatedAt string
	err := row.Scan(&id, &tenantRaw, &emailRaw, &name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateExternalAttendee(entity, emailRaw, name), nil
}

func (r *sqliteAttendanceRepo) SaveExternalAttendances(ctx context.Context, attendances []*domain.EventExternalAttendance) error {
	for _, attendance := range attendances {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO event_external_attendance (id, tenant_id, event_id, attendee_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at
			WHERE event_external_attendance.tenant_id = excluded.tenant_id`,
			attendance.ID().String(),
			attendance.Tenant().String(),
			attendance.EventID().String(),
			attendance.AttendeeID().String(),
			attendance.Status().String(),
			formatTime(attendance.CreatedAt()),
			formatTime(attendance.UpdatedAt()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteAttendanceRepo) ExternalAttendanceExists(ctx context.Context, tenant domain.TenantID, eventID, attendeeID uuid.UUID) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx,
		`SELECT 1 FROM event_external_attendance WHERE tenant_id = ? AND event_id = ? AND attendee_id = ?`,
		tenant.String(), eventID.String(), attendeeID.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *sqliteAttendanceRepo) FindExternalAttendancesByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.EventExternalAttendance, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, event_id, attendee_id, status, created_at, updated_at
		 FROM event_external_attendance WHERE tenant_id = ? AND event_id = ? ORDER BY created_at`,
		tenant.String(), eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendances []*domain.EventExternalAttendance
	for rows.Next() {
		var id, tenantRaw, eventRaw, attendeeRaw, status, createdAt, updatedAt string
		if err := rows.Scan(&id, &tenantRaw, &eventRaw, &attendeeRaw, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		eID, err := uuid.Parse(eventRaw)
		if err != nil {
			return nil, err
		}
		aID, err := uuid.Parse(attendeeRaw)
		if err != nil {
			return nil, err
		}
		attendances = append(attendances, domain.RehydrateEventExternalAttendance(entity, eID, aID, domain.RSVPStatus(status)))
	}
	return attendances, rows.Err()
}

func (r *sqliteAttendanceRepo) SaveResourceAllocations(ctx context.Context, allocations []*domain.ResourceAllocation) error {
	for _, allocation := range allocations {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO resource_allocation (id, tenant_id, event_id, resource_calendar_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at
			WHERE resource_allocation.tenant_id = excluded.tenant_id`,
			allocation.ID().String(),
			allocation.Tenant().String(),
			allocation.EventID().String(),
			allocation.ResourceCalendarID().String(),
			allocation.Status().String(),
			formatTime(allocation.CreatedAt()),
			formatTime(allocation.UpdatedAt()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteAttendanceRepo) FindResourceAllocationsByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.ResourceAllocation, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, tenant_id, event_id, resource_calendar_id, status, created_at, updated_at
		 FROM resource_allocation WHERE tenant_id = ? AND event_id = ? ORDER BY created_at`,
		tenant.String(), eventID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*domain.ResourceAllocation
	for rows.Next() {
		var id, tenantRaw, eventRaw, resourceRaw, status, createdAt, updatedAt string
		if err := rows.Scan(&id, &tenantRaw, &eventRaw, &resourceRaw, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		eID, err := uuid.Parse(eventRaw)
		if err != nil {
			return nil, err
		}
		rID, err := uuid.Parse(resourceRaw)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, domain.RehydrateResourceAllocation(entity, eID, rID, domain.RSVPStatus(status)))
	}
	return allocations, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
