package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

type pgSyncRepo struct{ q pgxQuerier }

const pgSyncColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone, status,
	should_update_events, next_sync_token, error_message, started_at, finished_at, created_at, updated_at`

func (r *pgSyncRepo) Save(ctx context.Context, sync *domain.CalendarSync) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO calendar_sync (`+pgSyncColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			next_sync_token = EXCLUDED.next_sync_token,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = EXCLUDED.updated_at
		WHERE calendar_sync.tenant_id = EXCLUDED.tenant_id`,
		sync.ID(),
		sync.Tenant().UUID(),
		sync.CalendarID(),
		sync.Window().Start(),
		sync.Window().End(),
		sync.Window().Timezone(),
		sync.Status().String(),
		sync.ShouldUpdateEvents(),
		sync.NextSyncToken(),
		sync.ErrorMessage(),
		sync.StartedAt(),
		sync.FinishedAt(),
		sync.CreatedAt(),
		sync.UpdatedAt(),
	)
	return err
}

func (r *pgSyncRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM calendar_sync WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return scanPgSyncRow(row)
}

func (r *pgSyncRepo) FindInProgress(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = $1 AND calendar_id = $2 AND status = 'in_progress'
		 ORDER BY created_at DESC LIMIT 1`,
		tenant.UUID(), calendarID)
	return scanPgSyncRow(row)
}

func (r *pgSyncRepo) FindLatestSuccessful(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) (*domain.CalendarSync, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = $1 AND calendar_id = $2 AND status = 'success'
		 ORDER BY finished_at DESC LIMIT 1`,
		tenant.UUID(), calendarID)
	return scanPgSyncRow(row)
}

func (r *pgSyncRepo) FindCoalesceCandidate(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, since time.Time) (*domain.CalendarSync, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSyncColumns+` FROM calendar_sync
		 WHERE tenant_id = $1 AND calendar_id = $2
		   AND (status IN ('not_started', 'in_progress')
		        OR (status = 'success' AND finished_at >= $3))
		 ORDER BY created_at DESC LIMIT 1`,
		tenant.UUID(), calendarID, since)
	return scanPgSyncRow(row)
}

func scanPgSyncRow(row pgx.Row) (*domain.CalendarSync, error) {
	var (
		id, tenantID, calendarID    uuid.UUID
		startTime, endTime          time.Time
		timezone, status            string
		shouldUpdate                bool
		nextSyncToken, errorMessage string
		startedAt, finishedAt       *time.Time
		createdAt, updatedAt        time.Time
	)
	err := row.Scan(&id, &tenantID, &calendarID, &startTime, &endTime, &timezone, &status,
		&shouldUpdate, &nextSyncToken, &errorMessage, &startedAt, &finishedAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	window, err := domain.NewTimeInterval(startTime, endTime, timezone)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateCalendarSync(
		entity, calendarID, window, domain.SyncStatus(status), shouldUpdate,
		nextSyncToken, errorMessage, startedAt, finishedAt,
	), nil
}

type pgWebhookRepo struct{ q pgxQuerier }

const pgSubscriptionColumns = `id, tenant_id, calendar_id, provider, external_subscription_id,
	external_resource_id, callback_url, channel_id, verification_token, expires_at, is_active,
	last_notification_at, created_at, updated_at`

func (r *pgWebhookRepo) SaveSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO webhook_subscription (`+pgSubscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (tenant_id, calendar_id, provider) DO UPDATE SET
			external_subscription_id = EXCLUDED.external_subscription_id,
			external_resource_id = EXCLUDED.external_resource_id,
			callback_url = EXCLUDED.callback_url,
			channel_id = EXCLUDED.channel_id,
			verification_token = EXCLUDED.verification_token,
			expires_at = EXCLUDED.expires_at,
			is_active = EXCLUDED.is_active,
			last_notification_at = EXCLUDED.last_notification_at,
			updated_at = EXCLUDED.updated_at`,
		sub.ID(),
		sub.Tenant().UUID(),
		sub.CalendarID(),
		sub.Provider().String(),
		sub.ExternalSubscriptionID(),
		sub.ExternalResourceID(),
		sub.CallbackURL(),
		sub.ChannelID(),
		sub.VerificationToken(),
		sub.ExpiresAt(),
		sub.ActiveFlag(),
		sub.LastNotificationAt(),
		sub.CreatedAt(),
		sub.UpdatedAt(),
	)
	return err
}

func (r *pgWebhookRepo) FindSubscriptionByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSubscriptionColumns+` FROM webhook_subscription WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return scanPgSubscriptionRow(row)
}

func (r *pgWebhookRepo) FindSubscription(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, provider domain.CalendarProvider) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = $1 AND calendar_id = $2 AND provider = $3`,
		tenant.UUID(), calendarID, provider.String())
	return scanPgSubscriptionRow(row)
}

func (r *pgWebhookRepo) FindSubscriptionByExternalID(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, externalSubscriptionID string) (*domain.WebhookSubscription, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = $1 AND provider = $2 AND external_subscription_id = $3`,
		tenant.UUID(), provider.String(), externalSubscriptionID)
	return scanPgSubscriptionRow(row)
}

func (r *pgWebhookRepo) FindSubscriptionsExpiringBefore(ctx context.Context, tenant domain.TenantID, before time.Time) ([]*domain.WebhookSubscription, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgSubscriptionColumns+` FROM webhook_subscription
		 WHERE tenant_id = $1 AND is_active = TRUE AND expires_at < $2
		 ORDER BY expires_at`,
		tenant.UUID(), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*domain.WebhookSubscription
	for rows.Next() {
		sub, err := scanPgSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *pgWebhookRepo) DeleteSubscription(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM webhook_subscription WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return err
}

func scanPgSubscriptionRow(row pgx.Row) (*domain.WebhookSubscription, error) {
	sub, err := scanPgSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return sub, err
}

func scanPgSubscription(row pgx.Row) (*domain.WebhookSubscription, error) {
	var (
		id, tenantID, calendarID                                 uuid.UUID
		provider, externalSubscriptionID, externalResourceID     string
		callbackURL, channelID, verificationToken                string
		expiresAt                                                time.Time
		isActive                                                 bool
		lastNotificationAt                                       *time.Time
		createdAt, updatedAt                                     time.Time
	)
	err := row.Scan(&id, &tenantID, &calendarID, &provider, &externalSubscriptionID,
		&externalResourceID, &callbackURL, &channelID, &verificationToken, &expiresAt,
		&isActive, &lastNotificationAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateWebhookSubscription(entity, domain.WebhookSubscriptionSpec{
		CalendarID:             calendarID,
		Provider:               domain.CalendarProvider(provider),
		ExternalSubscriptionID: externalSubscriptionID,
		ExternalResourceID:     externalResourceID,
		CallbackURL:            callbackURL,
		ChannelID:              channelID,
		VerificationToken:      verificationToken,
		ExpiresAt:              expiresAt,
	}, isActive, lastNotificationAt), nil
}

const pgWebhookEventColumns = `id, tenant_id, provider, event_type, external_calendar_id,
	raw_payload, headers, processing_status, processed_at, error_message, calendar_sync_id,
	created_at, updated_at`

func (r *pgWebhookRepo) SaveEvent(ctx context.Context, event *domain.WebhookEvent) error {
	headers, err := json.Marshal(event.Headers())
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO webhook_event (`+pgWebhookEventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			external_calendar_id = EXCLUDED.external_calendar_id,
			processing_status = EXCLUDED.processing_status,
			processed_at = EXCLUDED.processed_at,
			error_message = EXCLUDED.error_message,
			calendar_sync_id = EXCLUDED.calendar_sync_id,
			updated_at = EXCLUDED.updated_at
		WHERE webhook_event.tenant_id = EXCLUDED.tenant_id`,
		event.ID(),
		event.Tenant().UUID(),
		event.Provider().String(),
		event.EventType(),
		event.ExternalCalendarID(),
		event.RawPayload(),
		headers,
		event.ProcessingStatus().String(),
		event.ProcessedAt(),
		event.ErrorMessage(),
		event.CalendarSyncID(),
		event.CreatedAt(),
		event.UpdatedAt(),
	)
	return err
}

func (r *pgWebhookRepo) FindEventByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.WebhookEvent, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgWebhookEventColumns+` FROM webhook_event WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	event, err := scanPgWebhookEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *pgWebhookRepo) FindEventsByStatus(ctx context.Context, tenant domain.TenantID, status domain.WebhookProcessingStatus, limit int) ([]*domain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+pgWebhookEventColumns+` FROM webhook_event
		 WHERE tenant_id = $1 AND processing_status = $2
		 ORDER BY created_at LIMIT $3`,
		tenant.UUID(), status.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.WebhookEvent
	for rows.Next() {
		event, err := scanPgWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanPgWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var (
		id, tenantID                                 uuid.UUID
		provider, eventType, externalCalendarID      string
		rawPayload, headersRaw                       []byte
		processingStatus                             string
		processedAt                                  *time.Time
		errorMessage                                 string
		calendarSyncID                               *uuid.UUID
		createdAt, updatedAt                         time.Time
	)
	err := row.Scan(&id, &tenantID, &provider, &eventType, &externalCalendarID,
		&rawPayload, &headersRaw, &processingStatus, &processedAt, &errorMessage,
		&calendarSyncID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{}
	_ = json.Unmarshal(headersRaw, &headers)
	return domain.RehydrateWebhookEvent(
		entity, domain.CalendarProvider(provider), eventType, externalCalendarID,
		rawPayload, headers, domain.WebhookProcessingStatus(processingStatus),
		processedAt, errorMessage, calendarSyncID,
	), nil
}

type pgAttendanceRepo struct{ q pgxQuerier }

func (r *pgAttendanceRepo) SaveAttendances(ctx context.Context, attendances []*domain.EventAttendance) error {
	for _, attendance := range attendances {
		_, err := r.q.Exec(ctx, `
			INSERT INTO event_attendance (id, tenant_id, event_id, user_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at
			WHERE event_attendance.tenant_id = EXCLUDED.tenant_id`,
			attendance.ID(),
			attendance.Tenant().UUID(),
			attendance.EventID(),
			attendance.UserID(),
			attendance.Status().String(),
			attendance.CreatedAt(),
			attendance.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgAttendanceRepo) FindAttendancesByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.EventAttendance, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, tenant_id, event_id, user_id, status, created_at, updated_at
		 FROM event_attendance WHERE tenant_id = $1 AND event_id = $2 ORDER BY created_at`,
		tenant.UUID(), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendances []*domain.EventAttendance
	for rows.Next() {
		var (
			id, tenantID, eID, userID uuid.UUID
			status                    string
			createdAt, updatedAt      time.Time
		)
		if err := rows.Scan(&id, &tenantID, &eID, &userID, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		attendances = append(attendances, domain.RehydrateEventAttendance(entity, eID, userID, domain.RSVPStatus(status)))
	}
	return attendances, rows.Err()
}

func (r *pgAttendanceRepo) FindOrCreateExternalAttendee(ctx context.Context, tenant domain.TenantID, email, name string) (*domain.ExternalAttendee, error) {
	attendee, err := r.findExternalAttendee(ctx, tenant, email)
	if err == nil {
		return attendee, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	created, err := domain.NewExternalAttendee(tenant, email, name)
	if err != nil {
		return nil, err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO external_attendee (id, tenant_id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, email) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`,
		created.ID(),
		created.Tenant().UUID(),
		created.Email(),
		created.Name(),
		created.CreatedAt(),
		created.UpdatedAt(),
	)
	if err != nil {
		return nil, err
	}
	return r.findExternalAttendee(ctx, tenant, email)
}

func (r *pgAttendanceRepo) findExternalAttendee(ctx context.Context, tenant domain.TenantID, email string) (*domain.ExternalAttendee, error) {
	row := r.q.QueryRow(ctx,
		`SELECT id, tenant_id, email, name, created_at, updated_at
		 FROM external_attendee WHERE tenant_id = $1 AND email = $2`,
		tenant.UUID(), normalizeEmail(email))
	var (
		id, tenantID         uuid.UUID
		emailRaw, name       string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&id, &tenantID, &emailRaw, &name, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	return domain.RehydrateExternalAttendee(entity, emailRaw, name), nil
}

func (r *pgAttendanceRepo) SaveExternalAttendances(ctx context.Context, attendances []*domain.EventExternalAttendance) error {
	for _, attendance := range attendances {
		_, err := r.q.Exec(ctx, `
			INSERT INTO event_external_attendance (id, tenant_id, event_id, attendee_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at
			WHERE event_external_attendance.tenant_id = EXCLUDED.tenant_id`,
			attendance.ID(),
			attendance.Tenant().UUID(),
			attendance.EventID(),
			attendance.AttendeeID(),
			attendance.Status().String(),
			attendance.CreatedAt(),
			attendance.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgAttendanceRepo) ExternalAttendanceExists(ctx context.Context, tenant domain.TenantID, eventID, attendeeID uuid.UUID) (bool, error) {
	var one int
	err := r.q.QueryRow(ctx,
		`SELECT 1 FROM event_external_attendance WHERE tenant_id = $1 AND event_id = $2 AND attendee_id = $3`,
		tenant.UUID(), eventID, attendeeID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *pgAttendanceRepo) FindExternalAttendancesByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.EventExternalAttendance, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, tenant_id, event_id, attendee_id, status, created_at, updated_at
		 FROM event_external_attendance WHERE tenant_id = $1 AND event_id = $2 ORDER BY created_at`,
		tenant.UUID(), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attendances []*domain.EventExternalAttendance
	for rows.Next() {
		var (
			id, tenantID, eID, attendeeID uuid.UUID
			status                        string
			createdAt, updatedAt          time.Time
		)
		if err := rows.Scan(&id, &tenantID, &eID, &attendeeID, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		attendances = append(attendances, domain.RehydrateEventExternalAttendance(entity, eID, attendeeID, domain.RSVPStatus(status)))
	}
	return attendances, rows.Err()
}

func (r *pgAttendanceRepo) SaveResourceAllocations(ctx context.Context, allocations []*domain.ResourceAllocation) error {
	for _, allocation := range allocations {
		_, err := r.q.Exec(ctx, `
			INSERT INTO resource_allocation (id, tenant_id, event_id, resource_calendar_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at
			WHERE resource_allocation.tenant_id = EXCLUDED.tenant_id`,
			allocation.ID(),
			allocation.Tenant().UUID(),
			allocation.EventID(),
			allocation.ResourceCalendarID(),
			allocation.Status().String(),
			allocation.CreatedAt(),
			allocation.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgAttendanceRepo) FindResourceAllocationsByEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) ([]*domain.ResourceAllocation, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, tenant_id, event_id, resource_calendar_id, status, created_at, updated_at
		 FROM resource_allocation WHERE tenant_id = $1 AND event_id = $2 ORDER BY created_at`,
		tenant.UUID(), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []*domain.ResourceAllocation
	for rows.Next() {
		var (
			id, tenantID, eID, resourceID uuid.UUID
			status                        string
			createdAt, updatedAt          time.Time
		)
		if err := rows.Scan(&id, &tenantID, &eID, &resourceID, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, domain.RehydrateResourceAllocation(entity, eID, resourceID, domain.RSVPStatus(status)))
	}
	return allocations, rows.Err()
}
