package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

type pgEventRepo struct{ q pgxQuerier }

const pgEventColumns = `id, tenant_id, calendar_id, title, description, start_time, end_time, timezone,
	external_id, status, recurrence_rule_id, parent_event_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, meta, created_at, updated_at, version`

func (r *pgEventRepo) Save(ctx context.Context, event *domain.CalendarEvent) error {
	meta, err := metaJSON(event.Meta())
	if err != nil {
		return err
	}
	query := `
		INSERT INTO calendar_event (` + pgEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			timezone = EXCLUDED.timezone,
			external_id = EXCLUDED.external_id,
			status = EXCLUDED.status,
			recurrence_rule_id = EXCLUDED.recurrence_rule_id,
			parent_event_id = EXCLUDED.parent_event_id,
			recurrence_id = EXCLUDED.recurrence_id,
			is_recurring_exception = EXCLUDED.is_recurring_exception,
			bulk_modification_parent_id = EXCLUDED.bulk_modification_parent_id,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE calendar_event.version = $20 AND calendar_event.tenant_id = EXCLUDED.tenant_id
	`
	newVersion := event.Version() + 1
	result, err := r.q.Exec(ctx, query,
		event.ID(),
		event.Tenant().UUID(),
		event.CalendarID(),
		event.Title(),
		event.Description(),
		event.Interval().Start(),
		event.Interval().End(),
		event.Interval().Timezone(),
		event.ExternalID(),
		event.Status().String(),
		event.RecurrenceRuleID(),
		event.ParentEventID(),
		event.RecurrenceID(),
		event.IsRecurringException(),
		event.BulkModificationParentID(),
		meta,
		event.CreatedAt(),
		event.UpdatedAt(),
		newVersion,
		event.Version(),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	event.SetVersion(newVersion)
	return nil
}

func (r *pgEventRepo) SaveAll(ctx context.Context, events []*domain.CalendarEvent) error {
	for _, event := range events {
		if err := r.Save(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgEventRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.CalendarEvent, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	event, err := scanPgEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *pgEventRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, externalID string) (*domain.CalendarEvent, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND external_id = $2 AND external_id <> ''`,
		tenant.UUID(), externalID)
	event, err := scanPgEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *pgEventRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND calendar_id = $2 AND start_time >= $3 AND end_time <= $4
		 ORDER BY start_time`,
		tenant.UUID(), calendarID, start, end)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) FindOverlapping(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(calendarIDs)...)
	args = append(args, end, start)
	endIdx := len(calendarIDs) + 2
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND calendar_id IN (`+pgPlaceholders(2, len(calendarIDs))+`)
		   AND recurrence_rule_id IS NULL AND parent_event_id IS NULL
		   AND bulk_modification_parent_id IS NULL AND status = 'confirmed'
		   AND start_time < $`+itoaIdx(endIdx)+` AND end_time > $`+itoaIdx(endIdx+1)+`
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) FindRecurringMasters(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(calendarIDs)...)
	args = append(args, end)
	endIdx := len(calendarIDs) + 2
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND calendar_id IN (`+pgPlaceholders(2, len(calendarIDs))+`)
		   AND recurrence_rule_id IS NOT NULL AND parent_event_id IS NULL
		   AND bulk_modification_parent_id IS NULL AND status = 'confirmed'
		   AND start_time < $`+itoaIdx(endIdx)+`
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) FindInstances(ctx context.Context, tenant domain.TenantID, parentIDs []uuid.UUID) ([]*domain.CalendarEvent, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(parentIDs)...)
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND parent_event_id IN (`+pgPlaceholders(2, len(parentIDs))+`)
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) FindContinuations(ctx context.Context, tenant domain.TenantID, masterIDs []uuid.UUID) ([]*domain.CalendarEvent, error) {
	if len(masterIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(masterIDs)...)
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND bulk_modification_parent_id IN (`+pgPlaceholders(2, len(masterIDs))+`)
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) FindPendingParent(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) ([]*domain.CalendarEvent, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgEventColumns+` FROM calendar_event
		 WHERE tenant_id = $1 AND calendar_id = $2 AND parent_event_id IS NULL
		   AND jsonb_exists(meta, 'pending_parent_external_id')
		 ORDER BY start_time`,
		tenant.UUID(), calendarID)
	if err != nil {
		return nil, err
	}
	return collectPgEvents(rows)
}

func (r *pgEventRepo) DeleteByExternalIDs(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	args := append([]any{tenant.UUID(), calendarID}, pgStringArgs(externalIDs)...)
	_, err := r.q.Exec(ctx,
		`DELETE FROM calendar_event
		 WHERE tenant_id = $1 AND calendar_id = $2 AND external_id IN (`+pgPlaceholders(3, len(externalIDs))+`)`,
		args...)
	return err
}

func (r *pgEventRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM calendar_event WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return err
}

func collectPgEvents(rows pgx.Rows) ([]*domain.CalendarEvent, error) {
	defer rows.Close()
	var events []*domain.CalendarEvent
	for rows.Next() {
		event, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanPgEvent(row pgx.Row) (*domain.CalendarEvent, error) {
	var (
		id, tenantID, calendarID        uuid.UUID
		title, description              string
		startTime, endTime              time.Time
		timezone, externalID, status    string
		ruleID, parentID, bulkParentID  *uuid.UUID
		recurrenceID                    *time.Time
		isException                     bool
		metaRaw                         []byte
		createdAt, updatedAt            time.Time
		version                         int
	)
	err := row.Scan(&id, &tenantID, &calendarID, &title, &description, &startTime, &endTime, &timezone,
		&externalID, &status, &ruleID, &parentID, &recurrenceID, &isException,
		&bulkParentID, &metaRaw, &createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	root := shared.RehydrateBaseAggregateRoot(entity, version)
	interval, err := domain.NewTimeInterval(startTime, endTime, timezone)
	if err != nil {
		return nil, err
	}
	meta := domain.Meta{}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &meta)
	}
	return domain.RehydrateCalendarEvent(
		root, calendarID, title, description, interval, externalID,
		domain.EventStatus(status), ruleID, parentID, recurrenceID,
		isException, bulkParentID, meta,
	), nil
}

// itoaIdx renders a positional placeholder index.
func itoaIdx(n int) string {
	return pgPlaceholders(n, 1)[1:]
}

type pgBlockedRepo struct{ q pgxQuerier }

const pgBlockedColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone, reason, external_id,
	recurrence_rule_id, parent_block_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, meta, created_at, updated_at`

func (r *pgBlockedRepo) Save(ctx context.Context, block *domain.BlockedTime) error {
	meta, err := metaJSON(block.Meta())
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO blocked_time (`+pgBlockedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			timezone = EXCLUDED.timezone,
			reason = EXCLUDED.reason,
			external_id = EXCLUDED.external_id,
			recurrence_rule_id = EXCLUDED.recurrence_rule_id,
			parent_block_id = EXCLUDED.parent_block_id,
			recurrence_id = EXCLUDED.recurrence_id,
			is_recurring_exception = EXCLUDED.is_recurring_exception,
			bulk_modification_parent_id = EXCLUDED.bulk_modification_parent_id,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
		WHERE blocked_time.tenant_id = EXCLUDED.tenant_id`,
		block.ID(),
		block.Tenant().UUID(),
		block.CalendarID(),
		block.Interval().Start(),
		block.Interval().End(),
		block.Interval().Timezone(),
		block.Reason(),
		block.ExternalID(),
		block.RecurrenceRuleID(),
		block.ParentBlockID(),
		block.RecurrenceID(),
		block.IsRecurringException(),
		block.BulkModificationParentID(),
		meta,
		block.CreatedAt(),
		block.UpdatedAt(),
	)
	return err
}

func (r *pgBlockedRepo) SaveAll(ctx context.Context, blocks []*domain.BlockedTime) error {
	for _, block := range blocks {
		if err := r.Save(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgBlockedRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.BlockedTime, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	block, err := scanPgBlocked(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return block, err
}

func (r *pgBlockedRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, externalID string) (*domain.BlockedTime, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = $1 AND external_id = $2 AND external_id <> ''`,
		tenant.UUID(), externalID)
	block, err := scanPgBlocked(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return block, err
}

func (r *pgBlockedRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = $1 AND calendar_id = $2 AND start_time >= $3 AND end_time <= $4
		 ORDER BY start_time`,
		tenant.UUID(), calendarID, start, end)
	if err != nil {
		return nil, err
	}
	return collectPgBlocked(rows)
}

func (r *pgBlockedRepo) FindOverlapping(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(calendarIDs)...)
	args = append(args, end, start)
	endIdx := len(calendarIDs) + 2
	rows, err := r.q.Query(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = $1 AND calendar_id IN (`+pgPlaceholders(2, len(calendarIDs))+`)
		   AND start_time < $`+itoaIdx(endIdx)+` AND end_time > $`+itoaIdx(endIdx+1)+`
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgBlocked(rows)
}

func (r *pgBlockedRepo) FindRecurringMasters(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(calendarIDs)...)
	args = append(args, end)
	endIdx := len(calendarIDs) + 2
	rows, err := r.q.Query(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = $1 AND calendar_id IN (`+pgPlaceholders(2, len(calendarIDs))+`)
		   AND recurrence_rule_id IS NOT NULL AND parent_block_id IS NULL
		   AND bulk_modification_parent_id IS NULL
		   AND start_time < $`+itoaIdx(endIdx)+`
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectPgBlocked(rows)
}

func (r *pgBlockedRepo) FindPendingParent(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) ([]*domain.BlockedTime, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = $1 AND calendar_id = $2
		   AND jsonb_exists(meta, 'pending_parent_external_id')
		 ORDER BY start_time`,
		tenant.UUID(), calendarID)
	if err != nil {
		return nil, err
	}
	return collectPgBlocked(rows)
}

func (r *pgBlockedRepo) DeleteByExternalIDs(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	args := append([]any{tenant.UUID(), calendarID}, pgStringArgs(externalIDs)...)
	_, err := r.q.Exec(ctx,
		`DELETE FROM blocked_time
		 WHERE tenant_id = $1 AND calendar_id = $2 AND external_id IN (`+pgPlaceholders(3, len(externalIDs))+`)`,
		args...)
	return err
}

func (r *pgBlockedRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM blocked_time WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return err
}

func collectPgBlocked(rows pgx.Rows) ([]*domain.BlockedTime, error) {
	defer rows.Close()
	var blocks []*domain.BlockedTime
	for rows.Next() {
		block, err := scanPgBlocked(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func scanPgBlocked(row pgx.Row) (*domain.BlockedTime, error) {
	var (
		id, tenantID, calendarID       uuid.UUID
		startTime, endTime             time.Time
		timezone, reason, externalID   string
		ruleID, parentID, bulkParentID *uuid.UUID
		recurrenceID                   *time.Time
		isException                    bool
		metaRaw                        []byte
		createdAt, updatedAt           time.Time
	)
	err := row.Scan(&id, &tenantID, &calendarID, &startTime, &endTime, &timezone, &reason, &externalID,
		&ruleID, &parentID, &recurrenceID, &isException, &bulkParentID, &metaRaw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	interval, err := domain.NewTimeInterval(startTime, endTime, timezone)
	if err != nil {
		return nil, err
	}
	meta := domain.Meta{}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &meta)
	}
	return domain.RehydrateBlockedTime(
		entity, calendarID, interval, reason, externalID,
		ruleID, parentID, recurrenceID, isException, bulkParentID, meta,
	), nil
}

type pgAvailableRepo struct{ q pgxQuerier }

const pgAvailableColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone,
	recurrence_rule_id, parent_window_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, created_at, updated_at`

func (r *pgAvailableRepo) SaveAll(ctx context.Context, windows []*domain.AvailableTime) error {
	for _, window := range windows {
		_, err := r.q.Exec(ctx, `
			INSERT INTO available_time (`+pgAvailableColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				timezone = EXCLUDED.timezone,
				updated_at = EXCLUDED.updated_at
			WHERE available_time.tenant_id = EXCLUDED.tenant_id`,
			window.ID(),
			window.Tenant().UUID(),
			window.CalendarID(),
			window.Interval().Start(),
			window.Interval().End(),
			window.Interval().Timezone(),
			window.RecurrenceRuleID(),
			window.ParentWindowID(),
			window.RecurrenceID(),
			window.IsRecurringException(),
			window.BulkModificationParentID(),
			window.CreatedAt(),
			window.UpdatedAt(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgAvailableRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.AvailableTime, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+pgAvailableColumns+` FROM available_time
		 WHERE tenant_id = $1 AND calendar_id = $2 AND start_time >= $3 AND end_time <= $4
		 ORDER BY start_time`,
		tenant.UUID(), calendarID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []*domain.AvailableTime
	for rows.Next() {
		var (
			id, tenantID, calID            uuid.UUID
			startTime, endTime             time.Time
			timezone                       string
			ruleID, parentID, bulkParentID *uuid.UUID
			recurrenceID                   *time.Time
			isException                    bool
			createdAt, updatedAt           time.Time
		)
		err := rows.Scan(&id, &tenantID, &calID, &startTime, &endTime, &timezone,
			&ruleID, &parentID, &recurrenceID, &isException, &bulkParentID, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		interval, err := domain.NewTimeInterval(startTime, endTime, timezone)
		if err != nil {
			return nil, err
		}
		windows = append(windows, domain.RehydrateAvailableTime(
			entity, calID, interval, ruleID, parentID, recurrenceID, isException, bulkParentID,
		))
	}
	return windows, rows.Err()
}

func (r *pgAvailableRepo) DeleteByIDs(ctx context.Context, tenant domain.TenantID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(ids)...)
	_, err := r.q.Exec(ctx,
		`DELETE FROM available_time WHERE tenant_id = $1 AND id IN (`+pgPlaceholders(2, len(ids))+`)`,
		args...)
	return err
}
