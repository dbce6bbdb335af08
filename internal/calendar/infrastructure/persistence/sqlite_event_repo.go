package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

type sqliteEventRepo struct{ q sqlQuerier }

const sqliteEventColumns = `id, tenant_id, calendar_id, title, description, start_time, end_time, timezone,
	external_id, status, recurrence_rule_id, parent_event_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, meta, created_at, updated_at, version`

func (r *sqliteEventRepo) Save(ctx context.Context, event *domain.CalendarEvent) error {
	meta, err := metaJSON(event.Meta())
	if err != nil {
		return err
	}
	query := `
		INSERT INTO calendar_event (` + sqliteEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			timezone = excluded.timezone,
			external_id = excluded.external_id,
			status = excluded.status,
			recurrence_rule_id = excluded.recurrence_rule_id,
			parent_event_id = excluded.parent_event_id,
			recurrence_id = excluded.recurrence_id,
			is_recurring_exception = excluded.is_recurring_exception,
			bulk_modification_parent_id = excluded.bulk_modification_parent_id,
			meta = excluded.meta,
			updated_at = excluded.updated_at,
			version = excluded.version
		WHERE calendar_event.version = ? AND calendar_event.tenant_id = excluded.tenant_id
	`
	newVersion := event.Version() + 1
	result, err := r.q.ExecContext(ctx, query,
		event.ID().String(),
		event.Tenant().String(),
		event.CalendarID().String(),
		event.Title(),
		event.Description(),
		formatTime(event.Interval().Start()),
		formatTime(event.Interval().End()),
		event.Interval().Timezone(),
		event.ExternalID(),
		event.Status().String(),
		uuidPtrString(event.RecurrenceRuleID()),
		uuidPtrString(event.ParentEventID()),
		formatTimePtr(event.RecurrenceID()),
		boolInt(event.IsRecurringException()),
		uuidPtrString(event.BulkModificationParentID()),
		meta,
		formatTime(event.CreatedAt()),
		formatTime(event.UpdatedAt()),
		newVersion,
		event.Version(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return shared.ErrConcurrentModification
	}
	event.SetVersion(newVersion)
	return nil
}

func (r *sqliteEventRepo) SaveAll(ctx context.Context, events []*domain.CalendarEvent) error {
	for _, event := range events {
		if err := r.Save(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteEventRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.CalendarEvent, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *sqliteEventRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, externalID string) (*domain.CalendarEvent, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND external_id = ? AND external_id <> ''`,
		tenant.String(), externalID)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return event, err
}

func (r *sqliteEventRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND calendar_id = ? AND start_time >= ? AND end_time <= ?
		 ORDER BY start_time`,
		tenant.String(), calendarID.String(), formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) FindOverlapping(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(calendarIDs)...)
	args = append(args, formatTime(end), formatTime(start))
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND calendar_id IN (`+placeholders(len(calendarIDs))+`)
		   AND recurrence_rule_id IS NULL AND parent_event_id IS NULL
		   AND bulk_modification_parent_id IS NULL AND status = 'confirmed'
		   AND start_time < ? AND end_time > ?
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) FindRecurringMasters(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.CalendarEvent, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(calendarIDs)...)
	args = append(args, formatTime(end))
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND calendar_id IN (`+placeholders(len(calendarIDs))+`)
		   AND recurrence_rule_id IS NOT NULL AND parent_event_id IS NULL
		   AND bulk_modification_parent_id IS NULL AND status = 'confirmed'
		   AND start_time < ?
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) FindInstances(ctx context.Context, tenant domain.TenantID, parentIDs []uuid.UUID) ([]*domain.CalendarEvent, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(parentIDs)...)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND parent_event_id IN (`+placeholders(len(parentIDs))+`)
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) FindContinuations(ctx context.Context, tenant domain.TenantID, masterIDs []uuid.UUID) ([]*domain.CalendarEvent, error) {
	if len(masterIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(masterIDs)...)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND bulk_modification_parent_id IN (`+placeholders(len(masterIDs))+`)
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) FindPendingParent(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) ([]*domain.CalendarEvent, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM calendar_event
		 WHERE tenant_id = ? AND calendar_id = ? AND parent_event_id IS NULL
		   AND json_extract(meta, '$.pending_parent_external_id') IS NOT NULL
		 ORDER BY start_time`,
		tenant.String(), calendarID.String())
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

func (r *sqliteEventRepo) DeleteByExternalIDs(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	args := append([]any{tenant.String(), calendarID.String()}, stringArgs(externalIDs)...)
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM calendar_event
		 WHERE tenant_id = ? AND calendar_id = ? AND external_id IN (`+placeholders(len(externalIDs))+`)`,
		args...)
	return err
}

func (r *sqliteEventRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM calendar_event WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return err
}

func collectEvents(rows *sql.Rows) ([]*domain.CalendarEvent, error) {
	defer rows.Close()
	var events []*domain.CalendarEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(row rowScanner) (*domain.CalendarEvent, error) {
	var (
		id, tenantRaw, calendarID, title, description   string
		startRaw, endRaw, timezone, externalID, status  string
		ruleID, parentID, recurrenceIDRaw, bulkParentID sql.NullString
		isException                                     int
		metaRaw, createdAt, updatedAt                   string
		version                                         int
	)
	err := row.Scan(&id, &tenantRaw, &calendarID, &title, &description, &startRaw, &endRaw, &timezone,
		&externalID, &status, &ruleID, &parentID, &recurrenceIDRaw, &isException,
		&bulkParentID, &metaRaw, &createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	root := shared.RehydrateBaseAggregateRoot(entity, version)

	interval, err := parseInterval(startRaw, endRaw, timezone)
	if err != nil {
		return nil, err
	}
	calID, err := uuid.Parse(calendarID)
	if err != nil {
		return nil, err
	}
	rule, err := parseUUIDPtr(ruleID)
	if err != nil {
		return nil, err
	}
	parent, err := parseUUIDPtr(parentID)
	if err != nil {
		return nil, err
	}
	bulkParent, err := parseUUIDPtr(bulkParentID)
	if err != nil {
		return nil, err
	}
	recurrenceID, err := parseTimePtr(recurrenceIDRaw)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateCalendarEvent(
		root, calID, title, description, interval, externalID,
		domain.EventStatus(status), rule, parent, recurrenceID,
		isException != 0, bulkParent, parseMeta(metaRaw),
	), nil
}

func parseInterval(startRaw, endRaw, timezone string) (domain.TimeInterval, error) {
	start, err := parseTime(startRaw)
	if err != nil {
		return domain.TimeInterval{}, err
	}
	end, err := parseTime(endRaw)
	if err != nil {
		return domain.TimeInterval{}, err
	}
	return domain.NewTimeInterval(start, end, timezone)
}

type sqliteBlockedRepo struct{ q sqlQuerier }

const sqliteBlockedColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone, reason, external_id,
	recurrence_rule_id, parent_block_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, meta, created_at, updated_at`

func (r *sqliteBlockedRepo) Save(ctx context.Context, block *domain.BlockedTime) error {
	meta, err := metaJSON(block.Meta())
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO blocked_time (`+sqliteBlockedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			timezone = excluded.timezone,
			reason = excluded.reason,
			external_id = excluded.external_id,
			recurrence_rule_id = excluded.recurrence_rule_id,
			parent_block_id = excluded.parent_block_id,
			recurrence_id = excluded.recurrence_id,
			is_recurring_exception = excluded.is_recurring_exception,
			bulk_modification_parent_id = excluded.bulk_modification_parent_id,
			meta = excluded.meta,
			updated_at = excluded.updated_at
		WHERE blocked_time.tenant_id = excluded.tenant_id`,
		block.ID().String(),
		block.Tenant().String(),
		block.CalendarID().String(),
		formatTime(block.Interval().Start()),
		formatTime(block.Interval().End()),
		block.Interval().Timezone(),
		block.Reason(),
		block.ExternalID(),
		uuidPtrString(block.RecurrenceRuleID()),
		uuidPtrString(block.ParentBlockID()),
		formatTimePtr(block.RecurrenceID()),
		boolInt(block.IsRecurringException()),
		uuidPtrString(block.BulkModificationParentID()),
		meta,
		formatTime(block.CreatedAt()),
		formatTime(block.UpdatedAt()),
	)
	return err
}

func (r *sqliteBlockedRepo) SaveAll(ctx context.Context, blocks []*domain.BlockedTime) error {
	for _, block := range blocks {
		if err := r.Save(ctx, block); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteBlockedRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.BlockedTime, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	block, err := scanBlocked(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return block, err
}

func (r *sqliteBlockedRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, externalID string) (*domain.BlockedTime, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = ? AND external_id = ? AND external_id <> ''`,
		tenant.String(), externalID)
	block, err := scanBlocked(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return block, err
}

func (r *sqliteBlockedRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = ? AND calendar_id = ? AND start_time >= ? AND end_time <= ?
		 ORDER BY start_time`,
		tenant.String(), calendarID.String(), formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	return collectBlocked(rows)
}

func (r *sqliteBlockedRepo) FindOverlapping(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(calendarIDs)...)
	args = append(args, formatTime(end), formatTime(start))
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = ? AND calendar_id IN (`+placeholders(len(calendarIDs))+`)
		   AND start_time < ? AND end_time > ?
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectBlocked(rows)
}

func (r *sqliteBlockedRepo) FindRecurringMasters(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]*domain.BlockedTime, error) {
	if len(calendarIDs) == 0 {
		return nil, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(calendarIDs)...)
	args = append(args, formatTime(end))
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = ? AND calendar_id IN (`+placeholders(len(calendarIDs))+`)
		   AND recurrence_rule_id IS NOT NULL AND parent_block_id IS NULL
		   AND bulk_modification_parent_id IS NULL
		   AND start_time < ?
		 ORDER BY start_time`, args...)
	if err != nil {
		return nil, err
	}
	return collectBlocked(rows)
}

func (r *sqliteBlockedRepo) FindPendingParent(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID) ([]*domain.BlockedTime, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteBlockedColumns+` FROM blocked_time
		 WHERE tenant_id = ? AND calendar_id = ?
		   AND json_extract(meta, '$.pending_parent_external_id') IS NOT NULL
		 ORDER BY start_time`,
		tenant.String(), calendarID.String())
	if err != nil {
		return nil, err
	}
	return collectBlocked(rows)
}

func (r *sqliteBlockedRepo) DeleteByExternalIDs(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	args := append([]any{tenant.String(), calendarID.String()}, stringArgs(externalIDs)...)
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM blocked_time
		 WHERE tenant_id = ? AND calendar_id = ? AND external_id IN (`+placeholders(len(externalIDs))+`)`,
		args...)
	return err
}

func (r *sqliteBlockedRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM blocked_time WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return err
}

func collectBlocked(rows *sql.Rows) ([]*domain.BlockedTime, error) {
	defer rows.Close()
	var blocks []*domain.BlockedTime
	for rows.Next() {
		block, err := scanBlocked(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func scanBlocked(row rowScanner) (*domain.BlockedTime, error) {
	var (
		id, tenantRaw, calendarID                       string
		startRaw, endRaw, timezone, reason, externalID  string
		ruleID, parentID, recurrenceIDRaw, bulkParentID sql.NullString
		isException                                     int
		metaRaw, createdAt, updatedAt                   string
	)
	err := row.Scan(&id, &tenantRaw, &calendarID, &startRaw, &endRaw, &timezone, &reason, &externalID,
		&ruleID, &parentID, &recurrenceIDRaw, &isException, &bulkParentID, &metaRaw, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	interval, err := parseInterval(startRaw, endRaw, timezone)
	if err != nil {
		return nil, err
	}
	calID, err := uuid.Parse(calendarID)
	if err != nil {
		return nil, err
	}
	rule, err := parseUUIDPtr(ruleID)
	if err != nil {
		return nil, err
	}
	parent, err := parseUUIDPtr(parentID)
	if err != nil {
		return nil, err
	}
	bulkParent, err := parseUUIDPtr(bulkParentID)
	if err != nil {
		return nil, err
	}
	recurrenceID, err := parseTimePtr(recurrenceIDRaw)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateBlockedTime(
		entity, calID, interval, reason, externalID,
		rule, parent, recurrenceID, isException != 0, bulkParent, parseMeta(metaRaw),
	), nil
}

type sqliteAvailableRepo struct{ q sqlQuerier }

const sqliteAvailableColumns = `id, tenant_id, calendar_id, start_time, end_time, timezone,
	recurrence_rule_id, parent_window_id, recurrence_id, is_recurring_exception,
	bulk_modification_parent_id, created_at, updated_at`

func (r *sqliteAvailableRepo) SaveAll(ctx context.Context, windows []*domain.AvailableTime) error {
	for _, window := range windows {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO available_time (`+sqliteAvailableColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				start_time = excluded.start_time,
				end_time = excluded.end_time,
				timezone = excluded.timezone,
				updated_at = excluded.updated_at
			WHERE available_time.tenant_id = excluded.tenant_id`,
			window.ID().String(),
			window.Tenant().String(),
			window.CalendarID().String(),
			formatTime(window.Interval().Start()),
			formatTime(window.Interval().End()),
			window.Interval().Timezone(),
			uuidPtrString(window.RecurrenceRuleID()),
			uuidPtrString(window.ParentWindowID()),
			formatTimePtr(window.RecurrenceID()),
			boolInt(window.IsRecurringException()),
			uuidPtrString(window.BulkModificationParentID()),
			formatTime(window.CreatedAt()),
			formatTime(window.UpdatedAt()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteAvailableRepo) FindContainedIn(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]*domain.AvailableTime, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteAvailableColumns+` FROM available_time
		 WHERE tenant_id = ? AND calendar_id = ? AND start_time >= ? AND end_time <= ?
		 ORDER BY start_time`,
		tenant.String(), calendarID.String(), formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []*domain.AvailableTime
	for rows.Next() {
		var (
			id, tenantRaw, calendarRaw                      string
			startRaw, endRaw, timezone                      string
			ruleID, parentID, recurrenceIDRaw, bulkParentID sql.NullString
			isException                                     int
			createdAt, updatedAt                            string
		)
		err := rows.Scan(&id, &tenantRaw, &calendarRaw, &startRaw, &endRaw, &timezone,
			&ruleID, &parentID, &recurrenceIDRaw, &isException, &bulkParentID, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		interval, err := parseInterval(startRaw, endRaw, timezone)
		if err != nil {
			return nil, err
		}
		calID, err := uuid.Parse(calendarRaw)
		if err != nil {
			return nil, err
		}
		rule, err := parseUUIDPtr(ruleID)
		if err != nil {
			return nil, err
		}
		parent, err := parseUUIDPtr(parentID)
		if err != nil {
			return nil, err
		}
		bulkParent, err := parseUUIDPtr(bulkParentID)
		if err != nil {
			return nil, err
		}
		recurrenceID, err := parseTimePtr(recurrenceIDRaw)
		if err != nil {
			return nil, err
		}
		windows = append(windows, domain.RehydrateAvailableTime(
			entity, calID, interval, rule, parent, recurrenceID, isException != 0, bulkParent,
		))
	}
	return windows, rows.Err()
}

func (r *sqliteAvailableRepo) DeleteByIDs(ctx context.Context, tenant domain.TenantID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{tenant.String()}, uuidArgs(ids)...)
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM available_time WHERE tenant_id = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	return err
}
