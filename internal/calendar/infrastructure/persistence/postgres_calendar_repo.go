package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

type pgCalendarRepo struct{ q pgxQuerier }

const pgCalendarColumns = `id, tenant_id, name, description, email, external_id, provider, kind,
	manages_available_windows, capacity, primary_child_id, created_at, updated_at, version`

func (r *pgCalendarRepo) Save(ctx context.Context, calendar *domain.Calendar) error {
	query := `
		INSERT INTO calendar (` + pgCalendarColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			email = EXCLUDED.email,
			external_id = EXCLUDED.external_id,
			manages_available_windows = EXCLUDED.manages_available_windows,
			capacity = EXCLUDED.capacity,
			primary_child_id = EXCLUDED.primary_child_id,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version
		WHERE calendar.version = $15 AND calendar.tenant_id = EXCLUDED.tenant_id
	`
	newVersion := calendar.Version() + 1
	result, err := r.q.Exec(ctx, query,
		calendar.ID(),
		calendar.Tenant().UUID(),
		calendar.Name(),
		calendar.Description(),
		calendar.Email(),
		calendar.ExternalID(),
		calendar.Provider().String(),
		calendar.Kind().String(),
		calendar.ManagesAvailableWindows(),
		calendar.Capacity(),
		calendar.PrimaryChildID(),
		calendar.CreatedAt(),
		calendar.UpdatedAt(),
		newVersion,
		calendar.Version(),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return shared.ErrConcurrentModification
	}
	calendar.SetVersion(newVersion)

	if calendar.IsBundle() {
		return r.saveChildren(ctx, calendar)
	}
	return nil
}

func (r *pgCalendarRepo) saveChildren(ctx context.Context, calendar *domain.Calendar) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM children_calendar_relationship WHERE tenant_id = $1 AND bundle_id = $2`,
		calendar.Tenant().UUID(), calendar.ID())
	if err != nil {
		return err
	}
	for position, childID := range calendar.ChildIDs() {
		_, err := r.q.Exec(ctx,
			`INSERT INTO children_calendar_relationship (bundle_id, child_id, tenant_id, position)
			 VALUES ($1, $2, $3, $4)`,
			calendar.ID(), childID, calendar.Tenant().UUID(), position)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgCalendarRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.Calendar, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgCalendarColumns+` FROM calendar WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return r.scan(ctx, row)
}

func (r *pgCalendarRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, externalID string) (*domain.Calendar, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgCalendarColumns+` FROM calendar
		 WHERE tenant_id = $1 AND provider = $2 AND external_id = $3 AND external_id <> ''`,
		tenant.UUID(), provider.String(), externalID)
	return r.scan(ctx, row)
}

func (r *pgCalendarRepo) FindChildren(ctx context.Context, tenant domain.TenantID, bundleID uuid.UUID) ([]*domain.Calendar, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+prefixColumns("c", pgCalendarColumns)+`
		 FROM calendar c
		 JOIN children_calendar_relationship r
		   ON r.child_id = c.id AND r.tenant_id = c.tenant_id
		 WHERE r.tenant_id = $1 AND r.bundle_id = $2
		 ORDER BY r.position`,
		tenant.UUID(), bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calendars []*domain.Calendar
	for rows.Next() {
		calendar, err := r.scanRow(ctx, rows)
		if err != nil {
			return nil, err
		}
		calendars = append(calendars, calendar)
	}
	return calendars, rows.Err()
}

func (r *pgCalendarRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM children_calendar_relationship WHERE tenant_id = $1 AND (bundle_id = $2 OR child_id = $2)`,
		tenant.UUID(), id)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `DELETE FROM calendar WHERE tenant_id = $1 AND id = $2`, tenant.UUID(), id)
	return err
}

func (r *pgCalendarRepo) scan(ctx context.Context, row pgx.Row) (*domain.Calendar, error) {
	calendar, err := r.scanRow(ctx, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return calendar, err
}

func (r *pgCalendarRepo) scanRow(ctx context.Context, row pgx.Row) (*domain.Calendar, error) {
	var (
		id, tenantID                            uuid.UUID
		name, description, email, externalID    string
		provider, kind                          string
		managesWindows                          bool
		capacity                                sql.NullInt64
		primaryChild                            *uuid.UUID
		createdAt, updatedAt                    time.Time
		version                                 int
	)
	err := row.Scan(&id, &tenantID, &name, &description, &email, &externalID, &provider, &kind,
		&managesWindows, &capacity, &primaryChild, &createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	root := shared.RehydrateBaseAggregateRoot(entity, version)

	spec := domain.CalendarSpec{
		Name:                    name,
		Description:             description,
		Email:                   email,
		ExternalID:              externalID,
		Provider:                domain.CalendarProvider(provider),
		ManagesAvailableWindows: managesWindows,
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		spec.Capacity = &c
	}

	var childIDs []uuid.UUID
	calendarKind := domain.CalendarKind(kind)
	if calendarKind == domain.KindBundle {
		childIDs, err = r.childIDs(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
	}
	return domain.RehydrateCalendar(root, spec, calendarKind, childIDs, primaryChild), nil
}

func (r *pgCalendarRepo) childIDs(ctx context.Context, tenantID, bundleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx,
		`SELECT child_id FROM children_calendar_relationship
		 WHERE tenant_id = $1 AND bundle_id = $2 ORDER BY position`,
		tenantID, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgRuleRepo struct{ q pgxQuerier }

const pgRuleColumns = `id, tenant_id, frequency, repeat_interval, occurrence_count, until_time,
	by_weekday, by_month_day, by_month, created_at, updated_at`

func (r *pgRuleRepo) Save(ctx context.Context, rule *domain.RecurrenceRule) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO recurrence_rule (`+pgRuleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			repeat_interval = EXCLUDED.repeat_interval,
			occurrence_count = EXCLUDED.occurrence_count,
			until_time = EXCLUDED.until_time,
			by_weekday = EXCLUDED.by_weekday,
			by_month_day = EXCLUDED.by_month_day,
			by_month = EXCLUDED.by_month,
			updated_at = EXCLUDED.updated_at
		WHERE recurrence_rule.tenant_id = EXCLUDED.tenant_id`,
		rule.ID(),
		rule.Tenant().UUID(),
		string(rule.Frequency()),
		rule.Interval(),
		rule.Count(),
		rule.Until(),
		joinWeekdaysCSV(rule.ByWeekday()),
		joinIntsCSV(rule.ByMonthDay()),
		joinIntsCSV(rule.ByMonth()),
		rule.CreatedAt(),
		rule.UpdatedAt(),
	)
	return err
}

func (r *pgRuleRepo) SaveAll(ctx context.Context, rules []*domain.RecurrenceRule) error {
	for _, rule := range rules {
		if err := r.Save(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgRuleRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.RecurrenceRule, error) {
	row := r.q.QueryRow(ctx,
		`SELECT `+pgRuleColumns+` FROM recurrence_rule WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	rule, err := scanPgRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

func (r *pgRuleRepo) FindByIDs(ctx context.Context, tenant domain.TenantID, ids []uuid.UUID) (map[uuid.UUID]*domain.RecurrenceRule, error) {
	result := make(map[uuid.UUID]*domain.RecurrenceRule, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := append([]any{tenant.UUID()}, pgUUIDArgs(ids)...)
	rows, err := r.q.Query(ctx,
		`SELECT `+pgRuleColumns+` FROM recurrence_rule
		 WHERE tenant_id = $1 AND id IN (`+pgPlaceholders(2, len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanPgRule(rows)
		if err != nil {
			return nil, err
		}
		result[rule.ID()] = rule
	}
	return result, rows.Err()
}

func (r *pgRuleRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.Exec(ctx,
		`DELETE FROM recurrence_rule WHERE tenant_id = $1 AND id = $2`,
		tenant.UUID(), id)
	return err
}

func scanPgRule(row pgx.Row) (*domain.RecurrenceRule, error) {
	var (
		id, tenantID                   uuid.UUID
		frequency                      string
		interval                       int
		count                          sql.NullInt64
		until                          sql.NullTime
		byWeekday, byMonthDay, byMonth string
		createdAt, updatedAt           time.Time
	)
	err := row.Scan(&id, &tenantID, &frequency, &interval, &count, &until,
		&byWeekday, &byMonthDay, &byMonth, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := pgRehydrateEntity(id, tenantID, createdAt, updatedAt)
	if err != nil {
		return nil, err
	}
	spec := domain.RecurrenceRuleSpec{
		Frequency:  domain.Frequency(frequency),
		Interval:   interval,
		ByWeekday:  splitWeekdaysCSV(byWeekday),
		ByMonthDay: splitIntsCSV(byMonthDay),
		ByMonth:    splitIntsCSV(byMonth),
	}
	if count.Valid {
		c := int(count.Int64)
		spec.Count = &c
	}
	if until.Valid {
		u := until.Time.UTC()
		spec.Until = &u
	}
	return domain.RehydrateRecurrenceRule(entity, spec), nil
}
