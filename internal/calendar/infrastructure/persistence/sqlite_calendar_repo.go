package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

type sqliteCalendarRepo struct{ q sqlQuerier }

const sqliteCalendarColumns = `id, tenant_id, name, description, email, external_id, provider, kind,
	manages_available_windows, capacity, primary_child_id, created_at, updated_at, version`

// Save upserts the calendar and rewrites its bundle membership.
func (r *sqliteCalendarRepo) Save(ctx context.Context, calendar *domain.Calendar) error {
	query := `
		INSERT INTO calendar (` + sqliteCalendarColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			email = excluded.email,
			external_id = excluded.external_id,
			manages_available_windows = excluded.manages_available_windows,
			capacity = excluded.capacity,
			primary_child_id = excluded.primary_child_id,
			updated_at = excluded.updated_at,
			version = excluded.version
		WHERE calendar.version = ? AND calendar.tenant_id = excluded.tenant_id
	`
	newVersion := calendar.Version() + 1
	var capacity any
	if c := calendar.Capacity(); c != nil {
		capacity = *c
	}
	result, err := r.q.ExecContext(ctx, query,
		calendar.ID().String(),
		calendar.Tenant().String(),
		calendar.Name(),
		calendar.Description(),
		calendar.Email(),
		calendar.ExternalID(),
		calendar.Provider().String(),
		calendar.Kind().String(),
		boolInt(calendar.ManagesAvailableWindows()),
		capacity,
		uuidPtrString(calendar.PrimaryChildID()),
		formatTime(calendar.CreatedAt()),
		formatTime(calendar.UpdatedAt()),
		newVersion,
		calendar.Version(),
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
	calendar.SetVersion(newVersion)

	if calendar.IsBundle() {
		if err := r.saveChildren(ctx, calendar); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteCalendarRepo) saveChildren(ctx context.Context, calendar *domain.Calendar) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM children_calendar_relationship WHERE tenant_id = ? AND bundle_id = ?`,
		calendar.Tenant().String(), calendar.ID().String())
	if err != nil {
		return err
	}
	for position, childID := range calendar.ChildIDs() {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO children_calendar_relationship (bundle_id, child_id, tenant_id, position)
			 VALUES (?, ?, ?, ?)`,
			calendar.ID().String(), childID.String(), calendar.Tenant().String(), position)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteCalendarRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.Calendar, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteCalendarColumns+` FROM calendar WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return r.scan(ctx, row)
}

func (r *sqliteCalendarRepo) FindByExternalID(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, externalID string) (*domain.Calendar, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteCalendarColumns+` FROM calendar
		 WHERE tenant_id = ? AND provider = ? AND external_id = ? AND external_id <> ''`,
		tenant.String(), provider.String(), externalID)
	return r.scan(ctx, row)
}

func (r *sqliteCalendarRepo) FindChildren(ctx context.Context, tenant domain.TenantID, bundleID uuid.UUID) ([]*domain.Calendar, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+prefixColumns("c", sqliteCalendarColumns)+`
		 FROM calendar c
		 JOIN children_calendar_relationship r
		   ON r.child_id = c.id AND r.tenant_id = c.tenant_id
		 WHERE r.tenant_id = ? AND r.bundle_id = ?
		 ORDER BY r.position`,
		tenant.String(), bundleID.String())
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

func (r *sqliteCalendarRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM children_calendar_relationship WHERE tenant_id = ? AND (bundle_id = ? OR child_id = ?)`,
		tenant.String(), id.String(), id.String())
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx,
		`DELETE FROM calendar WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func (r *sqliteCalendarRepo) scan(ctx context.Context, row *sql.Row) (*domain.Calendar, error) {
	calendar, err := r.scanRow(ctx, row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return calendar, err
}

func (r *sqliteCalendarRepo) scanRow(ctx context.Context, row rowScanner) (*domain.Calendar, error) {
	var (
		id, tenantRaw, name, description, email, externalID, provider, kind string
		managesWindows                                                     int
		capacity                                                           sql.NullInt64
		primaryChild                                                       sql.NullString
		createdAt, updatedAt                                               string
		version                                                            int
	)
	err := row.Scan(&id, &tenantRaw, &name, &description, &email, &externalID, &provider, &kind,
		&managesWindows, &capacity, &primaryChild, &createdAt, &updatedAt, &version)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
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
		ManagesAvailableWindows: managesWindows != 0,
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		spec.Capacity = &c
	}
	primaryChildID, err := parseUUIDPtr(primaryChild)
	if err != nil {
		return nil, err
	}

	var childIDs []uuid.UUID
	calendarKind := domain.CalendarKind(kind)
	if calendarKind == domain.KindBundle {
		childIDs, err = r.childIDs(ctx, tenantRaw, id)
		if err != nil {
			return nil, err
		}
	}
	return domain.RehydrateCalendar(root, spec, calendarKind, childIDs, primaryChildID), nil
}

func (r *sqliteCalendarRepo) childIDs(ctx context.Context, tenantRaw, bundleID string) ([]uuid.UUID, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT child_id FROM children_calendar_relationship
		 WHERE tenant_id = ? AND bundle_id = ? ORDER BY position`,
		tenantRaw, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func rehydrateEntity(id, tenantRaw, createdAt, updatedAt string) (shared.BaseEntity, error) {
	entityID, err := uuid.Parse(id)
	if err != nil {
		return shared.BaseEntity{}, err
	}
	tenant, err := domain.ParseTenantID(tenantRaw)
	if err != nil {
		return shared.BaseEntity{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return shared.BaseEntity{}, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return shared.BaseEntity{}, err
	}
	return shared.RehydrateBaseEntity(entityID, tenant, created, updated), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := splitColumns(columns)
	for i, part := range parts {
		parts[i] = alias + "." + part
	}
	return joinColumns(parts)
}

func splitColumns(columns string) []string {
	raw := ""
	for _, r := range columns {
		switch r {
		case '\n', '\t':
			raw += " "
		default:
			raw += string(r)
		}
	}
	var parts []string
	for _, part := range splitAndTrim(raw, ',') {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func splitAndTrim(s string, sep rune) []string {
	var parts []string
	current := ""
	for _, r := range s {
		if r == sep {
			parts = append(parts, trimSpaces(current))
			current = ""
			continue
		}
		current += string(r)
	}
	parts = append(parts, trimSpaces(current))
	return parts
}

func trimSpaces(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}

func joinColumns(parts []string) string {
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += ", "
		}
		out += part
	}
	return out
}

// sqliteRuleRepo persists recurrence rules.
type sqliteRuleRepo struct{ q sqlQuerier }

const sqliteRuleColumns = `id, tenant_id, frequency, repeat_interval, occurrence_count, until_time, by_weekday, by_month_day, by_month, created_at, updated_at`

func (r *sqliteRuleRepo) Save(ctx context.Context, rule *domain.RecurrenceRule) error {
	var count any
	if c := rule.Count(); c != nil {
		count = *c
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO recurrence_rule (`+sqliteRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			frequency = excluded.frequency,
			repeat_interval = excluded.repeat_interval,
			occurrence_count = excluded.occurrence_count,
			until_time = excluded.until_time,
			by_weekday = excluded.by_weekday,
			by_month_day = excluded.by_month_day,
			by_month = excluded.by_month,
			updated_at = excluded.updated_at
		WHERE recurrence_rule.tenant_id = excluded.tenant_id`,
		rule.ID().String(),
		rule.Tenant().String(),
		string(rule.Frequency()),
		rule.Interval(),
		count,
		formatTimePtr(rule.Until()),
		joinWeekdaysCSV(rule.ByWeekday()),
		joinIntsCSV(rule.ByMonthDay()),
		joinIntsCSV(rule.ByMonth()),
		formatTime(rule.CreatedAt()),
		formatTime(rule.UpdatedAt()),
	)
	return err
}

func (r *sqliteRuleRepo) SaveAll(ctx context.Context, rules []*domain.RecurrenceRule) error {
	for _, rule := range rules {
		if err := r.Save(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqliteRuleRepo) FindByID(ctx context.Context, tenant domain.TenantID, id uuid.UUID) (*domain.RecurrenceRule, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+sqliteRuleColumns+` FROM recurrence_rule WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

func (r *sqliteRuleRepo) FindByIDs(ctx context.Context, tenant domain.TenantID, ids []uuid.UUID) (map[uuid.UUID]*domain.RecurrenceRule, error) {
	result := make(map[uuid.UUID]*domain.RecurrenceRule, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := append([]any{tenant.String()}, uuidArgs(ids)...)
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+sqliteRuleColumns+` FROM recurrence_rule
		 WHERE tenant_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result[rule.ID()] = rule
	}
	return result, rows.Err()
}

func (r *sqliteRuleRepo) Delete(ctx context.Context, tenant domain.TenantID, id uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM recurrence_rule WHERE tenant_id = ? AND id = ?`,
		tenant.String(), id.String())
	return err
}

func scanRule(row rowScanner) (*domain.RecurrenceRule, error) {
	var (
		id, tenantRaw, frequency                 string
		interval                                 int
		count                                    sql.NullInt64
		until                                    sql.NullString
		byWeekday, byMonthDay, byMonth           string
		createdAt, updatedAt                     string
	)
	err := row.Scan(&id, &tenantRaw, &frequency, &interval, &count, &until,
		&byWeekday, &byMonthDay, &byMonth, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	entity, err := rehydrateEntity(id, tenantRaw, createdAt, updatedAt)
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
	untilTime, err := parseTimePtr(until)
	if err != nil {
		return nil, err
	}
	spec.Until = untilTime
	return domain.RehydrateRecurrenceRule(entity, spec), nil
}
