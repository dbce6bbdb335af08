// Package persistence implements the calendar store for PostgreSQL (pgx)
// and SQLite (local mode and tests). Every statement binds tenant_id, in
// lookups and joins alike, so a query that forgets the tenant cannot be
// written through this layer.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// timeLayout stores instants as UTC RFC 3339 with a fixed-width fraction so
// string comparison in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements domain.Store over database/sql with the modernc
// SQLite driver.
type SQLiteStore struct {
	db *sql.DB
	q  sqlQuerier
}

// NewSQLiteStore creates a store over an open database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

// WithinTx runs fn against a transaction-bound store. Nested calls reuse
// the surrounding transaction.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txStore := &SQLiteStore{db: s.db, q: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Tenants() domain.TenantRepository                 { return &sqliteTenantRepo{q: s.q} }
func (s *SQLiteStore) Calendars() domain.CalendarRepository             { return &sqliteCalendarRepo{q: s.q} }
func (s *SQLiteStore) RecurrenceRules() domain.RecurrenceRuleRepository { return &sqliteRuleRepo{q: s.q} }
func (s *SQLiteStore) Events() domain.EventRepository                   { return &sqliteEventRepo{q: s.q} }
func (s *SQLiteStore) BlockedTimes() domain.BlockedTimeRepository       { return &sqliteBlockedRepo{q: s.q} }
func (s *SQLiteStore) AvailableTimes() domain.AvailableTimeRepository   { return &sqliteAvailableRepo{q: s.q} }
func (s *SQLiteStore) Attendances() domain.AttendanceRepository         { return &sqliteAttendanceRepo{q: s.q} }
func (s *SQLiteStore) Syncs() domain.SyncRepository                     { return &sqliteSyncRepo{q: s.q} }
func (s *SQLiteStore) Webhooks() domain.WebhookRepository               { return &sqliteWebhookRepo{q: s.q} }

type sqliteTenantRepo struct{ q sqlQuerier }

func (r *sqliteTenantRepo) Create(ctx context.Context, tenant domain.TenantID) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO tenant (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		tenant.String(), formatTime(time.Now().UTC()))
	return err
}

func (r *sqliteTenantRepo) Exists(ctx context.Context, tenant domain.TenantID) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `SELECT 1 FROM tenant WHERE id = ?`, tenant.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *sqliteTenantRepo) ListTenants(ctx context.Context) ([]domain.TenantID, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM tenant ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []domain.TenantID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		tenant, err := domain.ParseTenantID(raw)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// Shared scan/format helpers.

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		// Values written by other tools at coarser precision still load.
		t, err = time.Parse(time.RFC3339Nano, raw)
	}
	return t.UTC(), err
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func uuidPtrString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseUUIDPtr(raw sql.NullString) (*uuid.UUID, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func metaJSON(meta domain.Meta) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseMeta(raw string) domain.Meta {
	meta := domain.Meta{}
	if raw != "" && raw != "{}" {
		_ = json.Unmarshal([]byte(raw), &meta)
	}
	return meta
}

func joinIntsCSV(values []int) string {
	if len(values) == 0 {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitIntsCSV(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func joinWeekdaysCSV(days []domain.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

func splitWeekdaysCSV(raw string) []domain.Weekday {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]domain.Weekday, 0, len(parts))
	for _, p := range parts {
		out = append(out, domain.Weekday(p))
	}
	return out
}

// placeholders builds a "?, ?, ?" list for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func uuidArgs(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
