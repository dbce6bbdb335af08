package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	shared "github.com/meridianhq/meridian/internal/shared/domain"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements domain.Store over pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    pgxQuerier
}

// NewPostgresStore creates a store over a connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// WithinTx runs fn against a transaction-bound store. Nested calls reuse
// the surrounding transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Store) error) error {
	if _, nested := s.q.(pgx.Tx); nested {
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	txStore := &PostgresStore{pool: s.pool, q: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Tenants() domain.TenantRepository                 { return &pgTenantRepo{q: s.q} }
func (s *PostgresStore) Calendars() domain.CalendarRepository             { return &pgCalendarRepo{q: s.q} }
func (s *PostgresStore) RecurrenceRules() domain.RecurrenceRuleRepository { return &pgRuleRepo{q: s.q} }
func (s *PostgresStore) Events() domain.EventRepository                   { return &pgEventRepo{q: s.q} }
func (s *PostgresStore) BlockedTimes() domain.BlockedTimeRepository       { return &pgBlockedRepo{q: s.q} }
func (s *PostgresStore) AvailableTimes() domain.AvailableTimeRepository   { return &pgAvailableRepo{q: s.q} }
func (s *PostgresStore) Attendances() domain.AttendanceRepository         { return &pgAttendanceRepo{q: s.q} }
func (s *PostgresStore) Syncs() domain.SyncRepository                     { return &pgSyncRepo{q: s.q} }
func (s *PostgresStore) Webhooks() domain.WebhookRepository               { return &pgWebhookRepo{q: s.q} }

type pgTenantRepo struct{ q pgxQuerier }

func (r *pgTenantRepo) Create(ctx context.Context, tenant domain.TenantID) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO tenant (id, created_at) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		tenant.UUID(), time.Now().UTC())
	return err
}

func (r *pgTenantRepo) Exists(ctx context.Context, tenant domain.TenantID) (bool, error) {
	var one int
	err := r.q.QueryRow(ctx, `SELECT 1 FROM tenant WHERE id = $1`, tenant.UUID()).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *pgTenantRepo) ListTenants(ctx context.Context) ([]domain.TenantID, error) {
	rows, err := r.q.Query(ctx, `SELECT id FROM tenant ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []domain.TenantID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenant, err := domain.NewTenantID(id)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

// pgRehydrateEntity builds a base entity from native pg column values.
func pgRehydrateEntity(id, tenantID uuid.UUID, createdAt, updatedAt time.Time) (shared.BaseEntity, error) {
	tenant, err := domain.NewTenantID(tenantID)
	if err != nil {
		return shared.BaseEntity{}, err
	}
	return shared.RehydrateBaseEntity(id, tenant, createdAt.UTC(), updatedAt.UTC()), nil
}

// pgPlaceholders renders $start..$start+n-1 for IN clauses.
func pgPlaceholders(start, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "$" + strconv.Itoa(start+i)
	}
	return out
}

func pgUUIDArgs(ids []uuid.UUID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func pgStringArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
