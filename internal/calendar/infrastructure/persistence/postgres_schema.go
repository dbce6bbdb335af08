package persistence

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema mirrors the SQLite layout with native Postgres types.
// Deployments normally manage this through their migration tooling; the
// bootstrap path applies it for fresh development databases.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS tenant (
	id UUID PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenant (id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	kind TEXT NOT NULL,
	manages_available_windows BOOLEAN NOT NULL DEFAULT FALSE,
	capacity INTEGER,
	primary_child_id UUID,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	UNIQUE (id, tenant_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_external
	ON calendar (tenant_id, external_id, provider) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS children_calendar_relationship (
	bundle_id UUID NOT NULL,
	child_id UUID NOT NULL,
	tenant_id UUID NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, bundle_id, child_id),
	FOREIGN KEY (bundle_id, tenant_id) REFERENCES calendar (id, tenant_id),
	FOREIGN KEY (child_id, tenant_id) REFERENCES calendar (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS recurrence_rule (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	frequency TEXT NOT NULL,
	repeat_interval INTEGER NOT NULL DEFAULT 1,
	occurrence_count INTEGER,
	until_time TIMESTAMPTZ,
	by_weekday TEXT NOT NULL DEFAULT '',
	by_month_day TEXT NOT NULL DEFAULT '',
	by_month TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS calendar_event (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	calendar_id UUID NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	external_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'confirmed',
	recurrence_rule_id UUID,
	parent_event_id UUID,
	recurrence_id TIMESTAMPTZ,
	is_recurring_exception BOOLEAN NOT NULL DEFAULT FALSE,
	bulk_modification_parent_id UUID,
	meta JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	UNIQUE (id, tenant_id),
	FOREIGN KEY (calendar_id, tenant_id) REFERENCES calendar (id, tenant_id),
	FOREIGN KEY (recurrence_rule_id, tenant_id) REFERENCES recurrence_rule (id, tenant_id),
	FOREIGN KEY (parent_event_id, tenant_id) REFERENCES calendar_event (id, tenant_id),
	FOREIGN KEY (bulk_modification_parent_id, tenant_id) REFERENCES calendar_event (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_event_calendar_range
	ON calendar_event (tenant_id, calendar_id, start_time, end_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_event_external
	ON calendar_event (tenant_id, external_id) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS blocked_time (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	calendar_id UUID NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	reason TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	recurrence_rule_id UUID,
	parent_block_id UUID,
	recurrence_id TIMESTAMPTZ,
	is_recurring_exception BOOLEAN NOT NULL DEFAULT FALSE,
	bulk_modification_parent_id UUID,
	meta JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (id, tenant_id),
	FOREIGN KEY (calendar_id, tenant_id) REFERENCES calendar (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_blocked_calendar_range
	ON blocked_time (tenant_id, calendar_id, start_time, end_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocked_external
	ON blocked_time (tenant_id, external_id) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS available_time (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	calendar_id UUID NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	recurrence_rule_id UUID,
	parent_window_id UUID,
	recurrence_id TIMESTAMPTZ,
	is_recurring_exception BOOLEAN NOT NULL DEFAULT FALSE,
	bulk_modification_parent_id UUID,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (calendar_id, tenant_id) REFERENCES calendar (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_available_calendar_range
	ON available_time (tenant_id, calendar_id, start_time, end_time);

CREATE TABLE IF NOT EXISTS event_attendance (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	event_id UUID NOT NULL,
	user_id UUID NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (event_id, tenant_id) REFERENCES calendar_event (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS external_attendee (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (id, tenant_id),
	UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS event_external_attendance (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	event_id UUID NOT NULL,
	attendee_id UUID NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (event_id, tenant_id) REFERENCES calendar_event (id, tenant_id),
	FOREIGN KEY (attendee_id, tenant_id) REFERENCES external_attendee (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS resource_allocation (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	event_id UUID NOT NULL,
	resource_calendar_id UUID NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (event_id, tenant_id) REFERENCES calendar_event (id, tenant_id),
	FOREIGN KEY (resource_calendar_id, tenant_id) REFERENCES calendar (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS calendar_sync (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	calendar_id UUID NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	status TEXT NOT NULL DEFAULT 'not_started',
	should_update_events BOOLEAN NOT NULL DEFAULT FALSE,
	next_sync_token TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (id, tenant_id),
	FOREIGN KEY (calendar_id, tenant_id) REFERENCES calendar (id, tenant_id)
);
CREATE INDEX IF NOT EXISTS idx_sync_calendar_status
	ON calendar_sync (tenant_id, calendar_id, status);

CREATE TABLE IF NOT EXISTS webhook_subscription (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	calendar_id UUID NOT NULL,
	provider TEXT NOT NULL,
	external_subscription_id TEXT NOT NULL,
	external_resource_id TEXT NOT NULL DEFAULT '',
	callback_url TEXT NOT NULL,
	channel_id TEXT NOT NULL DEFAULT '',
	verification_token TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_notification_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (tenant_id, calendar_id, provider),
	FOREIGN KEY (calendar_id, tenant_id) REFERENCES calendar (id, tenant_id)
);

CREATE TABLE IF NOT EXISTS webhook_event (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	provider TEXT NOT NULL,
	event_type TEXT NOT NULL DEFAULT 'unknown',
	external_calendar_id TEXT NOT NULL DEFAULT 'unknown',
	raw_payload BYTEA,
	headers JSONB NOT NULL DEFAULT '{}',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	processed_at TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT '',
	calendar_sync_id UUID,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (calendar_sync_id, tenant_id) REFERENCES calendar_sync (id, tenant_id)
);
`

// EnsurePostgresSchema creates all tables when missing.
func EnsurePostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, postgresSchema)
	return err
}
