package persistence

import (
	"context"
	"database/sql"
)

// sqliteSchema is the full relational layout for local mode and tests.
// Every tenant-owned table carries tenant_id, and external ids are unique
// per (tenant, provider) where present.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tenant (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenant (id),
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	kind TEXT NOT NULL,
	manages_available_windows INTEGER NOT NULL DEFAULT 0,
	capacity INTEGER,
	primary_child_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_external
	ON calendar (tenant_id, external_id, provider) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS children_calendar_relationship (
	bundle_id TEXT NOT NULL,
	child_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, bundle_id, child_id)
);

CREATE TABLE IF NOT EXISTS recurrence_rule (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	frequency TEXT NOT NULL,
	repeat_interval INTEGER NOT NULL DEFAULT 1,
	occurrence_count INTEGER,
	until_time TEXT,
	by_weekday TEXT NOT NULL DEFAULT '',
	by_month_day TEXT NOT NULL DEFAULT '',
	by_month TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_event (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	external_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'confirmed',
	recurrence_rule_id TEXT,
	parent_event_id TEXT,
	recurrence_id TEXT,
	is_recurring_exception INTEGER NOT NULL DEFAULT 0,
	bulk_modification_parent_id TEXT,
	meta TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_event_calendar_range
	ON calendar_event (tenant_id, calendar_id, start_time, end_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_event_external
	ON calendar_event (tenant_id, external_id) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS blocked_time (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	reason TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL DEFAULT '',
	recurrence_rule_id TEXT,
	parent_block_id TEXT,
	recurrence_id TEXT,
	is_recurring_exception INTEGER NOT NULL DEFAULT 0,
	bulk_modification_parent_id TEXT,
	meta TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blocked_calendar_range
	ON blocked_time (tenant_id, calendar_id, start_time, end_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_blocked_external
	ON blocked_time (tenant_id, external_id) WHERE external_id <> '';

CREATE TABLE IF NOT EXISTS available_time (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	recurrence_rule_id TEXT,
	parent_window_id TEXT,
	recurrence_id TEXT,
	is_recurring_exception INTEGER NOT NULL DEFAULT 0,
	bulk_modification_parent_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_available_calendar_range
	ON available_time (tenant_id, calendar_id, start_time, end_time);

CREATE TABLE IF NOT EXISTS event_attendance (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS external_attendee (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS event_external_attendance (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	attendee_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resource_allocation (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	resource_calendar_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_sync (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	status TEXT NOT NULL DEFAULT 'not_started',
	should_update_events INTEGER NOT NULL DEFAULT 0,
	next_sync_token TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at TEXT,
	finished_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_calendar_status
	ON calendar_sync (tenant_id, calendar_id, status);

CREATE TABLE IF NOT EXISTS webhook_subscription (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	calendar_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	external_subscription_id TEXT NOT NULL,
	external_resource_id TEXT NOT NULL DEFAULT '',
	callback_url TEXT NOT NULL,
	channel_id TEXT NOT NULL DEFAULT '',
	verification_token TEXT NOT NULL DEFAULT '',
	expires_at TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	last_notification_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (tenant_id, calendar_id, provider)
);

CREATE TABLE IF NOT EXISTS webhook_event (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	event_type TEXT NOT NULL DEFAULT 'unknown',
	external_calendar_id TEXT NOT NULL DEFAULT 'unknown',
	raw_payload BLOB,
	headers TEXT NOT NULL DEFAULT '{}',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	processed_at TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	calendar_sync_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// EnsureSQLiteSchema creates all tables when missing.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, sqliteSchema)
	return err
}
