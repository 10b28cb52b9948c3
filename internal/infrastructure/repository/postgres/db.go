package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent instance startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversation_threads (
	thread_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	thread_type TEXT NOT NULL DEFAULT 'general',
	created_at TIMESTAMPTZ NOT NULL,
	last_activity TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_threads_user_active ON conversation_threads(user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_threads_last_activity ON conversation_threads(last_activity DESC);

CREATE TABLE IF NOT EXISTS memory_entries (
	id BIGSERIAL PRIMARY KEY,
	thread_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	tool_name TEXT,
	tool_parameters JSONB,
	tool_result JSONB,
	session_id TEXT,
	importance DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_thread_created ON memory_entries(thread_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_entries_user ON memory_entries(user_id);

CREATE TABLE IF NOT EXISTS entity_mentions (
	id BIGSERIAL PRIMARY KEY,
	entry_id BIGINT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL DEFAULT '',
	entity_name TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_mentions_entry ON entity_mentions(entry_id);
CREATE INDEX IF NOT EXISTS idx_mentions_type ON entity_mentions(entity_type);

CREATE TABLE IF NOT EXISTS user_patterns (
	user_id TEXT NOT NULL,
	pattern_key TEXT NOT NULL,
	pattern_value TEXT NOT NULL,
	evidence_count INTEGER NOT NULL DEFAULT 1,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	last_reinforced TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, pattern_key, pattern_value)
);

CREATE TABLE IF NOT EXISTS session_state (
	session_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	state_key TEXT NOT NULL,
	state_value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, state_key)
);

CREATE TABLE IF NOT EXISTS execution_plans (
	plan_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	goal TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	template_used TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	approval_required BOOLEAN NOT NULL DEFAULT FALSE,
	approved_by TEXT,
	steps JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_plans_user_created ON execution_plans(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS execution_traces (
	trace_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	goal TEXT NOT NULL,
	template_used TEXT NOT NULL DEFAULT '',
	plan_id TEXT,
	plan_status TEXT NOT NULL,
	steps_attempted INTEGER NOT NULL DEFAULT 0,
	steps_completed INTEGER NOT NULL DEFAULT 0,
	steps JSONB NOT NULL DEFAULT '[]'::jsonb,
	elapsed_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_user_created ON execution_traces(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_traces_steps ON execution_traces USING GIN (steps jsonb_path_ops);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
