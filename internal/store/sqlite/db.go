// Package sqlite implements the embedded default Stores backend used when
// no Postgres DSN is configured — a single-file database requiring no
// external infrastructure, matching the standalone deployment target.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/fieldnote-ai/warden/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_key TEXT PRIMARY KEY,
	messages TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	compaction_count INTEGER NOT NULL DEFAULT 0,
	memory_flush_compaction_count INTEGER NOT NULL DEFAULT 0,
	memory_flush_at INTEGER NOT NULL DEFAULT 0,
	label TEXT NOT NULL DEFAULT '',
	permission_mode_override TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	context_window INTEGER NOT NULL DEFAULT 0,
	last_prompt_tokens INTEGER NOT NULL DEFAULT 0,
	last_message_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	plan TEXT NOT NULL DEFAULT '[]',
	created_by TEXT NOT NULL DEFAULT '',
	schedule_id TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS goal_checkpoints (
	id TEXT PRIMARY KEY,
	goal_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	success_criteria TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	result_summary TEXT NOT NULL DEFAULT '',
	note TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	kind TEXT NOT NULL,
	goal_title TEXT NOT NULL DEFAULT '',
	goal_prompt TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	last_run_at TEXT,
	next_run_at TEXT
);

CREATE TABLE IF NOT EXISTS schedule_runs (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS mind_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cycle TEXT NOT NULL DEFAULT 'sleeping',
	scratchpad TEXT NOT NULL DEFAULT '',
	last_wake_at TEXT,
	next_wake_at TEXT,
	paused_reason TEXT NOT NULL DEFAULT '',
	consecutive_idle INTEGER NOT NULL DEFAULT 0,
	budget_remaining INTEGER NOT NULL DEFAULT 0,
	budget_date TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS usage_log (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	task_type TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	session_key TEXT NOT NULL DEFAULT '',
	fallback_from TEXT NOT NULL DEFAULT '',
	finish_reason TEXT NOT NULL DEFAULT 'stop',
	latency_ms INTEGER NOT NULL DEFAULT 0,
	suspected_truncated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS email_log (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	to_addr TEXT NOT NULL,
	subject TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
`

// OpenDB opens (creating if needed) the embedded sqlite database file and
// applies the schema. Unlike the Postgres backend there is no migration
// ledger — CREATE TABLE IF NOT EXISTS is enough for a single-file, single-
// process embedded store.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return db, nil
}

// NewStores constructs all six Stores backed by the embedded sqlite database.
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Sessions: NewSessionStore(db),
		Goals:    NewGoalStore(db),
		Schedule: NewScheduleStore(db),
		Mind:     NewMindStore(db),
		Usage:    NewUsageStore(db),
		EmailLog: NewEmailLogStore(db),
	}, nil
}
