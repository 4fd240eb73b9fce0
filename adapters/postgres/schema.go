// Package pgstore implements state.Store on PostgreSQL using pgx.
package pgstore

// Schema creates the tables used by Store. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS agentconsole_threads (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	user_id        TEXT NOT NULL DEFAULT '',
	task_id        TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	current_run_id TEXT NOT NULL DEFAULT '',
	last_run_id    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agentconsole_threads_created_idx ON agentconsole_threads (created_at DESC);

CREATE TABLE IF NOT EXISTS agentconsole_runs (
	id              TEXT PRIMARY KEY,
	thread_id       TEXT NOT NULL,
	agent_id        TEXT NOT NULL,
	previous_run_id TEXT NOT NULL DEFAULT '',
	input           TEXT NOT NULL,
	output          TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	state           TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS agentconsole_runs_thread_idx ON agentconsole_runs (thread_id, created_at);

CREATE TABLE IF NOT EXISTS agentconsole_thread_seq (
	thread_id TEXT PRIMARY KEY,
	seq       BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS agentconsole_records (
	id           TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	sequence_num BIGINT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	event        JSONB NOT NULL,
	run_complete BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (thread_id, sequence_num)
);

CREATE TABLE IF NOT EXISTS agentconsole_idempotency_keys (
	key        TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS agentconsole_idempotency_run_idx ON agentconsole_idempotency_keys (run_id);
`
