package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KamdynS/agentconsole/state"
)

var _ state.Store = (*Store)(nil)

// Store persists threads, runs and records in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for databaseURL and verifies it.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool), nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Pool returns the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const threadColumns = `id, agent_id, user_id, task_id, description, current_run_id, last_run_id, created_at, updated_at`

func scanThread(row pgx.Row) (*state.Thread, error) {
	var t state.Thread
	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.UserID,
		&t.TaskID,
		&t.Description,
		&t.CurrentRunID,
		&t.LastRunID,
		&t.Created,
		&t.Updated,
	)
	if err != nil {
		return nil, err
	}
	t.Created = t.Created.UTC()
	t.Updated = t.Updated.UTC()
	return &t, nil
}

// SaveThread implements state.Store.
func (s *Store) SaveThread(ctx context.Context, t *state.Thread) error {
	query := `
		INSERT INTO agentconsole_threads (` + threadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			user_id = EXCLUDED.user_id,
			task_id = EXCLUDED.task_id,
			description = EXCLUDED.description,
			current_run_id = EXCLUDED.current_run_id,
			last_run_id = EXCLUDED.last_run_id,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.AgentID, t.UserID, t.TaskID, t.Description,
		t.CurrentRunID, t.LastRunID, t.Created, t.Updated,
	)
	if err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

// GetThread implements state.Store.
func (s *Store) GetThread(ctx context.Context, threadID string) (*state.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM agentconsole_threads WHERE id = $1`
	t, err := scanThread(s.pool.QueryRow(ctx, query, threadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, state.ErrThreadNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

// ListThreads implements state.Store.
func (s *Store) ListThreads(ctx context.Context, filter state.ThreadFilter) ([]*state.Thread, error) {
	where, args := threadWhere(filter)
	query := `SELECT ` + threadColumns + ` FROM agentconsole_threads` + where + ` ORDER BY created_at DESC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	out := make([]*state.Thread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return out, nil
}

func threadWhere(f state.ThreadFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TaskID != "" {
		add("task_id = $%d", f.TaskID)
	}
	if f.CreatedStart != nil {
		add("created_at >= $%d", *f.CreatedStart)
	}
	if f.CreatedEnd != nil {
		add("created_at <= $%d", *f.CreatedEnd)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// DeleteThread implements state.Store.
func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM agentconsole_threads WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("thread %s: %w", threadID, state.ErrThreadNotFound)
	}
	stmts := []string{
		`DELETE FROM agentconsole_idempotency_keys WHERE run_id IN (SELECT id FROM agentconsole_runs WHERE thread_id = $1)`,
		`DELETE FROM agentconsole_runs WHERE thread_id = $1`,
		`DELETE FROM agentconsole_records WHERE thread_id = $1`,
		`DELETE FROM agentconsole_thread_seq WHERE thread_id = $1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, threadID); err != nil {
			return fmt.Errorf("failed to delete thread data: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

const runColumns = `id, thread_id, agent_id, previous_run_id, input, output, error, state, created_at, finished_at`

func scanRun(row pgx.Row) (*state.Run, error) {
	var r state.Run
	var st string
	err := row.Scan(
		&r.ID,
		&r.ThreadID,
		&r.AgentID,
		&r.PreviousRunID,
		&r.Input,
		&r.Output,
		&r.Error,
		&st,
		&r.Created,
		&r.Finished,
	)
	if err != nil {
		return nil, err
	}
	r.State = state.RunState(st)
	r.Created = r.Created.UTC()
	if r.Finished != nil {
		f := r.Finished.UTC()
		r.Finished = &f
	}
	return &r, nil
}

// SaveRun implements state.Store.
func (s *Store) SaveRun(ctx context.Context, r *state.Run) error {
	query := `
		INSERT INTO agentconsole_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			agent_id = EXCLUDED.agent_id,
			previous_run_id = EXCLUDED.previous_run_id,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at,
			finished_at = EXCLUDED.finished_at
	`
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.ThreadID, r.AgentID, r.PreviousRunID, r.Input,
		r.Output, r.Error, string(r.State), r.Created, r.Finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun implements state.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (*state.Run, error) {
	query := `SELECT ` + runColumns + ` FROM agentconsole_runs WHERE id = $1`
	r, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, state.ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

// ListRuns implements state.Store.
func (s *Store) ListRuns(ctx context.Context, threadID string) ([]*state.Run, error) {
	query := `SELECT ` + runColumns + ` FROM agentconsole_runs WHERE thread_id = $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.pool.Query(ctx, query, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*state.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}

// AppendRecord implements state.Store. The sequence row is locked for the
// duration of the transaction so concurrent appends serialize per thread.
func (s *Store) AppendRecord(ctx context.Context, rec *state.Record) error {
	eventJSON, err := json.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO agentconsole_thread_seq (thread_id, seq) VALUES ($1, 1)
		ON CONFLICT (thread_id) DO UPDATE SET seq = agentconsole_thread_seq.seq + 1
		RETURNING seq
	`, rec.ThreadID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO agentconsole_records (id, thread_id, run_id, sequence_num, ts, event, run_complete)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.ThreadID, rec.RunID, seq, rec.Timestamp, eventJSON, rec.RunComplete)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	rec.SequenceNum = seq
	return nil
}

// GetRecords implements state.Store.
func (s *Store) GetRecords(ctx context.Context, threadID string) ([]*state.Record, error) {
	return s.GetRecordsSince(ctx, threadID, 0)
}

// GetRecordsSince implements state.Store.
func (s *Store) GetRecordsSince(ctx context.Context, threadID string, since int64) ([]*state.Record, error) {
	return s.queryRecords(ctx, `
		SELECT id, thread_id, run_id, sequence_num, ts, event, run_complete
		FROM agentconsole_records
		WHERE thread_id = $1 AND sequence_num > $2
		ORDER BY sequence_num ASC
	`, threadID, since)
}

// GetRecordsWindow implements state.Store.
func (s *Store) GetRecordsWindow(ctx context.Context, threadID string, since int64, limit int) ([]*state.Record, int64, error) {
	if limit <= 0 {
		return []*state.Record{}, since, nil
	}
	out, err := s.queryRecords(ctx, `
		SELECT id, thread_id, run_id, sequence_num, ts, event, run_complete
		FROM agentconsole_records
		WHERE thread_id = $1 AND sequence_num > $2
		ORDER BY sequence_num ASC
		LIMIT $3
	`, threadID, since, limit)
	if err != nil {
		return nil, since, err
	}
	next := since
	if len(out) > 0 {
		next = out[len(out)-1].SequenceNum
	}
	return out, next, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*state.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	out := make([]*state.Record, 0)
	for rows.Next() {
		var rec state.Record
		var eventJSON []byte
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.RunID, &rec.SequenceNum, &rec.Timestamp, &eventJSON, &rec.RunComplete); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal(eventJSON, &rec.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	return out, nil
}

// MapIdempotencyKey implements state.Store.
func (s *Store) MapIdempotencyKey(ctx context.Context, key string, runID string) (bool, string, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO agentconsole_idempotency_keys (key, run_id) VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, runID)
	if err != nil {
		return false, "", fmt.Errorf("failed to map idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, "", nil
	}
	var existing string
	err = s.pool.QueryRow(ctx, `SELECT run_id FROM agentconsole_idempotency_keys WHERE key = $1`, key).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		// removed concurrently
		return s.MapIdempotencyKey(ctx, key, runID)
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return false, existing, nil
}
