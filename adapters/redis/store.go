package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/KamdynS/agentconsole/state"
)

// Ensure Store implements state.Store
var _ state.Store = (*Store)(nil)

// ---------- Key helpers ----------

func (s *Store) threadKey(id string) string { return fmt.Sprintf("%s:thread:%s", s.prefix, id) }
func (s *Store) threadsIdxKey() string      { return fmt.Sprintf("%s:threads", s.prefix) }
func (s *Store) threadRunsKey(id string) string {
	return fmt.Sprintf("%s:thread:%s:runs", s.prefix, id)
}
func (s *Store) recordsKey(id string) string {
	return fmt.Sprintf("%s:thread:%s:records", s.prefix, id)
}
func (s *Store) seqKey(id string) string     { return fmt.Sprintf("%s:thread:%s:seq", s.prefix, id) }
func (s *Store) runKey(id string) string     { return fmt.Sprintf("%s:run:%s", s.prefix, id) }
func (s *Store) runIdemKey(id string) string { return fmt.Sprintf("%s:run:%s:idem", s.prefix, id) }
func (s *Store) idemKey(key string) string   { return fmt.Sprintf("%s:idem:%s", s.prefix, key) }

// ---------- Threads ----------

func (s *Store) SaveThread(ctx context.Context, t *state.Thread) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.threadKey(t.ID), b, 0)
	pipe.SAdd(ctx, s.threadsIdxKey(), t.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline save thread: %w", err)
	}
	return nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) (*state.Thread, error) {
	v, err := s.rdb.Get(ctx, s.threadKey(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("thread %s: %w", threadID, state.ErrThreadNotFound)
		}
		return nil, fmt.Errorf("redis get thread: %w", err)
	}
	var t state.Thread
	if err := json.Unmarshal(v, &t); err != nil {
		return nil, fmt.Errorf("unmarshal thread: %w", err)
	}
	return &t, nil
}

func (s *Store) ListThreads(ctx context.Context, filter state.ThreadFilter) ([]*state.Thread, error) {
	ids, err := s.rdb.SMembers(ctx, s.threadsIdxKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers threads: %w", err)
	}
	out := make([]*state.Thread, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(ctx, s.threadKey(id)))
	}
	// individual commands are checked below; a missing key surfaces as redis.Nil
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline list threads: %w", err)
	}
	for _, cmd := range cmds {
		v, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var t state.Thread
		if uerr := json.Unmarshal(v, &t); uerr != nil {
			continue
		}
		if filter.Match(&t) {
			out = append(out, &t)
		}
	}
	state.SortThreads(out)
	return out, nil
}

func (s *Store) DeleteThread(ctx context.Context, threadID string) error {
	n, err := s.rdb.Exists(ctx, s.threadKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists thread: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("thread %s: %w", threadID, state.ErrThreadNotFound)
	}
	runIDs, err := s.rdb.ZRange(ctx, s.threadRunsKey(threadID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis zrange runs: %w", err)
	}

	// Release idempotency keys bound to the thread's runs.
	idemKeys := make([]string, 0)
	if len(runIDs) > 0 {
		pipe := s.rdb.Pipeline()
		cmds := make([]*redis.StringCmd, 0, len(runIDs))
		for _, id := range runIDs {
			cmds = append(cmds, pipe.Get(ctx, s.runIdemKey(id)))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis pipeline idempotency lookup: %w", err)
		}
		for _, cmd := range cmds {
			if key, err := cmd.Result(); err == nil && key != "" {
				idemKeys = append(idemKeys, s.idemKey(key))
			}
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.threadKey(threadID), s.threadRunsKey(threadID), s.recordsKey(threadID), s.seqKey(threadID))
	pipe.SRem(ctx, s.threadsIdxKey(), threadID)
	for _, id := range runIDs {
		pipe.Del(ctx, s.runKey(id), s.runIdemKey(id))
	}
	if len(idemKeys) > 0 {
		pipe.Del(ctx, idemKeys...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline delete thread: %w", err)
	}
	return nil
}

// ---------- Runs ----------

func (s *Store) SaveRun(ctx context.Context, run *state.Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.runKey(run.ID), b, 0)
	pipe.ZAdd(ctx, s.threadRunsKey(run.ThreadID), redis.Z{
		Score:  float64(run.Created.UnixNano()),
		Member: run.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*state.Run, error) {
	v, err := s.rdb.Get(ctx, s.runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", runID, state.ErrRunNotFound)
		}
		return nil, fmt.Errorf("redis get run: %w", err)
	}
	var run state.Run
	if err := json.Unmarshal(v, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, threadID string) ([]*state.Run, error) {
	ids, err := s.rdb.ZRange(ctx, s.threadRunsKey(threadID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis zrange runs: %w", err)
	}
	out := make([]*state.Run, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.Get(ctx, s.runKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline list runs: %w", err)
	}
	for _, cmd := range cmds {
		v, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var run state.Run
		if uerr := json.Unmarshal(v, &run); uerr != nil {
			continue
		}
		out = append(out, &run)
	}
	return out, nil
}

// ---------- Records ----------

func (s *Store) AppendRecord(ctx context.Context, rec *state.Record) error {
	// SequenceNum is assigned by the script
	b, err := rec.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	keys := []string{s.seqKey(rec.ThreadID), s.recordsKey(rec.ThreadID)}
	args := []interface{}{string(b)}

	var seq int64
	if s.appendSHA != "" {
		seq, err = s.rdb.EvalSha(ctx, s.appendSHA, keys, args...).Int64()
	}
	if s.appendSHA == "" || err != nil {
		// NOSCRIPT or no cached SHA
		seq, err = s.rdb.Eval(ctx, luaAppendRecord, keys, args...).Int64()
		if err != nil {
			return fmt.Errorf("redis eval append record: %w", err)
		}
	}
	rec.SequenceNum = seq
	return nil
}

func (s *Store) GetRecords(ctx context.Context, threadID string) ([]*state.Record, error) {
	return s.GetRecordsSince(ctx, threadID, 0)
}

func (s *Store) GetRecordsSince(ctx context.Context, threadID string, since int64) ([]*state.Record, error) {
	// ZRANGEBYSCORE (since, +inf] using exclusive min
	opt := &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}
	vals, err := s.rdb.ZRangeByScore(ctx, s.recordsKey(threadID), opt).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore records: %w", err)
	}
	out := make([]*state.Record, 0, len(vals))
	for _, v := range vals {
		rec, uerr := state.FromJSON([]byte(v))
		if uerr != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetRecordsWindow implements state.Store.
func (s *Store) GetRecordsWindow(ctx context.Context, threadID string, since int64, limit int) ([]*state.Record, int64, error) {
	if limit <= 0 {
		return []*state.Record{}, since, nil
	}
	opt := &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(since, 10),
		Max:   "+inf",
		Count: int64(limit),
	}
	vals, err := s.rdb.ZRangeByScore(ctx, s.recordsKey(threadID), opt).Result()
	if err != nil {
		return nil, since, fmt.Errorf("redis zrangebyscore records: %w", err)
	}
	out := make([]*state.Record, 0, len(vals))
	next := since
	for _, v := range vals {
		rec, uerr := state.FromJSON([]byte(v))
		if uerr != nil {
			continue
		}
		out = append(out, rec)
		next = rec.SequenceNum
	}
	return out, next, nil
}

// ---------- Idempotency ----------

func (s *Store) MapIdempotencyKey(ctx context.Context, key string, runID string) (bool, string, error) {
	ok, err := s.rdb.SetNX(ctx, s.idemKey(key), runID, s.idemTTL).Result()
	if err != nil {
		return false, "", fmt.Errorf("redis setnx idempotency key: %w", err)
	}
	if ok {
		if err := s.rdb.Set(ctx, s.runIdemKey(runID), key, s.idemTTL).Err(); err != nil {
			return false, "", fmt.Errorf("redis set run idempotency key: %w", err)
		}
		return true, "", nil
	}
	val, err := s.rdb.Get(ctx, s.idemKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET; retry once
			return s.MapIdempotencyKey(ctx, key, runID)
		}
		return false, "", fmt.Errorf("redis get idempotency key: %w", err)
	}
	return false, val, nil
}
