package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a LIST-based queue using Redis.
// Producer: LPUSH; Consumer: BRPOP with timeout. Dequeued payloads are parked
// in a per-queue inflight hash keyed by task ID until Ack or Nack.
type RedisQueue struct {
	rdb   redis.UniversalClient
	ns    string
	popTO time.Duration
	dlq   bool
}

// RedisConfig configures the RedisQueue.
type RedisConfig struct {
	Addr       string
	Username   string
	Password   string
	DB         int
	Namespace  string
	PopTimeout time.Duration
	// EnableDLQ keeps tasks Nack'ed without requeue in a dead letter list.
	EnableDLQ bool
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	return NewRedisQueueWithClient(rdb, cfg), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(rdb redis.UniversalClient, cfg RedisConfig) *RedisQueue {
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "agentconsole"
	}
	return &RedisQueue{rdb: rdb, ns: cfg.Namespace, popTO: cfg.PopTimeout, dlq: cfg.EnableDLQ}
}

func (q *RedisQueue) keyTasks(queueName string) string {
	return fmt.Sprintf("%s:queue:%s", q.ns, queueName)
}
func (q *RedisQueue) keyInFlight(queueName string) string {
	return fmt.Sprintf("%s:inflight:%s", q.ns, queueName)
}
func (q *RedisQueue) keyDLQ(queueName string) string {
	return fmt.Sprintf("%s:dlq:%s", q.ns, queueName)
}

// Enqueue adds a task to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, task *Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	b, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.keyTasks(queueName), string(b)).Err()
}

// DequeueWithTimeout pops a task and parks it in the inflight hash.
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Task, error) {
	if timeout <= 0 {
		timeout = q.popTO
	}
	res, err := q.rdb.BRPop(ctx, timeout, q.keyTasks(queueName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDequeueTimeout
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result")
	}
	var t Task
	if err := json.Unmarshal([]byte(res[1]), &t); err != nil {
		return nil, err
	}
	t.Attempts++
	b, err := json.Marshal(&t)
	if err != nil {
		return nil, err
	}
	if err := q.rdb.HSet(ctx, q.keyInFlight(queueName), t.ID, string(b)).Err(); err != nil {
		return nil, fmt.Errorf("failed to park task %s: %w", t.ID, err)
	}
	return &t, nil
}

// Dequeue is a convenience for DequeueWithTimeout with default timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Task, error) {
	return q.DequeueWithTimeout(ctx, queueName, q.popTO)
}

// Ack removes a task from the inflight hash.
func (q *RedisQueue) Ack(ctx context.Context, queueName string, taskID string) error {
	n, err := q.rdb.HDel(ctx, q.keyInFlight(queueName), taskID).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s not found in pending", taskID)
	}
	return nil
}

// Nack removes a task from the inflight hash and requeues it or moves it to the DLQ.
func (q *RedisQueue) Nack(ctx context.Context, queueName string, taskID string, requeue bool) error {
	inflight := q.keyInFlight(queueName)
	payload, err := q.rdb.HGet(ctx, inflight, taskID).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("task %s not found in pending", taskID)
	}
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, inflight, taskID)
		switch {
		case requeue:
			p.LPush(ctx, q.keyTasks(queueName), payload)
		case q.dlq:
			p.LPush(ctx, q.keyDLQ(queueName), payload)
		}
		return nil
	})
	return err
}

// Len returns pending tasks length. Inflight tasks are not counted.
func (q *RedisQueue) Len(ctx context.Context, queueName string) (int, error) {
	n, err := q.rdb.LLen(ctx, q.keyTasks(queueName)).Result()
	return int(n), err
}

// Close closes the Redis client.
func (q *RedisQueue) Close() error { return q.rdb.Close() }
