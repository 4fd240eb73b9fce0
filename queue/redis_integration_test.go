package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis queue integration test")
	}
	q, err := NewRedisQueue(RedisConfig{
		Addr:       addr,
		Namespace:  fmt.Sprintf("test-%d", time.Now().UnixNano()),
		PopTimeout: 200 * time.Millisecond,
		EnableDLQ:  true,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRedisQueue_AckNack(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	task := NewChatRunTask("th-1", "run-1", "hi")
	if err := q.Enqueue(ctx, "runs", task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := q.DequeueWithTimeout(ctx, "runs", time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.ID != task.ID || got.RunID != "run-1" || got.Attempts != 1 {
		t.Fatalf("unexpected task %+v", got)
	}

	if err := q.Nack(ctx, "runs", got.ID, true); err != nil {
		t.Fatalf("nack: %v", err)
	}
	again, err := q.DequeueWithTimeout(ctx, "runs", time.Second)
	if err != nil {
		t.Fatalf("re-dequeue: %v", err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", again.Attempts)
	}
	if err := q.Ack(ctx, "runs", again.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, "runs", again.ID); err == nil {
		t.Fatalf("expected error acking twice")
	}

	if _, err := q.DequeueWithTimeout(ctx, "runs", 200*time.Millisecond); !errors.Is(err, ErrDequeueTimeout) {
		t.Fatalf("expected ErrDequeueTimeout, got %v", err)
	}
}

func TestRedisQueue_DLQ(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, "runs", NewChatRunTask("th-1", "run-1", "hi"))
	got, err := q.DequeueWithTimeout(ctx, "runs", time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Nack(ctx, "runs", got.ID, false); err != nil {
		t.Fatalf("nack: %v", err)
	}
	n, err := q.rdb.LLen(ctx, q.keyDLQ("runs")).Result()
	if err != nil || n != 1 {
		t.Fatalf("dlq len=%d err=%v", n, err)
	}
	if l, _ := q.Len(ctx, "runs"); l != 0 {
		t.Fatalf("expected empty queue, got %d", l)
	}
}
