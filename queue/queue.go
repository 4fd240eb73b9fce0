// Package queue provides task queue interfaces and implementations for
// handing runs to workers.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDequeueTimeout is returned when no task arrived within the timeout.
	ErrDequeueTimeout = errors.New("dequeue timeout")
	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrTaskNotInFlight is returned when acking a task that is not checked out.
	ErrTaskNotInFlight = errors.New("task not in flight")
)

// TaskType represents the type of task
type TaskType string

const (
	// TaskTypeChatRun executes a started agent run.
	TaskTypeChatRun TaskType = "chat_run"
)

// Task represents a unit of work to be executed
type Task struct {
	ID          string                 `json:"id"`
	Type        TaskType               `json:"type"`
	ThreadID    string                 `json:"thread_id"`
	RunID       string                 `json:"run_id"`
	Input       string                 `json:"input,omitempty"`
	Metadata    map[string]interface{} `json:"metadata"`
	EnqueueTime time.Time              `json:"enqueue_time"`
	Attempts    int                    `json:"attempts"`
}

// TaskResult represents the result of task execution
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	ThreadID string        `json:"thread_id"`
	RunID    string        `json:"run_id"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Queue defines the interface for task distribution
type Queue interface {
	// Enqueue adds a task to the queue
	Enqueue(ctx context.Context, queueName string, task *Task) error

	// Dequeue retrieves a task from the queue (blocking)
	Dequeue(ctx context.Context, queueName string) (*Task, error)

	// DequeueWithTimeout retrieves a task with a timeout
	DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Task, error)

	// Ack acknowledges successful task completion
	Ack(ctx context.Context, queueName string, taskID string) error

	// Nack indicates task failure and potentially requeues
	Nack(ctx context.Context, queueName string, taskID string, requeue bool) error

	// Len returns the number of tasks in the queue
	Len(ctx context.Context, queueName string) (int, error)

	// Close closes the queue and releases resources
	Close() error
}

// NewTask creates a new task with generated ID
func NewTask(taskType TaskType, threadID, runID string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		ThreadID:    threadID,
		RunID:       runID,
		Metadata:    make(map[string]interface{}),
		EnqueueTime: time.Now().UTC(),
		Attempts:    0,
	}
}

// NewChatRunTask creates a chat_run task for a started run.
func NewChatRunTask(threadID, runID, input string) *Task {
	t := NewTask(TaskTypeChatRun, threadID, runID)
	t.Input = input
	return t
}
