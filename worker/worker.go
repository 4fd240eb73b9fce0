// Package worker provides a worker pool that executes queued agent runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KamdynS/agentconsole/queue"
)

// Executor executes a started run. agent.Runner satisfies it.
type Executor interface {
	Execute(ctx context.Context, runID string) error
}

// Worker polls tasks from a queue and executes runs
type Worker struct {
	id            string
	queue         queue.Queue
	queueName     string
	executor      Executor
	pollInterval  time.Duration
	maxConcurrent int
	maxAttempts   int
	runTimeout    time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex
}

// Config holds worker configuration
type Config struct {
	ID            string
	Queue         queue.Queue
	QueueName     string
	Executor      Executor
	PollInterval  time.Duration
	MaxConcurrent int
	// MaxAttempts is the number of deliveries before a failing task is dropped.
	MaxAttempts int
	// RunTimeout bounds a single run; zero means no limit.
	RunTimeout time.Duration
}

// DefaultConfig returns a default worker configuration
func DefaultConfig() Config {
	return Config{
		ID:            fmt.Sprintf("worker-%d", time.Now().UnixNano()),
		QueueName:     "runs",
		PollInterval:  time.Second,
		MaxConcurrent: 5,
		MaxAttempts:   3,
	}
}

// New creates a new worker
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	def := DefaultConfig()
	if cfg.QueueName == "" {
		cfg.QueueName = def.QueueName
	}
	if cfg.ID == "" {
		cfg.ID = def.ID
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	return &Worker{
		id:            cfg.ID,
		queue:         cfg.Queue,
		queueName:     cfg.QueueName,
		executor:      cfg.Executor,
		pollInterval:  cfg.PollInterval,
		maxConcurrent: cfg.MaxConcurrent,
		maxAttempts:   cfg.MaxAttempts,
		runTimeout:    cfg.RunTimeout,
		stopCh:        make(chan struct{}),
		running:       false,
	}, nil
}

// Start begins polling for and executing tasks
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running")
	}
	w.running = true
	w.mu.Unlock()

	log.Printf("[Worker %s] Starting worker on queue %s with %d max concurrent tasks",
		w.id, w.queueName, w.maxConcurrent)

	for i := 0; i < w.maxConcurrent; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx, i)
	}

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[Worker %s] Stopping worker...", w.id)

	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("[Worker %s] Worker stopped gracefully", w.id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker stop timeout: %w", ctx.Err())
	}
}

// pollLoop continuously polls for tasks
func (w *Worker) pollLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	log.Printf("[Worker %s-%d] Poll loop started", w.id, workerNum)

	for {
		select {
		case <-w.stopCh:
			log.Printf("[Worker %s-%d] Poll loop stopping", w.id, workerNum)
			return
		case <-ctx.Done():
			log.Printf("[Worker %s-%d] Context canceled", w.id, workerNum)
			return
		default:
			w.pollOnce(ctx, workerNum)
		}
	}
}

// pollOnce polls for a single task and executes it
func (w *Worker) pollOnce(ctx context.Context, workerNum int) {
	task, err := w.queue.DequeueWithTimeout(ctx, w.queueName, w.pollInterval)
	if err != nil {
		if errors.Is(err, queue.ErrDequeueTimeout) || ctx.Err() != nil {
			return
		}
		log.Printf("[Worker %s-%d] Dequeue failed: %v", w.id, workerNum, err)
		// Back off so a broken backend does not spin the loop.
		select {
		case <-time.After(w.pollInterval):
		case <-w.stopCh:
		case <-ctx.Done():
		}
		return
	}
	if task == nil {
		return
	}

	log.Printf("[Worker %s-%d] Received task %s for thread %s run %s",
		w.id, workerNum, task.ID, task.ThreadID, task.RunID)

	result := w.executeTask(ctx, task)

	if result.Success {
		if err := w.queue.Ack(ctx, w.queueName, task.ID); err != nil {
			log.Printf("[Worker %s-%d] Failed to ack task %s: %v",
				w.id, workerNum, task.ID, err)
		}
		return
	}
	requeue := task.Attempts < w.maxAttempts
	if err := w.queue.Nack(ctx, w.queueName, task.ID, requeue); err != nil {
		log.Printf("[Worker %s-%d] Failed to nack task %s: %v",
			w.id, workerNum, task.ID, err)
	}
}

// executeTask executes a single task
func (w *Worker) executeTask(ctx context.Context, task *queue.Task) *queue.TaskResult {
	startTime := time.Now()

	result := &queue.TaskResult{
		TaskID:   task.ID,
		ThreadID: task.ThreadID,
		RunID:    task.RunID,
	}

	switch task.Type {
	case queue.TaskTypeChatRun:
		execCtx := ctx
		if w.runTimeout > 0 {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, w.runTimeout)
			defer cancel()
		}
		if err := w.executor.Execute(execCtx, task.RunID); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}
	default:
		result.Error = fmt.Sprintf("unknown task type: %s", task.Type)
	}

	result.Duration = time.Since(startTime)

	log.Printf("[Worker %s] Task %s completed: success=%v, duration=%v",
		w.id, task.ID, result.Success, result.Duration)
	if result.Error != "" {
		log.Printf("[Worker %s] Task %s error: %s", w.id, task.ID, result.Error)
	}

	return result
}
