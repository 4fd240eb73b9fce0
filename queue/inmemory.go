package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultVisibilityTimeout = 30 * time.Second
	redeliveryScanInterval   = 200 * time.Millisecond
)

// Hooks provides optional callbacks for queue operations. All are optional no-ops by default.
type Hooks struct {
	OnEnqueue   func(queueName string, task *Task)
	OnDequeue   func(queueName string, task *Task)
	OnAck       func(queueName string, task *Task)
	OnNack      func(queueName string, task *Task, requeue bool)
	OnRedeliver func(queueName string, task *Task)
}

// Options configures the in-memory queue behavior.
type Options struct {
	// VisibilityTimeout is how long a dequeued task stays checked out before
	// it is handed to another worker if not Ack'ed.
	VisibilityTimeout time.Duration
	// EnableDLQ keeps tasks Nack'ed without requeue for DeadLetters.
	EnableDLQ bool
	Hooks     Hooks
}

type inFlight struct {
	task     *Task
	deadline time.Time
}

// runQueue is the state of one named queue.
type runQueue struct {
	ready    []*Task
	inFlight map[string]*inFlight
	// runs maps the run of every queued or in-flight task to its task ID so a
	// run is never queued twice.
	runs     map[string]string
	dead     []*Task
	notify   chan struct{}
}

func newRunQueue() *runQueue {
	return &runQueue{
		inFlight: make(map[string]*inFlight),
		runs:     make(map[string]string),
		notify:   make(chan struct{}, 1),
	}
}

func (rq *runQueue) push(task *Task) {
	rq.ready = append(rq.ready, task)
	rq.wake()
}

func (rq *runQueue) wake() {
	select {
	case rq.notify <- struct{}{}:
	default:
	}
}

func (rq *runQueue) release(task *Task) {
	if task.RunID != "" && rq.runs[task.RunID] == task.ID {
		delete(rq.runs, task.RunID)
	}
}

// InMemoryQueue is an in-process queue for single-binary deployments and tests.
// Tasks for a run that is already queued or in flight are dropped on Enqueue.
type InMemoryQueue struct {
	mu     sync.Mutex
	queues map[string]*runQueue
	closed bool
	opts   Options
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewInMemoryQueue creates a new in-memory queue
func NewInMemoryQueue() *InMemoryQueue {
	return NewInMemoryQueueWithOptions(Options{VisibilityTimeout: defaultVisibilityTimeout})
}

// NewInMemoryQueueWithOptions creates a new in-memory queue with options.
func NewInMemoryQueueWithOptions(opts Options) *InMemoryQueue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = defaultVisibilityTimeout
	}
	q := &InMemoryQueue{
		queues: make(map[string]*runQueue),
		opts:   opts,
		done:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.redeliverLoop()
	return q
}

// named returns the named queue, creating it. Callers hold q.mu.
func (q *InMemoryQueue) named(queueName string) *runQueue {
	rq, ok := q.queues[queueName]
	if !ok {
		rq = newRunQueue()
		q.queues[queueName] = rq
	}
	return rq
}

// Enqueue implements Queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, queueName string, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	rq := q.named(queueName)
	if task.RunID != "" {
		if _, dup := rq.runs[task.RunID]; dup {
			q.mu.Unlock()
			return nil
		}
		rq.runs[task.RunID] = task.ID
	}
	rq.push(task)
	q.mu.Unlock()

	if q.opts.Hooks.OnEnqueue != nil {
		q.opts.Hooks.OnEnqueue(queueName, task)
	}
	return nil
}

// Dequeue implements Queue
func (q *InMemoryQueue) Dequeue(ctx context.Context, queueName string) (*Task, error) {
	return q.DequeueWithTimeout(ctx, queueName, 0)
}

// DequeueWithTimeout implements Queue. A zero timeout waits until ctx is done.
func (q *InMemoryQueue) DequeueWithTimeout(ctx context.Context, queueName string, timeout time.Duration) (*Task, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		rq := q.named(queueName)
		if len(rq.ready) > 0 {
			task := rq.ready[0]
			rq.ready[0] = nil
			rq.ready = rq.ready[1:]
			task.Attempts++
			rq.inFlight[task.ID] = &inFlight{task: task, deadline: time.Now().Add(q.opts.VisibilityTimeout)}
			if len(rq.ready) > 0 {
				rq.wake()
			}
			q.mu.Unlock()
			if q.opts.Hooks.OnDequeue != nil {
				q.opts.Hooks.OnDequeue(queueName, task)
			}
			return task, nil
		}
		signal := rq.notify
		q.mu.Unlock()

		select {
		case <-signal:
		case <-expired:
			return nil, ErrDequeueTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrQueueClosed
		}
	}
}

// checkIn removes a task from the in-flight set.
func (q *InMemoryQueue) checkIn(queueName, taskID string) (*runQueue, *Task, error) {
	if q.closed {
		return nil, nil, ErrQueueClosed
	}
	rq, ok := q.queues[queueName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotInFlight, taskID)
	}
	f, ok := rq.inFlight[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotInFlight, taskID)
	}
	delete(rq.inFlight, taskID)
	return rq, f.task, nil
}

// Ack implements Queue
func (q *InMemoryQueue) Ack(ctx context.Context, queueName string, taskID string) error {
	q.mu.Lock()
	rq, task, err := q.checkIn(queueName, taskID)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	rq.release(task)
	q.mu.Unlock()

	if q.opts.Hooks.OnAck != nil {
		q.opts.Hooks.OnAck(queueName, task)
	}
	return nil
}

// Nack implements Queue. A requeued task keeps its attempt count.
func (q *InMemoryQueue) Nack(ctx context.Context, queueName string, taskID string, requeue bool) error {
	q.mu.Lock()
	rq, task, err := q.checkIn(queueName, taskID)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	if requeue {
		rq.push(task)
	} else {
		rq.release(task)
		if q.opts.EnableDLQ {
			rq.dead = append(rq.dead, task)
		}
	}
	q.mu.Unlock()

	if q.opts.Hooks.OnNack != nil {
		q.opts.Hooks.OnNack(queueName, task, requeue)
	}
	return nil
}

// DeadLetters returns a copy of the tasks Nack'ed without requeue when EnableDLQ is set.
func (q *InMemoryQueue) DeadLetters(queueName string) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq, ok := q.queues[queueName]
	if !ok {
		return nil
	}
	return append([]*Task(nil), rq.dead...)
}

// Len returns the number of ready tasks. In-flight tasks are not counted.
func (q *InMemoryQueue) Len(ctx context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq, ok := q.queues[queueName]
	if !ok {
		return 0, nil
	}
	return len(rq.ready), nil
}

// Close implements Queue. Blocked dequeuers return ErrQueueClosed.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	q.queues = make(map[string]*runQueue)
	q.mu.Unlock()
	return nil
}

func (q *InMemoryQueue) redeliverLoop() {
	defer q.wg.Done()
	t := time.NewTicker(redeliveryScanInterval)
	defer t.Stop()
	for {
		select {
		case <-q.done:
			return
		case now := <-t.C:
			q.redeliverExpired(now)
		}
	}
}

// redeliverExpired moves tasks whose visibility deadline passed back to ready.
func (q *InMemoryQueue) redeliverExpired(now time.Time) {
	var redelivered []struct {
		queue string
		task  *Task
	}
	q.mu.Lock()
	for name, rq := range q.queues {
		for id, f := range rq.inFlight {
			if now.After(f.deadline) {
				delete(rq.inFlight, id)
				rq.push(f.task)
				redelivered = append(redelivered, struct {
					queue string
					task  *Task
				}{name, f.task})
			}
		}
	}
	q.mu.Unlock()

	if q.opts.Hooks.OnRedeliver == nil {
		return
	}
	for _, r := range redelivered {
		q.opts.Hooks.OnRedeliver(r.queue, r.task)
	}
}
