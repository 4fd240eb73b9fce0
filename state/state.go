package state

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrThreadNotFound is returned when a thread id is unknown to the store.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrRunNotFound is returned when a run id is unknown to the store.
	ErrRunNotFound = errors.New("run not found")
)

// RunState represents the lifecycle state of a run
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunError     RunState = "error"
)

// Thread is a conversation between a user and one agent
type Thread struct {
	ID           string    `json:"id"`
	AgentID      string    `json:"agentID"`
	UserID       string    `json:"userID,omitempty"`
	TaskID       string    `json:"taskID,omitempty"`
	Description  string    `json:"description,omitempty"`
	CurrentRunID string    `json:"currentRunID,omitempty"`
	LastRunID    string    `json:"lastRunID,omitempty"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// Run is one agent generation triggered by a single user input
type Run struct {
	ID            string     `json:"id"`
	ThreadID      string     `json:"threadID"`
	AgentID       string     `json:"agentID"`
	PreviousRunID string     `json:"previousRunID,omitempty"`
	Input         string     `json:"input"`
	Output        string     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	State         RunState   `json:"state"`
	Created       time.Time  `json:"created"`
	Finished      *time.Time `json:"finished,omitempty"`
}

// ThreadFilter narrows ListThreads. Zero-valued fields match everything.
type ThreadFilter struct {
	AgentID      string
	UserID       string
	TaskID       string
	CreatedStart *time.Time
	CreatedEnd   *time.Time
}

// Store defines the interface for persisting threads, runs and their event logs
type Store interface {
	// SaveThread creates or replaces a thread
	SaveThread(ctx context.Context, thread *Thread) error

	// GetThread retrieves a thread, ErrThreadNotFound if absent
	GetThread(ctx context.Context, threadID string) (*Thread, error)

	// ListThreads lists threads matching the filter, newest first
	ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error)

	// DeleteThread removes a thread with its runs and records
	DeleteThread(ctx context.Context, threadID string) error

	// SaveRun creates or replaces a run
	SaveRun(ctx context.Context, run *Run) error

	// GetRun retrieves a run, ErrRunNotFound if absent
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns lists the runs of a thread in creation order
	ListRuns(ctx context.Context, threadID string) ([]*Run, error)

	// AppendRecord appends a record to the thread's event log and sets its SequenceNum
	AppendRecord(ctx context.Context, record *Record) error

	// GetRecords retrieves all records of a thread
	GetRecords(ctx context.Context, threadID string) ([]*Record, error)

	// GetRecordsSince retrieves records with SequenceNum greater than since
	GetRecordsSince(ctx context.Context, threadID string, since int64) ([]*Record, error)

	// GetRecordsWindow retrieves up to limit records after since, and the
	// sequence to pass as since for the next window
	GetRecordsWindow(ctx context.Context, threadID string, since int64, limit int) ([]*Record, int64, error)

	// MapIdempotencyKey binds key to runID if unbound. When the key is already
	// bound it returns created=false and the existing run id.
	MapIdempotencyKey(ctx context.Context, key string, runID string) (created bool, existing string, err error)
}

// IsTerminal returns true if the run has finished
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunError
}

// IsRunning returns true if the run has not finished yet
func (r *Run) IsRunning() bool {
	return !r.State.IsTerminal()
}

// Duration returns the run execution duration
func (r *Run) Duration() time.Duration {
	if r.Finished != nil {
		return r.Finished.Sub(r.Created)
	}
	return time.Since(r.Created)
}

// Match reports whether the thread satisfies the filter
func (f ThreadFilter) Match(t *Thread) bool {
	if f.AgentID != "" && t.AgentID != f.AgentID {
		return false
	}
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.TaskID != "" && t.TaskID != f.TaskID {
		return false
	}
	if f.CreatedStart != nil && t.Created.Before(*f.CreatedStart) {
		return false
	}
	if f.CreatedEnd != nil && t.Created.After(*f.CreatedEnd) {
		return false
	}
	return true
}
