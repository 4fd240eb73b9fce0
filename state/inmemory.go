package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore is an in-memory implementation of Store
type InMemoryStore struct {
	mu       sync.RWMutex
	threads  map[string]*Thread
	runs     map[string]*Run
	records  map[string][]*Record // threadID -> log
	idemKeys map[string]string    // idempotency key -> runID
}

// NewInMemoryStore creates a new in-memory state store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:  make(map[string]*Thread),
		runs:     make(map[string]*Run),
		records:  make(map[string][]*Record),
		idemKeys: make(map[string]string),
	}
}

// SaveThread implements Store
func (s *InMemoryStore) SaveThread(ctx context.Context, thread *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadCopy := *thread
	s.threads[thread.ID] = &threadCopy
	return nil
}

// GetThread implements Store
func (s *InMemoryStore) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, exists := s.threads[threadID]
	if !exists {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	threadCopy := *thread
	return &threadCopy, nil
}

// ListThreads implements Store
func (s *InMemoryStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Thread, 0)
	for _, thread := range s.threads {
		if filter.Match(thread) {
			threadCopy := *thread
			result = append(result, &threadCopy)
		}
	}
	SortThreads(result)
	return result, nil
}

// DeleteThread implements Store
func (s *InMemoryStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[threadID]; !exists {
		return fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	delete(s.threads, threadID)
	delete(s.records, threadID)
	removed := make(map[string]struct{})
	for runID, run := range s.runs {
		if run.ThreadID == threadID {
			delete(s.runs, runID)
			removed[runID] = struct{}{}
		}
	}
	for key, runID := range s.idemKeys {
		if _, ok := removed[runID]; ok {
			delete(s.idemKeys, key)
		}
	}
	return nil
}

// SaveRun implements Store
func (s *InMemoryStore) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// GetRun implements Store
func (s *InMemoryStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	runCopy := *run
	return &runCopy, nil
}

// ListRuns implements Store
func (s *InMemoryStore) ListRuns(ctx context.Context, threadID string) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Run, 0)
	for _, run := range s.runs {
		if run.ThreadID == threadID {
			runCopy := *run
			result = append(result, &runCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Created.Equal(result[j].Created) {
			return result[i].ID < result[j].ID
		}
		return result[i].Created.Before(result[j].Created)
	})
	return result, nil
}

// AppendRecord implements Store
func (s *InMemoryStore) AppendRecord(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.records[record.ThreadID]
	record.SequenceNum = int64(len(records)) + 1
	s.records[record.ThreadID] = append(records, cloneRecord(record))
	return nil
}

// GetRecords implements Store
func (s *InMemoryStore) GetRecords(ctx context.Context, threadID string) ([]*Record, error) {
	return s.GetRecordsSince(ctx, threadID, 0)
}

// GetRecordsSince implements Store
func (s *InMemoryStore) GetRecordsSince(ctx context.Context, threadID string, since int64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0)
	for _, rec := range s.records[threadID] {
		if rec.SequenceNum > since {
			result = append(result, cloneRecord(rec))
		}
	}
	return result, nil
}

// GetRecordsWindow implements Store
func (s *InMemoryStore) GetRecordsWindow(ctx context.Context, threadID string, since int64, limit int) ([]*Record, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, exists := s.records[threadID]
	if !exists || limit <= 0 {
		return []*Record{}, since, nil
	}

	window := make([]*Record, 0, limit)
	next := since
	for _, rec := range records {
		if rec.SequenceNum > since {
			window = append(window, cloneRecord(rec))
			next = rec.SequenceNum
			if len(window) >= limit {
				break
			}
		}
	}
	return window, next, nil
}

// MapIdempotencyKey implements Store
func (s *InMemoryStore) MapIdempotencyKey(ctx context.Context, key string, runID string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.idemKeys[key]; ok {
		return false, existing, nil
	}
	s.idemKeys[key] = runID
	return true, "", nil
}

// SortThreads orders threads newest first, then by ID.
func SortThreads(threads []*Thread) {
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Created.Equal(threads[j].Created) {
			return threads[i].ID < threads[j].ID
		}
		return threads[i].Created.After(threads[j].Created)
	})
}

func cloneRecord(r *Record) *Record {
	c := *r
	if r.Event.ToolInput != nil {
		ti := *r.Event.ToolInput
		c.Event.ToolInput = &ti
	}
	if r.Event.ToolCall != nil {
		tc := *r.Event.ToolCall
		if tc.Metadata != nil {
			md := *tc.Metadata
			tc.Metadata = &md
		}
		c.Event.ToolCall = &tc
	}
	return &c
}
