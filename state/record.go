// Package state provides thread, run and chat event persistence.
package state

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/agentconsole/chatevent"
)

// Record is one ChatEvent persisted in a thread's event log
type Record struct {
	ID          string              `json:"id"`
	ThreadID    string              `json:"threadID"`
	RunID       string              `json:"runID"`
	SequenceNum int64               `json:"sequenceNum"`
	Timestamp   time.Time           `json:"timestamp"`
	Event       chatevent.ChatEvent `json:"event"`
	// RunComplete marks the last record written for a run.
	RunComplete bool `json:"runComplete,omitempty"`
}

// NewRecord creates a new record with generated ID
func NewRecord(threadID string, ev chatevent.ChatEvent) *Record {
	return &Record{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		RunID:     ev.RunID,
		Timestamp: time.Now().UTC(),
		Event:     ev,
	}
}

// ToJSON serializes the record to JSON
func (r *Record) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON deserializes a record from JSON
func FromJSON(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Events extracts the chat events of records, in order.
func Events(records []*Record) []chatevent.ChatEvent {
	out := make([]chatevent.ChatEvent, 0, len(records))
	for _, r := range records {
		out = append(out, r.Event)
	}
	return out
}

// RunEvents extracts the chat events belonging to one run.
func RunEvents(records []*Record, runID string) []chatevent.ChatEvent {
	out := make([]chatevent.ChatEvent, 0)
	for _, r := range records {
		if r.RunID == runID {
			out = append(out, r.Event)
		}
	}
	return out
}
