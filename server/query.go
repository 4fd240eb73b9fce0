package server

import (
	"net/url"
	"time"

	"github.com/KamdynS/agentconsole/state"
)

// ThreadQuery is the normalized thread list query.
type ThreadQuery struct {
	AgentID      string `json:"agentId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	TaskID       string `json:"taskId,omitempty"`
	From         string `json:"from,omitempty"`
	CreatedStart string `json:"createdStart,omitempty"`
	CreatedEnd   string `json:"createdEnd,omitempty"`
}

var threadQueryKeys = []string{"agentId", "userId", "taskId", "from", "createdStart", "createdEnd"}

var validFrom = map[string]bool{"tasks": true, "agents": true, "users": true}

// ParseThreadQuery normalizes the thread list query. ok is false when a key is
// repeated; the query is then ignored as a whole and the zero value returned.
// Unknown keys are ignored.
func ParseThreadQuery(values url.Values) (q ThreadQuery, ok bool) {
	for _, key := range threadQueryKeys {
		if len(values[key]) > 1 {
			return ThreadQuery{}, false
		}
	}
	q = ThreadQuery{
		AgentID:      values.Get("agentId"),
		UserID:       values.Get("userId"),
		TaskID:       values.Get("taskId"),
		From:         values.Get("from"),
		CreatedStart: values.Get("createdStart"),
		CreatedEnd:   values.Get("createdEnd"),
	}
	if !validFrom[q.From] {
		q.From = ""
	}
	if _, valid := parseQueryTime(q.CreatedStart, false); !valid {
		q.CreatedStart = ""
	}
	if _, valid := parseQueryTime(q.CreatedEnd, true); !valid {
		q.CreatedEnd = ""
	}
	return q, true
}

// Filter converts the query into a store filter.
func (q ThreadQuery) Filter() state.ThreadFilter {
	f := state.ThreadFilter{AgentID: q.AgentID, UserID: q.UserID, TaskID: q.TaskID}
	if t, ok := parseQueryTime(q.CreatedStart, false); ok {
		f.CreatedStart = &t
	}
	if t, ok := parseQueryTime(q.CreatedEnd, true); ok {
		f.CreatedEnd = &t
	}
	return f
}

// parseQueryTime accepts RFC3339 or YYYY-MM-DD. A bare date used as an end
// bound covers the whole day.
func parseQueryTime(v string, end bool) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}
