package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KamdynS/agentconsole/chatevent"
	"github.com/KamdynS/agentconsole/server/agenthttp"
	"github.com/KamdynS/agentconsole/state"
)

// readSSE collects ids, event names and comment lines until "event: done" or timeout.
func readSSE(t *testing.T, resp *http.Response, timeout time.Duration) (ids []string, events []string, pings int) {
	t.Helper()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch {
			case strings.HasPrefix(line, "id: "):
				ids = append(ids, strings.TrimPrefix(line, "id: "))
			case strings.HasPrefix(line, "event: "):
				ev := strings.TrimPrefix(line, "event: ")
				events = append(events, ev)
				if ev == "done" {
					return
				}
			case line == ": ping":
				pings++
			}
		case <-deadline:
			return
		}
	}
}

func TestSSE_StreamsRunAndEndsWithDone(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)
	if _, err := env.runner.Invoke(context.Background(), th.ID, "hi"); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/threads/"+th.ID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	ids, events, _ := readSSE(t, resp, 2*time.Second)
	if len(ids) != 4 || ids[0] != "1" || ids[3] != "4" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if events[len(events)-1] != "done" {
		t.Fatalf("expected done, got %v", events)
	}
}

func TestSSE_ResumeStreamsOnlyNewRecords(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)
	if _, err := env.runner.Invoke(context.Background(), th.ID, "hi"); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/threads/"+th.ID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Last-Event-ID", "2")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	ids, _, _ := readSSE(t, resp, 2*time.Second)
	if len(ids) != 2 || ids[0] != "3" {
		t.Fatalf("expected resume after 2, got %v", ids)
	}
}

func TestStreamRecords_HeartbeatAndRunFilter(t *testing.T) {
	store := state.NewInMemoryStore()
	ctx := context.Background()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = agenthttp.StreamRecords(r.Context(), w, store.GetRecordsSince, "th", agenthttp.StreamOptions{
			RunID:             "r2",
			PollInterval:      10 * time.Millisecond,
			HeartbeatInterval: 15 * time.Millisecond,
		})
	})
	ts := httptest.NewServer(h)
	defer ts.Close()

	// r1 completes first; the stream must keep going until r2 completes.
	done := state.NewRecord("th", chatevent.ChatEvent{RunID: "r1"})
	done.RunComplete = true
	_ = store.AppendRecord(ctx, done)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_ = store.AppendRecord(ctx, state.NewRecord("th", chatevent.ChatEvent{Input: "next", RunID: "r2"}))
		final := state.NewRecord("th", chatevent.ChatEvent{RunID: "r2"})
		final.RunComplete = true
		_ = store.AppendRecord(ctx, final)
	}()

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	ids, events, pings := readSSE(t, resp, 2*time.Second)
	if len(ids) != 3 {
		t.Fatalf("expected 3 records, got %v", ids)
	}
	if events[len(events)-1] != "done" {
		t.Fatalf("expected done after r2, got %v", events)
	}
	if pings == 0 {
		t.Fatalf("expected at least one heartbeat")
	}
}

func TestParseThreadQuery(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		wantOK bool
		want   ThreadQuery
	}{
		{name: "empty", raw: "", wantOK: true},
		{name: "basic", raw: "agentId=a&userId=u&taskId=t&from=tasks", wantOK: true,
			want: ThreadQuery{AgentID: "a", UserID: "u", TaskID: "t", From: "tasks"}},
		{name: "bad from", raw: "from=elsewhere&agentId=a", wantOK: true, want: ThreadQuery{AgentID: "a"}},
		{name: "repeated key", raw: "agentId=a&agentId=b", wantOK: false},
		{name: "unknown key repeated", raw: "x=1&x=2&agentId=a", wantOK: true, want: ThreadQuery{AgentID: "a"}},
		{name: "dates", raw: "createdStart=2024-01-02&createdEnd=2024-01-03T10:00:00Z", wantOK: true,
			want: ThreadQuery{CreatedStart: "2024-01-02", CreatedEnd: "2024-01-03T10:00:00Z"}},
		{name: "bad date", raw: "createdStart=yesterday", wantOK: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/threads?"+tc.raw, nil)
			got, ok := ParseThreadQuery(req.URL.Query())
			if ok != tc.wantOK {
				t.Fatalf("ok=%v want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestThreadQuery_FilterDateOnlyEndCoversDay(t *testing.T) {
	q := ThreadQuery{CreatedStart: "2024-01-02", CreatedEnd: "2024-01-02"}
	f := q.Filter()
	if f.CreatedStart == nil || f.CreatedEnd == nil {
		t.Fatalf("expected both bounds")
	}
	in := &state.Thread{Created: time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)}
	out := &state.Thread{Created: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)}
	if !f.Match(in) || f.Match(out) {
		t.Fatalf("date-only end bound should cover exactly that day")
	}
}
