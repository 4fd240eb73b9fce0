package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KamdynS/agentconsole/agent"
	"github.com/KamdynS/agentconsole/chatevent"
	"github.com/KamdynS/agentconsole/llm"
	"github.com/KamdynS/agentconsole/queue"
	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/state"
)

// echoLLM answers every request with "echo: " plus the last user message.
type echoLLM struct{}

func (echoLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	last := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}
	return &llm.Response{Content: "echo: " + last}, nil
}

func (e echoLLM) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	resp, _ := e.Chat(ctx, req)
	return llm.NewStaticStream(resp, "echo", "echo-1"), nil
}

func (echoLLM) Model() string { return "echo-1" }

type testEnv struct {
	server *Server
	runner *agent.Runner
	store  *state.InMemoryStore
	queue  *queue.InMemoryQueue
}

func setupTestServer(t *testing.T, withQueue bool) *testEnv {
	t.Helper()
	store := state.NewInMemoryStore()
	catalog, err := agent.NewCatalog(agent.Definition{ID: "helper", Name: "Helper", Prompt: "be brief"})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	runner, err := agent.New(agent.Config{Store: store, Catalog: catalog, LLM: echoLLM{}})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	env := &testEnv{runner: runner, store: store}
	cfg := Config{
		Runner:            runner,
		Store:             store,
		Renderer:          render.New(),
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		Now:               func() time.Time { return time.Now().Add(3 * time.Hour) },
	}
	if withQueue {
		env.queue = queue.NewInMemoryQueue()
		t.Cleanup(func() { env.queue.Close() })
		cfg.Queue = env.queue
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	env.server = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) thread(t *testing.T) *state.Thread {
	t.Helper()
	th, err := e.runner.CreateThread(context.Background(), state.Thread{AgentID: "helper", UserID: "u1"})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return th
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (%s)", err, w.Body.String())
	}
	return v
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without runner")
	}
}

func TestServer_HealthAndAgents(t *testing.T) {
	env := setupTestServer(t, false)

	if w := env.do(t, http.MethodGet, "/health", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}

	w := env.do(t, http.MethodGet, "/agents", nil, nil)
	agents := decode[[]agent.Definition](t, w)
	if len(agents) != 1 || agents[0].ID != "helper" {
		t.Fatalf("unexpected agents %+v", agents)
	}

	w = env.do(t, http.MethodGet, "/agents/helper", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get agent status %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/agents/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_CreateThread(t *testing.T) {
	env := setupTestServer(t, false)

	cases := []struct {
		name string
		body any
		want int
	}{
		{name: "created", body: CreateThreadRequest{AgentID: "helper", UserID: "u1"}, want: http.StatusCreated},
		{name: "missing agent", body: CreateThreadRequest{UserID: "u1"}, want: http.StatusBadRequest},
		{name: "unknown agent", body: CreateThreadRequest{AgentID: "ghost"}, want: http.StatusNotFound},
		{name: "unknown field", body: map[string]string{"agent": "helper"}, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/threads", tc.body, nil)
			if w.Code != tc.want {
				t.Fatalf("status %d want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}

	threads, _ := env.store.ListThreads(context.Background(), state.ThreadFilter{})
	if len(threads) != 1 || threads[0].UserID != "u1" {
		t.Fatalf("unexpected threads %+v", threads)
	}
}

func TestServer_ListThreads(t *testing.T) {
	env := setupTestServer(t, false)
	env.thread(t)
	other, _ := env.runner.CreateThread(context.Background(), state.Thread{AgentID: "helper", UserID: "u2"})

	w := env.do(t, http.MethodGet, "/threads?userId=u2&from=users", nil, nil)
	resp := decode[ThreadListResponse](t, w)
	if !resp.Valid || len(resp.Threads) != 1 || resp.Threads[0].ID != other.ID {
		t.Fatalf("unexpected filtered list %+v", resp)
	}
	if resp.Query.From != "users" || resp.Query.UserID != "u2" {
		t.Fatalf("query not echoed: %+v", resp.Query)
	}
	if resp.Threads[0].Age != "3 hours" {
		t.Fatalf("unexpected age %q", resp.Threads[0].Age)
	}

	// A repeated key invalidates the whole query.
	w = env.do(t, http.MethodGet, "/threads?userId=u2&userId=u1", nil, nil)
	resp = decode[ThreadListResponse](t, w)
	if resp.Valid || len(resp.Threads) != 2 {
		t.Fatalf("expected unfiltered list, got valid=%v n=%d", resp.Valid, len(resp.Threads))
	}
}

func TestServer_InvokeSync(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)

	w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "hi"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[InvokeResponse](t, w)
	if resp.Run.State != state.RunCompleted || resp.Run.Output != "echo: hi" {
		t.Fatalf("unexpected run %+v", resp.Run)
	}
	want := []chatevent.ChatEvent{
		{Input: "hi", RunID: resp.Run.ID},
		{Content: "echo: hi", RunID: resp.Run.ID},
	}
	if len(resp.Events) != len(want) {
		t.Fatalf("events=%+v", resp.Events)
	}
	for i := range want {
		if resp.Events[i].Input != want[i].Input || resp.Events[i].Content != want[i].Content || resp.Events[i].RunID != want[i].RunID {
			t.Fatalf("event %d = %+v want %+v", i, resp.Events[i], want[i])
		}
	}

	// runs endpoints
	w = env.do(t, http.MethodGet, "/threads/"+th.ID+"/runs", nil, nil)
	runs := decode[[]state.Run](t, w)
	if len(runs) != 1 || runs[0].ID != resp.Run.ID {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if w := env.do(t, http.MethodGet, "/runs/"+resp.Run.ID, nil, nil); w.Code != http.StatusOK {
		t.Fatalf("get run status %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/runs/missing", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing run, got %d", w.Code)
	}
}

func TestServer_InvokeErrors(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)

	if w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "  "}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty input: expected 400, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/threads/missing/invoke", InvokeRequest{Input: "x"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing thread: expected 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "x", Async: true}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("async without queue: expected 400, got %d", w.Code)
	}

	if _, err := env.runner.Start(context.Background(), th.ID, "pending"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "x"}, nil); w.Code != http.StatusConflict {
		t.Fatalf("run in progress: expected 409, got %d", w.Code)
	}
}

func TestServer_InvokeAsyncEnqueues(t *testing.T) {
	env := setupTestServer(t, true)
	th := env.thread(t)
	hdr := map[string]string{"Idempotency-Key": "key-1"}

	w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "later", Async: true}, hdr)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[InvokeResponse](t, w)
	if resp.Run.State != state.RunPending {
		t.Fatalf("expected pending run, got %s", resp.Run.State)
	}

	// Replaying the key returns the same run.
	w = env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "later", Async: true}, hdr)
	replay := decode[InvokeResponse](t, w)
	if replay.Run.ID != resp.Run.ID {
		t.Fatalf("expected replayed run %s, got %s", resp.Run.ID, replay.Run.ID)
	}

	task, err := env.queue.DequeueWithTimeout(context.Background(), "runs", time.Second)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if task.Type != queue.TaskTypeChatRun || task.RunID != resp.Run.ID || task.ThreadID != th.ID {
		t.Fatalf("unexpected task %+v", task)
	}
	if n, _ := env.queue.Len(context.Background(), "runs"); n != 0 {
		t.Fatalf("replay queued the run again, len=%d", n)
	}
}

func TestServer_InvokeAsyncEnqueueFailureFreesThread(t *testing.T) {
	env := setupTestServer(t, true)
	th := env.thread(t)
	env.queue.Close()

	w := env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "later", Async: true}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from a closed queue, got %d: %s", w.Code, w.Body.String())
	}

	ctx := context.Background()
	runs, err := env.store.ListRuns(ctx, th.ID)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
	if runs[0].State != state.RunError || !strings.Contains(runs[0].Error, "enqueue") {
		t.Fatalf("expected failed run, got %+v", runs[0])
	}

	w = env.do(t, http.MethodPost, "/threads/"+th.ID+"/invoke", InvokeRequest{Input: "now"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("thread still blocked after enqueue failure: %d %s", w.Code, w.Body.String())
	}
	resp := decode[InvokeResponse](t, w)
	if resp.Run.State != state.RunCompleted || resp.Run.PreviousRunID != runs[0].ID {
		t.Fatalf("unexpected run %+v", resp.Run)
	}
}

func TestServer_EventsWindow(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)
	if _, err := env.runner.Invoke(context.Background(), th.ID, "hi"); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	all, _ := env.store.GetRecords(context.Background(), th.ID)

	var got []state.Record
	since := "0"
	for i := 0; i < len(all); i++ {
		w := env.do(t, http.MethodGet, "/threads/"+th.ID+"/events?limit=2&since="+since, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d: %s", w.Code, w.Body.String())
		}
		next := w.Header().Get(NextSinceHeader)
		page := decode[[]state.Record](t, w)
		if len(page) > 2 {
			t.Fatalf("window exceeded limit: %d", len(page))
		}
		if len(page) == 0 {
			if next != since {
				t.Fatalf("empty window moved the cursor from %s to %s", since, next)
			}
			break
		}
		got = append(got, page...)
		since = next
	}
	if len(got) != len(all) {
		t.Fatalf("paged %d records, want %d", len(got), len(all))
	}
	for i, rec := range got {
		if rec.SequenceNum != int64(i+1) {
			t.Fatalf("record %d has sequence %d", i, rec.SequenceNum)
		}
	}

	for _, bad := range []string{"0", "-1", "x"} {
		if w := env.do(t, http.MethodGet, "/threads/"+th.ID+"/events?limit="+bad, nil, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", bad, w.Code)
		}
	}
}

func TestServer_EventsAndMessages(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)
	if _, err := env.runner.Invoke(context.Background(), th.ID, "**bold** <i>x</i>"); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	w := env.do(t, http.MethodGet, "/threads/"+th.ID+"/events", nil, nil)
	records := decode[[]state.Record](t, w)
	if len(records) < 3 || !records[len(records)-1].RunComplete {
		t.Fatalf("unexpected records %+v", records)
	}
	w = env.do(t, http.MethodGet, "/threads/"+th.ID+"/events?since=1", nil, nil)
	since := decode[[]state.Record](t, w)
	if len(since) != len(records)-1 || since[0].SequenceNum != 2 {
		t.Fatalf("since=1 returned %d records", len(since))
	}
	if w := env.do(t, http.MethodGet, "/threads/"+th.ID+"/events?since=abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad since, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/threads/"+th.ID+"/messages", nil, nil)
	events := decode[[]chatevent.ChatEvent](t, w)
	if len(events) != 2 || events[1].Content != "echo: **bold** <i>x</i>" {
		t.Fatalf("unexpected messages %+v", events)
	}

	w = env.do(t, http.MethodGet, "/threads/"+th.ID+"/messages?format=html", nil, nil)
	msgs := decode[[]render.Message](t, w)
	if len(msgs) != 2 || msgs[0].Kind != render.KindInput || msgs[1].Kind != render.KindContent {
		t.Fatalf("unexpected rendered messages %+v", msgs)
	}
	if !strings.Contains(msgs[1].HTML, "<strong>bold</strong>") || strings.Contains(msgs[0].HTML, "<i>") {
		t.Fatalf("unexpected html %q / %q", msgs[0].HTML, msgs[1].HTML)
	}

	if w := env.do(t, http.MethodGet, "/threads/missing/messages", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_DeleteThread(t *testing.T) {
	env := setupTestServer(t, false)
	th := env.thread(t)

	if w := env.do(t, http.MethodDelete, "/threads/"+th.ID, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/threads/"+th.ID, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/threads/"+th.ID, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
