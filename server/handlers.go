package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/KamdynS/agentconsole/agent"
	"github.com/KamdynS/agentconsole/chatevent"
	"github.com/KamdynS/agentconsole/queue"
	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/server/agenthttp"
	"github.com/KamdynS/agentconsole/state"
)

// NextSinceHeader carries the since value for the next page of a windowed events request.
const NextSinceHeader = "X-Next-Since"

// CreateThreadRequest represents a request to create a thread
type CreateThreadRequest struct {
	AgentID     string `json:"agentId"`
	UserID      string `json:"userId,omitempty"`
	TaskID      string `json:"taskId,omitempty"`
	Description string `json:"description,omitempty"`
}

// InvokeRequest represents a request to run the thread's agent
type InvokeRequest struct {
	Input string `json:"input"`
	Async bool   `json:"async,omitempty"`
}

// InvokeResponse is returned by invoke. Events and DurationMs are set for
// synchronous invokes.
type InvokeResponse struct {
	Run        *state.Run            `json:"run"`
	Events     []chatevent.ChatEvent `json:"events,omitempty"`
	DurationMs int64                 `json:"durationMs,omitempty"`
}

// ThreadResponse is a thread with its display age
type ThreadResponse struct {
	*state.Thread
	Age string `json:"age"`
}

// ThreadListResponse carries the threads and the query that selected them
type ThreadListResponse struct {
	Threads []ThreadResponse `json:"threads"`
	Query   ThreadQuery      `json:"query"`
	// Valid is false when the query was ignored.
	Valid bool `json:"valid"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAgents handles GET /agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, s.runner.Catalog().List())
}

// handleGetAgent handles GET /agents/{id}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	def, err := s.runner.Catalog().Get(r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, def)
}

// handleListThreads handles GET /threads
func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	q, ok := ParseThreadQuery(r.URL.Query())
	if !ok && s.logger != nil {
		s.logger.Warn("ignoring thread query with repeated keys", "query", r.URL.RawQuery)
	}
	threads, err := s.store.ListThreads(r.Context(), q.Filter())
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	now := s.now()
	out := make([]ThreadResponse, 0, len(threads))
	for _, th := range threads {
		out = append(out, ThreadResponse{Thread: th, Age: render.TimeSince(th.Created, now)})
	}
	sendJSON(w, http.StatusOK, ThreadListResponse{Threads: out, Query: q, Valid: ok})
}

// handleCreateThread handles POST /threads
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := s.decode(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AgentID == "" {
		sendError(w, http.StatusBadRequest, "agentId is required")
		return
	}
	th, err := s.runner.CreateThread(r.Context(), state.Thread{
		AgentID:     req.AgentID,
		UserID:      req.UserID,
		TaskID:      req.TaskID,
		Description: req.Description,
	})
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusCreated, ThreadResponse{Thread: th, Age: render.TimeSince(th.Created, s.now())})
}

// handleGetThread handles GET /threads/{id}
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, ThreadResponse{Thread: th, Age: render.TimeSince(th.Created, s.now())})
}

// handleDeleteThread handles DELETE /threads/{id}
func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteThread(r.Context(), r.PathValue("id")); err != nil {
		s.sendErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInvoke handles POST /threads/{id}/invoke
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if err := s.decode(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Async && s.queue == nil {
		sendError(w, http.StatusBadRequest, "async invoke requires a run queue")
		return
	}

	opts := agent.StartOptions{IdempotencyKey: r.Header.Get("Idempotency-Key")}
	run, err := s.runner.StartWithOptions(r.Context(), r.PathValue("id"), req.Input, opts)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}

	if req.Async {
		if run.State == state.RunPending {
			task := queue.NewChatRunTask(run.ThreadID, run.ID, run.Input)
			if err := s.queue.Enqueue(r.Context(), s.queueName, task); err != nil {
				err = fmt.Errorf("failed to enqueue run: %w", err)
				if ferr := s.runner.Fail(r.Context(), run.ID, err); ferr != nil && s.logger != nil {
					s.logger.Error("failed to record enqueue failure", "run_id", run.ID, "error", ferr)
				}
				s.sendErr(w, r, err)
				return
			}
		}
		sendJSON(w, http.StatusAccepted, InvokeResponse{Run: run})
		return
	}

	if err := s.runner.Execute(r.Context(), run.ID); err != nil {
		s.sendErr(w, r, err)
		return
	}
	ctx := r.Context()
	if run, err = s.store.GetRun(ctx, run.ID); err != nil {
		s.sendErr(w, r, err)
		return
	}
	events, err := s.runner.RunMessages(ctx, run)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, InvokeResponse{Run: run, Events: events, DurationMs: run.Duration().Milliseconds()})
}

// handleThreadEvents handles GET /threads/{id}/events
func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		s.sendErr(w, r, err)
		return
	}

	// Check if SSE is requested
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		err := agenthttp.StreamRecords(r.Context(), w, s.store.GetRecordsSince, threadID, agenthttp.StreamOptions{
			LastEventID:       r.Header.Get("Last-Event-ID"),
			RunID:             r.URL.Query().Get("runId"),
			PollInterval:      s.config.PollInterval,
			HeartbeatInterval: s.config.HeartbeatInterval,
		})
		if err != nil && s.logger != nil {
			s.logger.Warn("event stream ended", "thread", threadID, "error", err)
		}
		return
	}

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			sendError(w, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		records, next, err := s.store.GetRecordsWindow(r.Context(), threadID, since, limit)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		w.Header().Set(NextSinceHeader, strconv.FormatInt(next, 10))
		sendJSON(w, http.StatusOK, records)
		return
	}
	records, err := s.store.GetRecordsSince(r.Context(), threadID, since)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, records)
}

// handleThreadMessages handles GET /threads/{id}/messages
func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if r.URL.Query().Get("format") != "html" {
		events, err := s.runner.Messages(r.Context(), threadID)
		if err != nil {
			s.sendErr(w, r, err)
			return
		}
		sendJSON(w, http.StatusOK, events)
		return
	}

	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		s.sendErr(w, r, err)
		return
	}
	records, err := s.store.GetRecords(r.Context(), threadID)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	msgs, err := s.renderer.Messages(state.Events(records))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, msgs)
}

// handleListRuns handles GET /threads/{id}/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.store.GetThread(r.Context(), threadID); err != nil {
		s.sendErr(w, r, err)
		return
	}
	runs, err := s.store.ListRuns(r.Context(), threadID)
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendErr(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, run)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		return fmt.Errorf("invalid request body")
	}
	return nil
}
