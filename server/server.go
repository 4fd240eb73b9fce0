// Package server provides the admin HTTP API for agents, threads and runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/KamdynS/agentconsole/agent"
	"github.com/KamdynS/agentconsole/queue"
	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/state"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server provides HTTP API for the console
type Server struct {
	runner     *agent.Runner
	store      state.Store
	queue      queue.Queue
	queueName  string
	renderer   *render.Renderer
	logger     Logger
	config     Config
	httpServer *http.Server
	now        func() time.Time
}

// Config holds server configuration
type Config struct {
	Addr   string
	Runner *agent.Runner
	Store  state.Store
	// Queue receives chat_run tasks for async invokes. Optional.
	Queue     queue.Queue
	QueueName string
	Renderer  *render.Renderer
	Logger    Logger

	// SSE tuning
	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	ReadTimeout time.Duration
	// WriteTimeout applies to every response, including event streams. Zero disables it.
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	Now func() time.Time
}

// New creates a new API server
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "runs"
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.MaxRequestBodyBytes == 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		runner:    cfg.Runner,
		store:     cfg.Store,
		queue:     cfg.Queue,
		queueName: cfg.QueueName,
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
		config:    cfg,
		now:       cfg.Now,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Agents
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)

	// Threads
	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("POST /threads/{id}/invoke", s.handleInvoke)
	mux.HandleFunc("GET /threads/{id}/events", s.handleThreadEvents)
	mux.HandleFunc("GET /threads/{id}/messages", s.handleThreadMessages)
	mux.HandleFunc("GET /threads/{id}/runs", s.handleListRuns)

	// Runs
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)

	return recoveryMiddleware(mux, s.logger)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("[Server] Starting admin API server on %s", s.config.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	log.Printf("[Server] Stopping admin API server")
	return s.httpServer.Shutdown(ctx)
}

// recoveryMiddleware recovers from panics and returns 500.
func recoveryMiddleware(next http.Handler, logger Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				sendError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// sendJSON sends a JSON response
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, state.ErrThreadNotFound),
		errors.Is(err, state.ErrRunNotFound),
		errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	sendError(w, status, err.Error())
}
