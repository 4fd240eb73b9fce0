// Package agent runs agent conversations on chat threads and records every
// step as a ChatEvent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/agentconsole/chatevent"
	"github.com/KamdynS/agentconsole/llm"
	"github.com/KamdynS/agentconsole/observability"
	"github.com/KamdynS/agentconsole/state"
	"github.com/KamdynS/agentconsole/tools"
)

var (
	// ErrRunInProgress is returned when a thread already has an unfinished run.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrEmptyInput is returned when a run is started without input.
	ErrEmptyInput = errors.New("input cannot be empty")
)

// Config holds runner dependencies.
type Config struct {
	Store   state.Store
	Catalog *Catalog
	// LLM serves agents without an explicit provider.
	LLM llm.Client
	// Providers maps Definition.Provider to a client.
	Providers map[string]llm.Client
	// Tools is the full tool set; each agent sees the subset it names.
	Tools tools.Registry
	Hooks *observability.Hooks
	Now   func() time.Time
}

// Runner starts and executes runs.
type Runner struct {
	store     state.Store
	catalog   *Catalog
	llm       llm.Client
	providers map[string]llm.Client
	tools     tools.Registry
	hooks     *observability.Hooks
	now       func() time.Time

	// mu serializes thread run bookkeeping so admission checks are atomic in-process.
	mu sync.Mutex
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("agent catalog is required")
	}
	if cfg.LLM == nil && len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("an llm client is required")
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		llm:       cfg.LLM,
		providers: cfg.Providers,
		tools:     cfg.Tools,
		hooks:     cfg.Hooks,
		now:       cfg.Now,
	}, nil
}

// Catalog returns the runner's agent catalog.
func (r *Runner) Catalog() *Catalog { return r.catalog }

// CreateThread saves a new thread for an existing agent. ID is generated when empty.
func (r *Runner) CreateThread(ctx context.Context, th state.Thread) (*state.Thread, error) {
	if _, err := r.catalog.Get(th.AgentID); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	if th.ID == "" {
		th.ID = uuid.NewString()
	}
	th.CurrentRunID, th.LastRunID = "", ""
	th.Created, th.Updated = now, now
	if err := r.store.SaveThread(ctx, &th); err != nil {
		return nil, fmt.Errorf("failed to save thread: %w", err)
	}
	return &th, nil
}

// StartOptions configures run admission.
type StartOptions struct {
	// IdempotencyKey makes repeated starts return the run created first.
	IdempotencyKey string
}

// Invoke starts a run and executes it to completion. A run that fails inside
// the model loop is still returned with a nil error; its State is RunError.
func (r *Runner) Invoke(ctx context.Context, threadID, input string) (*state.Run, error) {
	run, err := r.Start(ctx, threadID, input)
	if err != nil {
		return nil, err
	}
	if err := r.Execute(ctx, run.ID); err != nil {
		return nil, err
	}
	return r.store.GetRun(context.WithoutCancel(ctx), run.ID)
}

// Start admits a run on the thread and records its input. Execute does the rest.
func (r *Runner) Start(ctx context.Context, threadID, input string) (*state.Run, error) {
	return r.StartWithOptions(ctx, threadID, input, StartOptions{})
}

// StartWithOptions is Start with idempotency support.
func (r *Runner) StartWithOptions(ctx context.Context, threadID, input string, opts StartOptions) (*state.Run, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	thread, err := r.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if _, err := r.catalog.Get(thread.AgentID); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	if opts.IdempotencyKey != "" {
		created, existing, err := r.store.MapIdempotencyKey(ctx, opts.IdempotencyKey, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to map idempotency key: %w", err)
		}
		if !created {
			run, err := r.store.GetRun(ctx, existing)
			if err == nil {
				return run, nil
			}
			if !errors.Is(err, state.ErrRunNotFound) {
				return nil, err
			}
			// The key was claimed by an admission that never completed.
			runID = existing
		}
	}

	if err := r.checkIdle(ctx, thread); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	run := &state.Run{
		ID:            runID,
		ThreadID:      thread.ID,
		AgentID:       thread.AgentID,
		PreviousRunID: thread.LastRunID,
		Input:         input,
		State:         state.RunPending,
		Created:       now,
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	thread.CurrentRunID = run.ID
	thread.Updated = now
	if err := r.store.SaveThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to save thread: %w", err)
	}
	if err := r.emit(ctx, run, chatevent.ChatEvent{Input: input}); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *Runner) checkIdle(ctx context.Context, thread *state.Thread) error {
	if thread.CurrentRunID == "" {
		return nil
	}
	cur, err := r.store.GetRun(ctx, thread.CurrentRunID)
	if errors.Is(err, state.ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.IsRunning() {
		return fmt.Errorf("thread %s has run %s: %w", thread.ID, cur.ID, ErrRunInProgress)
	}
	return nil
}

// Execute drives a started run through the model loop. Only pending runs are
// executed; a run already claimed or finished is a no-op.
// The returned error reports storage failures only; model and tool failures are
// recorded on the run and as an error event.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	run, err := r.claim(ctx, runID)
	if err != nil || run == nil {
		return err
	}

	start := r.now()
	r.hooks.SafeRunStarted(ctx, run.ThreadID, run.ID, run.AgentID)

	output, runErr := r.converse(ctx, run)

	// The outcome is recorded even if ctx was cancelled mid-run.
	if err := r.finish(context.WithoutCancel(ctx), run, output, runErr); err != nil {
		return err
	}
	r.hooks.SafeRunFinished(ctx, run.ThreadID, run.ID, r.now().Sub(start), runErr)
	return nil
}

// Fail ends a pending run that will never be executed, e.g. because it could
// not be handed to a worker. The run is recorded like a failed execution: an
// error event closes it and the thread accepts new input again. Runs that were
// already claimed are left alone.
func (r *Runner) Fail(ctx context.Context, runID string, cause error) error {
	run, err := r.claim(ctx, runID)
	if err != nil || run == nil {
		return err
	}
	return r.finish(context.WithoutCancel(ctx), run, "", cause)
}

func (r *Runner) claim(ctx context.Context, runID string) (*state.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State != state.RunPending {
		return nil, nil
	}
	if _, err := r.store.GetThread(ctx, run.ThreadID); errors.Is(err, state.ErrThreadNotFound) {
		log.Printf("[Runner] Skipping run %s, thread %s was deleted", run.ID, run.ThreadID)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	run.State = state.RunRunning
	if err := r.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	return run, nil
}

func (r *Runner) converse(ctx context.Context, run *state.Run) (string, error) {
	def, err := r.catalog.Get(run.AgentID)
	if err != nil {
		return "", err
	}
	client, err := r.clientFor(def)
	if err != nil {
		return "", err
	}
	reg, err := tools.Subset(r.tools, def.Tools)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", def.ID, err)
	}
	toolDefs := tools.FromRegistry(reg)

	records, err := r.store.GetRecords(ctx, run.ThreadID)
	if err != nil {
		return "", fmt.Errorf("failed to load thread history: %w", err)
	}
	msgs := History(state.Events(records))

	var output strings.Builder
	for i := 0; i < def.maxIterations(); i++ {
		if err := r.emit(ctx, run, chatevent.ChatEvent{WaitingOnModel: true}); err != nil {
			return output.String(), err
		}
		req := &llm.ChatRequest{Messages: msgs, Tools: toolDefs, Model: def.Model, SystemPrompt: def.Prompt}
		s, err := client.ChatStream(ctx, req)
		if err != nil {
			return output.String(), fmt.Errorf("llm call failed: %w", err)
		}
		text, calls, err := r.consume(ctx, run, reg, s)
		_ = s.Close()
		output.WriteString(text)
		if err != nil {
			return output.String(), err
		}
		if len(calls) == 0 {
			return output.String(), nil
		}
		msgs = append(msgs, llm.Message{Role: "assistant", Content: text, ToolCalls: calls})
		for _, tc := range calls {
			msgs = append(msgs, r.callTool(ctx, run, reg, tc))
		}
	}
	return output.String(), fmt.Errorf("agent %s did not finish within %d iterations", def.ID, def.maxIterations())
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

// consume records one model turn and returns its text and completed tool calls.
func (r *Runner) consume(ctx context.Context, run *state.Run, reg tools.Registry, s llm.Stream) (string, []llm.ToolCall, error) {
	var text strings.Builder
	var calls []llm.ToolCall
	pending := make(map[string]*pendingCall)
	var order []string
	contentID := ""

	endCall := func(id string) error {
		pc, ok := pending[id]
		if !ok {
			return nil
		}
		delete(pending, id)
		args := pc.args.String()
		desc := ""
		if t, ok := reg.Get(pc.name); ok {
			desc = t.Description()
		}
		calls = append(calls, llm.ToolCall{ID: pc.id, Name: pc.name, Arguments: args})
		contentID = ""
		return r.emit(ctx, run, chatevent.ChatEvent{ToolCall: &chatevent.ToolCall{
			Name:        pc.name,
			Description: desc,
			Input:       args,
			Metadata:    &chatevent.ToolCallMetadata{Category: "tool"},
		}})
	}

recv:
	for {
		d, err := s.Recv(ctx)
		if errors.Is(err, llm.ErrStreamClosed) {
			break
		}
		if err != nil {
			return text.String(), calls, fmt.Errorf("llm stream failed: %w", err)
		}
		switch d.Type {
		case llm.DeltaTypeText:
			if d.Text == "" {
				continue
			}
			if contentID == "" {
				contentID = uuid.NewString()
			}
			text.WriteString(d.Text)
			if err := r.emit(ctx, run, chatevent.ChatEvent{Content: d.Text, ContentID: contentID}); err != nil {
				return text.String(), calls, err
			}
		case llm.DeltaTypeToolCallStart:
			if d.ToolChunk == nil {
				continue
			}
			pending[d.ToolChunk.ID] = &pendingCall{id: d.ToolChunk.ID, name: d.ToolChunk.Name}
			order = append(order, d.ToolChunk.ID)
			if err := r.emit(ctx, run, chatevent.ChatEvent{ToolInput: &chatevent.ToolInput{InternalToolName: d.ToolChunk.Name}}); err != nil {
				return text.String(), calls, err
			}
		case llm.DeltaTypeToolCallDelta:
			if d.ToolChunk == nil {
				continue
			}
			pc, ok := pending[d.ToolChunk.ID]
			if !ok || d.ToolChunk.Arguments == "" {
				continue
			}
			pc.args.WriteString(d.ToolChunk.Arguments)
			if err := r.emit(ctx, run, chatevent.ChatEvent{ToolInput: &chatevent.ToolInput{InternalToolName: pc.name, Content: d.ToolChunk.Arguments}}); err != nil {
				return text.String(), calls, err
			}
		case llm.DeltaTypeToolCallEnd:
			if d.ToolChunk == nil {
				continue
			}
			if err := endCall(d.ToolChunk.ID); err != nil {
				return text.String(), calls, err
			}
		case llm.DeltaTypeDone:
			break recv
		}
	}
	// Providers that never close a call still get it executed.
	for _, id := range order {
		if err := endCall(id); err != nil {
			return text.String(), calls, err
		}
	}
	return text.String(), calls, nil
}

func (r *Runner) callTool(ctx context.Context, run *state.Run, reg tools.Registry, tc llm.ToolCall) llm.Message {
	start := r.now()
	out, err := reg.Execute(ctx, tc.Name, tc.Arguments)
	r.hooks.SafeToolCall(ctx, run.ID, tc.Name, r.now().Sub(start), err)
	if err != nil {
		return llm.Message{Role: "tool", ToolCallID: tc.ID, Content: err.Error(), IsError: true}
	}
	return llm.Message{Role: "tool", ToolCallID: tc.ID, Content: out}
}

func (r *Runner) finish(ctx context.Context, run *state.Run, output string, runErr error) error {
	now := r.now().UTC()
	final := state.NewRecord(run.ThreadID, chatevent.ChatEvent{RunID: run.ID})
	final.RunComplete = true
	run.Output = output
	run.Finished = &now
	if runErr != nil {
		run.State = state.RunError
		run.Error = runErr.Error()
		final.Event.Error = runErr.Error()
		log.Printf("[Runner] Run %s on thread %s failed: %v", run.ID, run.ThreadID, runErr)
	} else {
		run.State = state.RunCompleted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	thread, err := r.store.GetThread(ctx, run.ThreadID)
	if errors.Is(err, state.ErrThreadNotFound) {
		// Deleted mid-run; persisting now would leave orphans.
		log.Printf("[Runner] Thread %s deleted during run %s, dropping result", run.ThreadID, run.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.AppendRecord(ctx, final); err != nil {
		return fmt.Errorf("failed to append final event: %w", err)
	}
	if err := r.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if thread.CurrentRunID == run.ID {
		thread.CurrentRunID = ""
	}
	thread.LastRunID = run.ID
	thread.Updated = now
	if err := r.store.SaveThread(ctx, thread); err != nil {
		return fmt.Errorf("failed to save thread: %w", err)
	}
	return nil
}

func (r *Runner) emit(ctx context.Context, run *state.Run, ev chatevent.ChatEvent) error {
	ev.RunID = run.ID
	if err := r.store.AppendRecord(ctx, state.NewRecord(run.ThreadID, ev)); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *Runner) clientFor(def Definition) (llm.Client, error) {
	if def.Provider != "" {
		if c, ok := r.providers[def.Provider]; ok && c != nil {
			return c, nil
		}
		return nil, fmt.Errorf("agent %s: provider %q is not configured", def.ID, def.Provider)
	}
	if r.llm == nil {
		return nil, fmt.Errorf("agent %s: no default llm client", def.ID)
	}
	return r.llm, nil
}

// Messages returns the thread's events merged for display.
func (r *Runner) Messages(ctx context.Context, threadID string) ([]chatevent.ChatEvent, error) {
	if _, err := r.store.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	records, err := r.store.GetRecords(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return chatevent.Combine(state.Events(records)), nil
}

// RunMessages returns the merged events of a single run.
func (r *Runner) RunMessages(ctx context.Context, run *state.Run) ([]chatevent.ChatEvent, error) {
	records, err := r.store.GetRecords(ctx, run.ThreadID)
	if err != nil {
		return nil, err
	}
	return chatevent.Combine(state.RunEvents(records, run.ID)), nil
}

// History converts thread events into model messages. Inputs become user turns
// and merged content becomes assistant turns; consecutive turns of the same
// role are joined.
func History(events []chatevent.ChatEvent) []llm.Message {
	combined := chatevent.Combine(events)
	msgs := make([]llm.Message, 0, len(combined))
	add := func(role, content string) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n\n" + content
			return
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	// Errors and tool calls are not replayed.
	for _, ev := range combined {
		if ev.Input != "" {
			add("user", ev.Input)
		}
		if ev.Content != "" {
			add("assistant", ev.Content)
		}
	}
	return msgs
}
