package observability

import (
	"context"
	"time"
)

// Hooks provides optional callbacks for logging, metrics, and tracing without
// introducing dependencies in the core packages. All functions are optional
// and every Safe* method is nil-safe on both the receiver and the field.
type Hooks struct {
	// Logf logs a structured message with a severity level and key-value fields.
	Logf func(ctx context.Context, level string, msg string, fields map[string]any)

	// OnLLMRequest is called before a provider request is sent.
	OnLLMRequest func(ctx context.Context, provider string, model string, meta map[string]any)
	// OnLLMResponse is called after a provider response is received.
	OnLLMResponse func(ctx context.Context, provider string, model string, latency time.Duration, meta map[string]any)
	// OnLLMRetry is called when a retry is attempted.
	OnLLMRetry func(ctx context.Context, provider string, model string, attempt int, err error)

	// OnRunStarted is called when an agent run begins on a thread.
	OnRunStarted func(ctx context.Context, threadID, runID, agentID string)
	// OnRunFinished is called when a run reaches a terminal state. err is nil on success.
	OnRunFinished func(ctx context.Context, threadID, runID string, elapsed time.Duration, err error)
	// OnToolCall is called after a tool invocation completes.
	OnToolCall func(ctx context.Context, runID, tool string, elapsed time.Duration, err error)
}

// SafeLog logs if Logf is configured.
func (h *Hooks) SafeLog(ctx context.Context, level string, msg string, fields map[string]any) {
	if h != nil && h.Logf != nil {
		h.Logf(ctx, level, msg, fields)
	}
}

// SafeLLMRequest invokes OnLLMRequest if configured.
func (h *Hooks) SafeLLMRequest(ctx context.Context, provider string, model string, meta map[string]any) {
	if h != nil && h.OnLLMRequest != nil {
		h.OnLLMRequest(ctx, provider, model, meta)
	}
}

// SafeLLMResponse invokes OnLLMResponse if configured.
func (h *Hooks) SafeLLMResponse(ctx context.Context, provider string, model string, latency time.Duration, meta map[string]any) {
	if h != nil && h.OnLLMResponse != nil {
		h.OnLLMResponse(ctx, provider, model, latency, meta)
	}
}

// SafeLLMRetry invokes OnLLMRetry if configured.
func (h *Hooks) SafeLLMRetry(ctx context.Context, provider string, model string, attempt int, err error) {
	if h != nil && h.OnLLMRetry != nil {
		h.OnLLMRetry(ctx, provider, model, attempt, err)
	}
}

// SafeRunStarted invokes OnRunStarted if configured.
func (h *Hooks) SafeRunStarted(ctx context.Context, threadID, runID, agentID string) {
	if h != nil && h.OnRunStarted != nil {
		h.OnRunStarted(ctx, threadID, runID, agentID)
	}
}

// SafeRunFinished invokes OnRunFinished if configured.
func (h *Hooks) SafeRunFinished(ctx context.Context, threadID, runID string, elapsed time.Duration, err error) {
	if h != nil && h.OnRunFinished != nil {
		h.OnRunFinished(ctx, threadID, runID, elapsed, err)
	}
}

// SafeToolCall invokes OnToolCall if configured.
func (h *Hooks) SafeToolCall(ctx context.Context, runID, tool string, elapsed time.Duration, err error) {
	if h != nil && h.OnToolCall != nil {
		h.OnToolCall(ctx, runID, tool, elapsed, err)
	}
}
