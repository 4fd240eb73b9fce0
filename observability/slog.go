package observability

import (
	"context"
	"log/slog"
	"time"
)

// NewSlogHooks returns Hooks that write every callback to logger.
// A nil logger uses slog.Default().
func NewSlogHooks(logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{
		Logf: func(ctx context.Context, level string, msg string, fields map[string]any) {
			logger.Log(ctx, ParseLevel(level), msg, attrs(fields)...)
		},
		OnLLMRequest: func(ctx context.Context, provider, model string, meta map[string]any) {
			logger.DebugContext(ctx, "llm request", append([]any{"provider", provider, "model", model}, attrs(meta)...)...)
		},
		OnLLMResponse: func(ctx context.Context, provider, model string, latency time.Duration, meta map[string]any) {
			logger.DebugContext(ctx, "llm response", append([]any{"provider", provider, "model", model, "latency", latency}, attrs(meta)...)...)
		},
		OnLLMRetry: func(ctx context.Context, provider, model string, attempt int, err error) {
			logger.WarnContext(ctx, "llm retry", "provider", provider, "model", model, "attempt", attempt, "error", err)
		},
		OnRunStarted: func(ctx context.Context, threadID, runID, agentID string) {
			logger.InfoContext(ctx, "run started", "thread_id", threadID, "run_id", runID, "agent_id", agentID)
		},
		OnRunFinished: func(ctx context.Context, threadID, runID string, elapsed time.Duration, err error) {
			if err != nil {
				logger.ErrorContext(ctx, "run failed", "thread_id", threadID, "run_id", runID, "elapsed", elapsed, "error", err)
				return
			}
			logger.InfoContext(ctx, "run finished", "thread_id", threadID, "run_id", runID, "elapsed", elapsed)
		},
		OnToolCall: func(ctx context.Context, runID, tool string, elapsed time.Duration, err error) {
			if err != nil {
				logger.WarnContext(ctx, "tool failed", "run_id", runID, "tool", tool, "elapsed", elapsed, "error", err)
				return
			}
			logger.DebugContext(ctx, "tool call", "run_id", runID, "tool", tool, "elapsed", elapsed)
		},
	}
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func attrs(fields map[string]any) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
