package llm

import (
	"context"
	"time"
)

// Client is the provider-agnostic LLM interface used by the agent runner.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*Response, error)
	// ChatStream provides provider-neutral delta streaming.
	ChatStream(ctx context.Context, req *ChatRequest) (Stream, error)
	Model() string
}

// Message represents a single role/content entry in a chat.
// Role is one of "user", "assistant" or "tool".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls are the calls an assistant message made.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a "tool" message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Tool defines a callable function made available to the model.
type Tool struct {
	Type     string       `json:"type"` // typically "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a function signature exposed to the model.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is a model-initiated function call.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON string
}

// Usage contains token usage accounting when provided by the model.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatRequest is the normalized chat request sent to providers.
type ChatRequest struct {
	Messages     []Message `json:"messages"`
	Tools        []Tool    `json:"tools,omitempty"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
}

// Response is the normalized provider response.
type Response struct {
	Content      string     `json:"content"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// RetryConfig controls retry behavior for network/provider errors.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"maxRetries"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initialDelay"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"maxDelay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoffFactor"`
}

// DefaultRetryConfig returns sane defaults for provider retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// PickModel returns the request's model or fallback when unset.
func PickModel(req *ChatRequest, fallback string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return fallback
}
