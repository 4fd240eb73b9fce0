package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	anth "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	base "github.com/KamdynS/agentconsole/llm"
	"github.com/KamdynS/agentconsole/observability"
)

const providerName = "anthropic"

// Client implements llm.Client for the Anthropic Claude Messages API.
type Client struct {
	client anth.Client
	cfg    Config
}

// Config configures the Anthropic client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       base.RetryConfig
	Hooks       *observability.Hooks
	// DisableStreaming makes ChatStream issue a single non-streaming request
	// and replay the reply.
	DisableStreaming bool
}

// NewClient creates an Anthropic client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = base.DefaultRetryConfig()
	}

	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	c := anth.NewClient(opts...)
	return &Client{client: c, cfg: cfg}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) Chat(ctx context.Context, req *base.ChatRequest) (*base.Response, error) {
	model := base.PickModel(req, c.cfg.Model)
	c.cfg.Hooks.SafeLLMRequest(ctx, providerName, model, map[string]any{"operation": "chat"})
	start := time.Now()
	var out *anth.Message
	retrier := base.NewRetrier(c.cfg.Retry).OnRetry(func(attempt int, err error) {
		c.cfg.Hooks.SafeLLMRetry(ctx, providerName, model, attempt, err)
	})
	err := retrier.Do(ctx, func() error {
		resp, err := c.client.Messages.New(ctx, toAnthParams(req, c.cfg))
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	c.cfg.Hooks.SafeLLMResponse(ctx, providerName, model, time.Since(start), map[string]any{"operation": "chat", "error": err != nil})
	if err != nil {
		return nil, err
	}
	return fromAnthMessage(out), nil
}

func toAnthParams(req *base.ChatRequest, cfg Config) anth.MessageNewParams {
	params := anth.MessageNewParams{
		Messages:  toAnthMessages(req.Messages),
		MaxTokens: int64(cfg.MaxTokens),
		Model:     anth.Model(base.PickModel(req, cfg.Model)),
	}
	if req.SystemPrompt != "" {
		params.System = []anth.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthTools(req.Tools)
	}
	if cfg.Temperature > 0 {
		params.Temperature = anth.Float(cfg.Temperature)
	}
	return params
}

// toAnthMessages converts normalized messages. Consecutive tool results are
// folded into a single user message as the Messages API requires.
func toAnthMessages(in []base.Message) []anth.MessageParam {
	msgs := make([]anth.MessageParam, 0, len(in))
	lastWasToolResult := false
	for _, m := range in {
		switch m.Role {
		case "system":
			continue
		case "tool":
			block := anth.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			if lastWasToolResult {
				last := &msgs[len(msgs)-1]
				last.Content = append(last.Content, block)
			} else {
				msgs = append(msgs, anth.NewUserMessage(block))
			}
			lastWasToolResult = true
			continue
		case "assistant":
			content := make([]anth.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				content = append(content, anth.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				content = append(content, anth.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				msgs = append(msgs, anth.MessageParam{Role: anth.MessageParamRoleAssistant, Content: content})
			}
		default:
			if m.Content != "" {
				msgs = append(msgs, anth.NewUserMessage(anth.NewTextBlock(m.Content)))
			}
		}
		lastWasToolResult = false
	}
	return msgs
}

// toAnthTools converts tool definitions into Anthropic tool params.
func toAnthTools(tools []base.Tool) []anth.ToolUnionParam {
	out := make([]anth.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Type != "function" {
			continue
		}
		schema := anth.ToolInputSchemaParam{Type: "object"}
		if props, ok := t.Function.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(t.Function.Parameters["required"])
		tp := &anth.ToolParam{Name: t.Function.Name, InputSchema: schema}
		if t.Function.Description != "" {
			tp.Description = anth.String(t.Function.Description)
		}
		out = append(out, anth.ToolUnionParam{OfTool: tp})
	}
	return out
}

func requiredFields(v interface{}) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fromAnthMessage(m *anth.Message) *base.Response {
	if m == nil {
		return &base.Response{Provider: providerName}
	}
	var content string
	var toolCalls []base.ToolCall
	for _, block := range m.Content {
		switch variant := block.AsAny().(type) {
		case anth.TextBlock:
			content += variant.Text
		case anth.ToolUseBlock:
			toolCalls = append(toolCalls, base.ToolCall{ID: variant.ID, Name: variant.Name, Arguments: string(variant.Input)})
		}
	}
	resp := &base.Response{
		Content:      content,
		Provider:     providerName,
		Model:        string(m.Model),
		ToolCalls:    toolCalls,
		FinishReason: string(m.StopReason),
	}
	resp.Usage = &base.Usage{
		InputTokens:  int(m.Usage.InputTokens),
		OutputTokens: int(m.Usage.OutputTokens),
		TotalTokens:  int(m.Usage.InputTokens + m.Usage.OutputTokens),
	}
	return resp
}
