package openai

import (
	"context"
	"net/http"
	"time"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	base "github.com/KamdynS/agentconsole/llm"
	"github.com/KamdynS/agentconsole/observability"
)

const providerName = "openai"

// Client implements llm.Client for the OpenAI official SDK.
type Client struct {
	client oa.Client
	cfg    Config
}

// Config configures the OpenAI client.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	Retry        base.RetryConfig
	Organization string
	Hooks        *observability.Hooks
	// DisableStreaming makes ChatStream issue a single non-streaming request
	// and replay the reply.
	DisableStreaming bool
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = base.DefaultRetryConfig()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	opts := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	c := oa.NewClient(opts...)
	return &Client{client: c, cfg: cfg}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) Chat(ctx context.Context, req *base.ChatRequest) (*base.Response, error) {
	start := time.Now()
	model := base.PickModel(req, c.cfg.Model)
	c.cfg.Hooks.SafeLLMRequest(ctx, providerName, model, map[string]any{"operation": "chat"})
	var resp *oa.ChatCompletion
	retrier := base.NewRetrier(c.cfg.Retry).OnRetry(func(attempt int, err error) {
		c.cfg.Hooks.SafeLLMRetry(ctx, providerName, model, attempt, err)
	})
	err := retrier.Do(ctx, func() error {
		r, err := c.client.Chat.Completions.New(ctx, c.params(req))
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	c.cfg.Hooks.SafeLLMResponse(ctx, providerName, model, time.Since(start), map[string]any{"operation": "chat", "error": err != nil})
	if err != nil {
		return nil, err
	}
	return fromOAResponse(resp), nil
}

// ChatStream implements provider-neutral delta streaming for OpenAI.
func (c *Client) ChatStream(ctx context.Context, req *base.ChatRequest) (base.Stream, error) {
	if c.cfg.DisableStreaming {
		resp, err := c.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return base.NewStaticStream(resp, providerName, base.PickModel(req, c.cfg.Model)), nil
	}
	start := time.Now()
	params := c.params(req)
	model := string(params.Model)
	c.cfg.Hooks.SafeLLMRequest(ctx, providerName, model, map[string]any{"operation": "chat_stream"})
	s := c.client.Chat.Completions.NewStreaming(ctx, params)
	w := newStreamWrapper(s, model)
	w.onDone = func(err error) {
		c.cfg.Hooks.SafeLLMResponse(ctx, providerName, model, time.Since(start), map[string]any{"operation": "chat_stream", "error": err != nil})
	}
	return w, nil
}

func (c *Client) params(req *base.ChatRequest) oa.ChatCompletionNewParams {
	params := oa.ChatCompletionNewParams{Messages: toOAMessages(req)}
	if m := base.PickModel(req, c.cfg.Model); m != "" {
		params.Model = shared.ChatModel(m)
	}
	if c.cfg.MaxTokens > 0 {
		params.MaxTokens = oa.Int(int64(c.cfg.MaxTokens))
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = oa.Float(c.cfg.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toOATools(req.Tools)
	}
	return params
}

func toOAMessages(req *base.ChatRequest) []oa.ChatCompletionMessageParamUnion {
	msgs := make([]oa.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfSystem: &oa.ChatCompletionSystemMessageParam{Content: oa.ChatCompletionSystemMessageParamContentUnion{OfString: oa.String(req.SystemPrompt)}}})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfSystem: &oa.ChatCompletionSystemMessageParam{Content: oa.ChatCompletionSystemMessageParamContentUnion{OfString: oa.String(m.Content)}}})
		case "assistant":
			am := &oa.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				am.Content = oa.ChatCompletionAssistantMessageParamContentUnion{OfString: oa.String(m.Content)}
			}
			if len(m.ToolCalls) > 0 {
				am.ToolCalls = toOAToolCalls(m.ToolCalls)
			}
			msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfAssistant: am})
		case "tool":
			msgs = append(msgs, oa.ToolMessage(m.Content, m.ToolCallID))
		default:
			msgs = append(msgs, oa.ChatCompletionMessageParamUnion{OfUser: &oa.ChatCompletionUserMessageParam{Content: oa.ChatCompletionUserMessageParamContentUnion{OfString: oa.String(m.Content)}}})
		}
	}
	return msgs
}

func fromOAResponse(r *oa.ChatCompletion) *base.Response {
	if r == nil {
		return &base.Response{Provider: providerName}
	}
	if len(r.Choices) == 0 {
		return &base.Response{Provider: providerName, Model: r.Model}
	}
	choice := r.Choices[0]
	resp := &base.Response{
		Content:      choice.Message.Content,
		Provider:     providerName,
		Model:        r.Model,
		FinishReason: string(choice.FinishReason),
	}
	if len(choice.Message.ToolCalls) > 0 {
		calls := make([]base.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, base.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		resp.ToolCalls = calls
	}
	resp.Usage = &base.Usage{
		InputTokens:  int(r.Usage.PromptTokens),
		OutputTokens: int(r.Usage.CompletionTokens),
		TotalTokens:  int(r.Usage.TotalTokens),
	}
	return resp
}
