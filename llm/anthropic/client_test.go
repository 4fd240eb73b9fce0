package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	anth "github.com/anthropics/anthropic-sdk-go"

	base "github.com/KamdynS/agentconsole/llm"
)

type fakeEventStream struct {
	events []anth.MessageStreamEventUnion
	idx    int
	closed bool
}

func (f *fakeEventStream) Next() bool {
	if f.idx >= len(f.events) {
		return false
	}
	f.idx++
	return true
}
func (f *fakeEventStream) Current() anth.MessageStreamEventUnion { return f.events[f.idx-1] }
func (f *fakeEventStream) Err() error                            { return nil }
func (f *fakeEventStream) Close() error                          { f.closed = true; return nil }

func mustEvents(t *testing.T, raw ...string) []anth.MessageStreamEventUnion {
	t.Helper()
	out := make([]anth.MessageStreamEventUnion, 0, len(raw))
	for _, r := range raw {
		var ev anth.MessageStreamEventUnion
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			t.Fatalf("unmarshal %s: %v", r, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestStreamWrapper_MapsTextAndToolUse(t *testing.T) {
	events := mustEvents(t,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"time","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"tz\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_stop"}`,
	)
	inner := &fakeEventStream{events: events}
	var doneCalled bool
	w := newStreamWrapper(inner, "claude-test", func(err error, _ time.Duration) { doneCalled = true })

	var text, args string
	var started, ended bool
	for {
		d, err := w.Recv(context.Background())
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if d.Type == base.DeltaTypeDone {
			break
		}
		switch d.Type {
		case base.DeltaTypeText:
			text += d.Text
		case base.DeltaTypeToolCallStart:
			started = d.ToolChunk.ID == "tu_1" && d.ToolChunk.Name == "time"
		case base.DeltaTypeToolCallDelta:
			if d.ToolChunk.ID != "tu_1" {
				t.Fatalf("delta lost tool id: %+v", d.ToolChunk)
			}
			args += d.ToolChunk.Arguments
		case base.DeltaTypeToolCallEnd:
			ended = d.ToolChunk.ID == "tu_1"
		}
	}
	if text != "Hello" {
		t.Fatalf("text=%q", text)
	}
	if !started || !ended {
		t.Fatalf("tool call start/end not mapped (start=%v end=%v)", started, ended)
	}
	if args != `{"tz":"UTC"}` {
		t.Fatalf("args=%q", args)
	}
	if !doneCalled {
		t.Fatalf("expected completion callback")
	}
	if _, err := w.Recv(context.Background()); err != base.ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed after done, got %v", err)
	}
	_ = w.Close()
	if !inner.closed {
		t.Fatalf("expected inner stream closed")
	}
}

func TestToAnthMessages_FoldsToolResults(t *testing.T) {
	msgs := toAnthMessages([]base.Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", ToolCalls: []base.ToolCall{
			{ID: "a", Name: "time", Arguments: `{}`},
			{ID: "b", Name: "time", Arguments: ``},
		}},
		{Role: "tool", ToolCallID: "a", Content: "12:00"},
		{Role: "tool", ToolCallID: "b", Content: "boom", IsError: true},
		{Role: "assistant", Content: "noon"},
		{Role: "user", Content: ""},
	})
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != anth.MessageParamRoleUser || msgs[1].Role != anth.MessageParamRoleAssistant {
		t.Fatalf("unexpected roles %s %s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].Content) != 2 {
		t.Fatalf("expected 2 tool_use blocks, got %d", len(msgs[1].Content))
	}
	if msgs[2].Role != anth.MessageParamRoleUser || len(msgs[2].Content) != 2 {
		t.Fatalf("expected folded tool results, got role=%s blocks=%d", msgs[2].Role, len(msgs[2].Content))
	}
	if msgs[3].Role != anth.MessageParamRoleAssistant {
		t.Fatalf("expected trailing assistant message")
	}
}

func TestToAnthTools_SchemaPassThrough(t *testing.T) {
	tools := toAnthTools([]base.Tool{
		{Type: "function", Function: base.ToolFunction{
			Name:        "time",
			Description: "current time",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"tz": map[string]interface{}{"type": "string"}},
				"required":   []interface{}{"tz"},
			},
		}},
		{Type: "other"},
	})
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	tp := tools[0].OfTool
	if tp == nil || tp.Name != "time" {
		t.Fatalf("unexpected tool param %+v", tp)
	}
	if len(tp.InputSchema.Required) != 1 || tp.InputSchema.Required[0] != "tz" {
		t.Fatalf("required not mapped: %v", tp.InputSchema.Required)
	}
	if tp.InputSchema.Properties == nil {
		t.Fatalf("properties not mapped")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Model() == "" {
		t.Fatalf("expected default model")
	}
	if c.cfg.MaxTokens == 0 || c.cfg.Timeout == 0 || c.cfg.Retry.MaxRetries == 0 {
		t.Fatalf("defaults not applied: %+v", c.cfg)
	}
}

func TestChatStream_DisableStreaming(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"Checking"},{"type":"tool_use","id":"tu_1","name":"time","input":{"tz":"UTC"}}],
			"stop_reason":"tool_use","usage":{"input_tokens":3,"output_tokens":5}}`)
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "test", Model: "claude-test", BaseURL: srv.URL + "/", DisableStreaming: true})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	s, err := c.ChatStream(context.Background(), &base.ChatRequest{Messages: []base.Message{{Role: "user", Content: "time?"}}})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	defer s.Close()

	if !strings.HasSuffix(path, "/messages") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, ok := body["stream"]; ok {
		t.Fatalf("expected a non-streaming request, got %v", body["stream"])
	}

	var text, args string
	var types []base.DeltaType
	for {
		d, err := s.Recv(context.Background())
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		types = append(types, d.Type)
		if d.Provider != providerName {
			t.Fatalf("delta provider %q", d.Provider)
		}
		if d.Type == base.DeltaTypeDone {
			break
		}
		switch d.Type {
		case base.DeltaTypeText:
			text += d.Text
		case base.DeltaTypeToolCallDelta:
			args += d.ToolChunk.Arguments
		}
	}
	if text != "Checking" {
		t.Fatalf("text=%q", text)
	}
	var parsed map[string]string
	if err := json.Unmarshal([]byte(args), &parsed); err != nil || parsed["tz"] != "UTC" {
		t.Fatalf("args=%q err=%v", args, err)
	}
	if len(types) != 5 {
		t.Fatalf("expected text, tool start/delta/end and done, got %v", types)
	}
}
