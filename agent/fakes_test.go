package agent_test

import (
	"context"
	"sync"

	"github.com/KamdynS/agentconsole/llm"
)

// ---- Fakes ----

// scriptedLLM replays one delta script per ChatStream call.
type scriptedLLM struct {
	mu       sync.Mutex
	turns    [][]llm.Delta
	repeat   []llm.Delta
	err      error
	requests []llm.ChatRequest
	onStream func()
}

func (f *scriptedLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	return &llm.Response{Content: "unused"}, nil
}

func (f *scriptedLLM) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	if f.onStream != nil {
		f.onStream()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	f.requests = append(f.requests, cp)
	if f.err != nil {
		return nil, f.err
	}
	if f.repeat != nil {
		return &fakeStream{deltas: f.repeat}, nil
	}
	if len(f.turns) == 0 {
		return &fakeStream{deltas: []llm.Delta{{Type: llm.DeltaTypeDone}}}, nil
	}
	t := f.turns[0]
	f.turns = f.turns[1:]
	return &fakeStream{deltas: t}, nil
}

func (f *scriptedLLM) Model() string { return "scripted" }

func (f *scriptedLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

type fakeStream struct {
	deltas []llm.Delta
	idx    int
	failAt int // 1-based index returning streamErr; 0 disables
	err    error
}

func (s *fakeStream) Recv(ctx context.Context) (llm.Delta, error) {
	if s.failAt > 0 && s.idx+1 == s.failAt {
		return llm.Delta{}, s.err
	}
	if s.idx >= len(s.deltas) {
		return llm.Delta{}, llm.ErrStreamClosed
	}
	d := s.deltas[s.idx]
	s.idx++
	return d, nil
}

func (s *fakeStream) Close() error { return nil }

// failingLLM streams some text then errors.
type failingLLM struct{ err error }

func (f *failingLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.Response, error) {
	return nil, f.err
}
func (f *failingLLM) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.Stream, error) {
	return &fakeStream{deltas: textTurn("partial"), failAt: 2, err: f.err}, nil
}
func (f *failingLLM) Model() string { return "failing" }

// ---- Helpers ----

func textTurn(parts ...string) []llm.Delta {
	out := make([]llm.Delta, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, llm.Delta{Type: llm.DeltaTypeText, Text: p})
	}
	return append(out, llm.Delta{Type: llm.DeltaTypeDone})
}

func toolTurn(text, id, name string, argChunks ...string) []llm.Delta {
	var out []llm.Delta
	if text != "" {
		out = append(out, llm.Delta{Type: llm.DeltaTypeText, Text: text})
	}
	out = append(out, llm.Delta{Type: llm.DeltaTypeToolCallStart, ToolChunk: &llm.ToolCallChunk{ID: id, Name: name}})
	for _, a := range argChunks {
		out = append(out, llm.Delta{Type: llm.DeltaTypeToolCallDelta, ToolChunk: &llm.ToolCallChunk{ID: id, Arguments: a}})
	}
	out = append(out,
		llm.Delta{Type: llm.DeltaTypeToolCallEnd, ToolChunk: &llm.ToolCallChunk{ID: id}},
		llm.Delta{Type: llm.DeltaTypeDone},
	)
	return out
}
