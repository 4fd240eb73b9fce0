package llm

import (
	"context"
	"errors"
)

// DeltaType identifies the kind of streaming event emitted by a provider.
type DeltaType string

const (
	DeltaTypeText          DeltaType = "text"
	DeltaTypeToolCallStart DeltaType = "tool_call_start"
	DeltaTypeToolCallDelta DeltaType = "tool_call_delta"
	DeltaTypeToolCallEnd   DeltaType = "tool_call_end"
	DeltaTypeDone          DeltaType = "done"
)

// ToolCallChunk represents an incremental tool call payload.
// ID and Name are set on start; Arguments carries the chunk on delta.
type ToolCallChunk struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // chunked JSON string
}

// Delta is a provider-neutral streaming event.
type Delta struct {
	Type      DeltaType      `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolChunk *ToolCallChunk `json:"tool_chunk,omitempty"`
	// Provider/model are optional hints for observability
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Stream provides a pull-based API over provider event streams.
// Implementations return (Delta{Type: DeltaTypeDone}, nil) when complete and
// may return a zero Delta for provider events that carry nothing.
type Stream interface {
	Recv(ctx context.Context) (Delta, error)
	Close() error
}

// ErrStreamClosed indicates Recv was called after Close or terminal event.
var ErrStreamClosed = errors.New("stream closed")

// StaticStream replays a fixed response as deltas. Provider clients configured
// with streaming disabled return one from ChatStream.
type StaticStream struct {
	deltas []Delta
	idx    int
	closed bool
}

// NewStaticStream builds a stream that emits resp's text and tool calls, then done.
func NewStaticStream(resp *Response, provider, model string) *StaticStream {
	s := &StaticStream{}
	if resp == nil {
		resp = &Response{}
	}
	if resp.Content != "" {
		s.deltas = append(s.deltas, Delta{Type: DeltaTypeText, Text: resp.Content, Provider: provider, Model: model})
	}
	for _, tc := range resp.ToolCalls {
		s.deltas = append(s.deltas,
			Delta{Type: DeltaTypeToolCallStart, ToolChunk: &ToolCallChunk{ID: tc.ID, Name: tc.Name}, Provider: provider, Model: model},
			Delta{Type: DeltaTypeToolCallDelta, ToolChunk: &ToolCallChunk{ID: tc.ID, Arguments: tc.Arguments}, Provider: provider, Model: model},
			Delta{Type: DeltaTypeToolCallEnd, ToolChunk: &ToolCallChunk{ID: tc.ID}, Provider: provider, Model: model},
		)
	}
	s.deltas = append(s.deltas, Delta{Type: DeltaTypeDone, Provider: provider, Model: model})
	return s
}

// Recv implements Stream.
func (s *StaticStream) Recv(ctx context.Context) (Delta, error) {
	if s.closed || s.idx >= len(s.deltas) {
		return Delta{}, ErrStreamClosed
	}
	d := s.deltas[s.idx]
	s.idx++
	if d.Type == DeltaTypeDone {
		s.closed = true
	}
	return d, nil
}

// Close implements Stream.
func (s *StaticStream) Close() error { s.closed = true; return nil }
