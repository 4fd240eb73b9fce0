package anthropic

import (
	"context"
	"time"

	anth "github.com/anthropics/anthropic-sdk-go"

	base "github.com/KamdynS/agentconsole/llm"
)

// eventStream matches the subset of the SDK stream API we use.
type eventStream interface {
	Next() bool
	Current() anth.MessageStreamEventUnion
	Err() error
	Close() error
}

// ChatStream implements provider-neutral streaming over the SDK event stream.
func (c *Client) ChatStream(ctx context.Context, req *base.ChatRequest) (base.Stream, error) {
	if c.cfg.DisableStreaming {
		resp, err := c.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return base.NewStaticStream(resp, providerName, base.PickModel(req, c.cfg.Model)), nil
	}
	params := toAnthParams(req, c.cfg)
	model := string(params.Model)
	c.cfg.Hooks.SafeLLMRequest(ctx, providerName, model, map[string]any{"operation": "chat_stream"})
	s := c.client.Messages.NewStreaming(ctx, params)
	return newStreamWrapper(s, model, func(err error, elapsed time.Duration) {
		c.cfg.Hooks.SafeLLMResponse(ctx, providerName, model, elapsed, map[string]any{"operation": "chat_stream", "error": err != nil})
	}), nil
}

type streamWrapper struct {
	inner  eventStream
	model  string
	closed bool
	start  time.Time
	// toolIDs maps content block index to tool_use id
	toolIDs map[int64]string
	onDone  func(err error, elapsed time.Duration)
}

func newStreamWrapper(inner eventStream, model string, onDone func(error, time.Duration)) *streamWrapper {
	return &streamWrapper{inner: inner, model: model, start: time.Now(), toolIDs: make(map[int64]string), onDone: onDone}
}

func (w *streamWrapper) Recv(ctx context.Context) (base.Delta, error) {
	if w.closed {
		return base.Delta{}, base.ErrStreamClosed
	}
	if !w.inner.Next() {
		err := w.inner.Err()
		w.finish(err)
		if err != nil {
			return base.Delta{}, err
		}
		return w.delta(base.DeltaTypeDone), nil
	}

	switch e := w.inner.Current().AsAny().(type) {
	case anth.ContentBlockStartEvent:
		switch block := e.ContentBlock.AsAny().(type) {
		case anth.ToolUseBlock:
			w.toolIDs[e.Index] = block.ID
			d := w.delta(base.DeltaTypeToolCallStart)
			d.ToolChunk = &base.ToolCallChunk{ID: block.ID, Name: block.Name}
			return d, nil
		case anth.TextBlock:
			if block.Text != "" {
				d := w.delta(base.DeltaTypeText)
				d.Text = block.Text
				return d, nil
			}
		}
	case anth.ContentBlockDeltaEvent:
		switch delta := e.Delta.AsAny().(type) {
		case anth.TextDelta:
			d := w.delta(base.DeltaTypeText)
			d.Text = delta.Text
			return d, nil
		case anth.InputJSONDelta:
			d := w.delta(base.DeltaTypeToolCallDelta)
			d.ToolChunk = &base.ToolCallChunk{ID: w.toolIDs[e.Index], Arguments: delta.PartialJSON}
			return d, nil
		}
	case anth.ContentBlockStopEvent:
		if id, ok := w.toolIDs[e.Index]; ok {
			delete(w.toolIDs, e.Index)
			d := w.delta(base.DeltaTypeToolCallEnd)
			d.ToolChunk = &base.ToolCallChunk{ID: id}
			return d, nil
		}
	case anth.MessageStopEvent:
		w.finish(nil)
		return w.delta(base.DeltaTypeDone), nil
	}
	// Events that carry nothing for the caller.
	return base.Delta{}, nil
}

func (w *streamWrapper) delta(t base.DeltaType) base.Delta {
	return base.Delta{Type: t, Provider: providerName, Model: w.model}
}

func (w *streamWrapper) finish(err error) {
	if w.closed {
		return
	}
	w.closed = true
	if w.onDone != nil {
		w.onDone(err, time.Since(w.start))
	}
}

func (w *streamWrapper) Close() error {
	w.finish(nil)
	return w.inner.Close()
}
