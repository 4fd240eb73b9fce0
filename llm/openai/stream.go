package openai

import (
	"context"

	oa "github.com/openai/openai-go/v3"

	base "github.com/KamdynS/agentconsole/llm"
)

// chunkStream matches the subset of the OpenAI stream API we use.
type chunkStream interface {
	Next() bool
	Current() oa.ChatCompletionChunk
	Err() error
	Close() error
}

type streamWrapper struct {
	inner  chunkStream
	model  string
	closed bool
	// pending holds deltas produced by a chunk but not yet returned
	pending []base.Delta
	// open maps tool call index to id, in start order
	open   map[int64]string
	order  []int64
	onDone func(err error)
}

func newStreamWrapper(inner chunkStream, model string) *streamWrapper {
	return &streamWrapper{inner: inner, model: model, open: make(map[int64]string)}
}

func (w *streamWrapper) Recv(ctx context.Context) (base.Delta, error) {
	if len(w.pending) > 0 {
		d := w.pending[0]
		w.pending = w.pending[1:]
		return d, nil
	}
	if w.closed {
		return base.Delta{}, base.ErrStreamClosed
	}
	if !w.inner.Next() {
		err := w.inner.Err()
		if err != nil {
			w.finish(err)
			return base.Delta{}, err
		}
		w.closeOpenCalls()
		w.pending = append(w.pending, w.delta(base.DeltaTypeDone))
		w.finish(nil)
		return w.Recv(ctx)
	}

	ev := w.inner.Current()
	for _, ch := range ev.Choices {
		if ch.Delta.Content != "" {
			d := w.delta(base.DeltaTypeText)
			d.Text = ch.Delta.Content
			w.pending = append(w.pending, d)
		}
		for _, tc := range ch.Delta.ToolCalls {
			id, known := w.open[tc.Index]
			if !known {
				id = tc.ID
				w.open[tc.Index] = id
				w.order = append(w.order, tc.Index)
				d := w.delta(base.DeltaTypeToolCallStart)
				d.ToolChunk = &base.ToolCallChunk{ID: id, Name: tc.Function.Name}
				w.pending = append(w.pending, d)
			}
			if tc.Function.Arguments != "" {
				d := w.delta(base.DeltaTypeToolCallDelta)
				d.ToolChunk = &base.ToolCallChunk{ID: id, Arguments: tc.Function.Arguments}
				w.pending = append(w.pending, d)
			}
		}
		if ch.FinishReason != "" {
			w.closeOpenCalls()
		}
	}
	if len(w.pending) == 0 {
		return base.Delta{}, nil
	}
	return w.Recv(ctx)
}

// closeOpenCalls queues an end delta for every tool call still open.
func (w *streamWrapper) closeOpenCalls() {
	for _, idx := range w.order {
		d := w.delta(base.DeltaTypeToolCallEnd)
		d.ToolChunk = &base.ToolCallChunk{ID: w.open[idx]}
		w.pending = append(w.pending, d)
		delete(w.open, idx)
	}
	w.order = w.order[:0]
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
		w.onDone(err)
	}
}

func (w *streamWrapper) Close() error {
	w.finish(nil)
	w.pending = nil
	return w.inner.Close()
}
