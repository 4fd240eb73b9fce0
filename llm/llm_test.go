package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubClient struct {
	name  string
	err   error
	calls int
	last  *ChatRequest
}

func (s *stubClient) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.name, Model: req.Model}, nil
}

func (s *stubClient) ChatStream(ctx context.Context, req *ChatRequest) (Stream, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return NewStaticStream(&Response{Content: s.name}, s.name, req.Model), nil
}

func (s *stubClient) Model() string { return s.name }

func TestStaticPolicy_Select(t *testing.T) {
	def := &stubClient{name: "default"}
	claude := &stubClient{name: "claude"}
	sonnet := &stubClient{name: "sonnet"}
	exact := &stubClient{name: "exact"}
	p := StaticPolicy{
		Default:  def,
		ByModel:  map[string]Client{"gpt-4o": exact},
		ByPrefix: map[string]Client{"claude-": claude, "claude-3-5-sonnet": sonnet},
	}

	cases := []struct {
		model string
		want  string
	}{
		{"", "default"},
		{"gpt-4o", "exact"},
		{"claude-3-haiku", "claude"},
		{"claude-3-5-sonnet-latest", "sonnet"},
		{"mistral", "default"},
	}
	for _, tc := range cases {
		c, _, err := p.Select(&ChatRequest{Model: tc.model})
		if err != nil {
			t.Fatalf("select %q: %v", tc.model, err)
		}
		if c.Model() != tc.want {
			t.Errorf("select %q: got %s want %s", tc.model, c.Model(), tc.want)
		}
	}

	if _, _, err := (StaticPolicy{}).Select(&ChatRequest{}); err == nil {
		t.Fatalf("expected error without default client")
	}
}

func TestRouterClient_FallbackOnError(t *testing.T) {
	primary := &stubClient{name: "primary", err: errors.New("down")}
	fallback := &stubClient{name: "fallback"}
	r := NewRouterClient(StaticPolicy{Default: primary}).WithConfig(RouterConfig{Fallback: fallback, Timeout: time.Second})

	resp, err := r.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "fallback" || primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("unexpected routing: resp=%+v primary=%d fallback=%d", resp, primary.calls, fallback.calls)
	}

	s, err := r.ChatStream(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	d, _ := s.Recv(context.Background())
	if d.Text != "fallback" {
		t.Fatalf("expected fallback stream, got %+v", d)
	}
}

func TestRouterClient_DoesNotMutateRequest(t *testing.T) {
	c := &stubClient{name: "c"}
	r := NewRouterClient(StaticPolicy{Default: c, ByModel: map[string]Client{"m": c}})
	req := &ChatRequest{Model: "m"}
	if _, err := r.Chat(context.Background(), req); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if c.last == req {
		t.Fatalf("router passed caller's request through after override")
	}
	if r.Model() != "router" {
		t.Fatalf("model=%s", r.Model())
	}
}

func TestRetrier_RetriesThenSucceeds(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2})
	var attempts []int
	r.OnRetry(func(attempt int, err error) { attempts = append(attempts, attempt) })

	n := 0
	err := r.Do(context.Background(), func() error {
		n++
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if n != 3 || len(attempts) != 2 || attempts[1] != 2 {
		t.Fatalf("calls=%d attempts=%v", n, attempts)
	}
}

func TestRetrier_GivesUp(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1})
	n := 0
	want := errors.New("permanent")
	err := r.Do(context.Background(), func() error { n++; return want })
	if !errors.Is(err, want) || n != 3 {
		t.Fatalf("err=%v calls=%d", err, n)
	}
}

func TestRetrier_ContextErrorsNotRetried(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond})
	n := 0
	err := r.Do(context.Background(), func() error { n++; return context.Canceled })
	if !errors.Is(err, context.Canceled) || n != 1 {
		t.Fatalf("err=%v calls=%d", err, n)
	}
}

func TestStaticStream(t *testing.T) {
	s := NewStaticStream(&Response{
		Content:   "hi",
		ToolCalls: []ToolCall{{ID: "t1", Name: "time", Arguments: "{}"}},
	}, "p", "m")

	var types []DeltaType
	for {
		d, err := s.Recv(context.Background())
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		types = append(types, d.Type)
		if d.Type == DeltaTypeDone {
			break
		}
	}
	want := []DeltaType{DeltaTypeText, DeltaTypeToolCallStart, DeltaTypeToolCallDelta, DeltaTypeToolCallEnd, DeltaTypeDone}
	if len(types) != len(want) {
		t.Fatalf("types=%v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types=%v want %v", types, want)
		}
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestPickModel(t *testing.T) {
	if PickModel(nil, "x") != "x" || PickModel(&ChatRequest{}, "x") != "x" || PickModel(&ChatRequest{Model: "y"}, "x") != "y" {
		t.Fatalf("PickModel fallback broken")
	}
}
