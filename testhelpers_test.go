package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// stubAdapter returns queued envelopes in order, recording every request.
// Once the queue is exhausted it repeats the last envelope.
type stubAdapter struct {
	spec ModelSpec

	mu    sync.Mutex
	queue []stubReply
	calls []ChatRequest
}

type stubReply struct {
	env Envelope
	err error
}

func newStubAdapter(id string, caps ...Capability) *stubAdapter {
	if len(caps) == 0 {
		caps = []Capability{CapChat, CapTools}
	}
	return &stubAdapter{spec: ModelSpec{ID: id, Capabilities: caps}}
}

func (s *stubAdapter) reply(env Envelope) *stubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, stubReply{env: env})
	return s
}

func (s *stubAdapter) fail(err error) *stubAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, stubReply{err: err})
	return s
}

func (s *stubAdapter) Describe() ModelSpec { return s.spec }

func (s *stubAdapter) Generate(ctx context.Context, req ChatRequest) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.queue) == 0 {
		return Envelope{}, fmt.Errorf("stub %s: no reply queued", s.spec.ID)
	}
	r := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	return r.env, r.err
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubAdapter) call(i int) ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

// textEnvelope builds a plain assistant response.
func textEnvelope(model, text string) Envelope {
	return Envelope{
		ID:    NewID(),
		Model: model,
		Choices: []Choice{{
			Message:      AssistantMessage(text),
			FinishReason: "stop",
		}},
		Usage: Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// toolCallEnvelope builds a response requesting the given tool calls.
func toolCallEnvelope(model string, calls ...ToolCall) Envelope {
	return Envelope{
		ID:    NewID(),
		Model: model,
		Choices: []Choice{{
			Message:      Message{Role: "assistant", ToolCalls: calls},
			FinishReason: "tool_calls",
		}},
		Usage: Usage{InputTokens: 10, OutputTokens: 5},
	}
}

// stubTool is a Tool backed by a function.
type stubTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Schema() ToolSchema {
	return ToolSchema{
		Name:       t.name,
		Parameters: json.RawMessage(`{"type":"object"}`),
	}
}

func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if t.fn == nil {
		return "ok", nil
	}
	return t.fn(ctx, args)
}

func echoTool(name string) *stubTool {
	return &stubTool{name: name, fn: func(_ context.Context, args json.RawMessage) (string, error) {
		return string(args), nil
	}}
}
