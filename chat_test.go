package conductor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func chatService(t *testing.T, stub *stubAdapter, opts ...ServiceOption) *Service {
	t.Helper()
	models := NewModelSet()
	models.Register(stub)
	reg := execRegistry(t)
	exec := NewExecutor(reg, nil)
	return NewService(models, reg, exec, opts...)
}

func TestCompleteSimple(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "hello there"))
	svc := chatService(t, stub)

	env, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := env.Text(); got != "hello there" {
		t.Errorf("Text() = %q", got)
	}
	// The adapter must have been offered the model's allowed tools.
	if len(stub.call(0).Tools) == 0 {
		t.Error("request reached adapter without tool schemas")
	}
}

func TestCompleteUnknownModel(t *testing.T) {
	svc := chatService(t, newStubAdapter(ModelXL))
	_, err := svc.Complete(context.Background(), ChatRequest{
		Model:    "conductor-nonexistent",
		Messages: []Message{UserMessage("hi")},
	})
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("err = %v, want ErrUnknownModel", err)
	}
}

func TestCompleteValidatesRequest(t *testing.T) {
	svc := chatService(t, newStubAdapter(ModelXL))
	_, err := svc.Complete(context.Background(), ChatRequest{Model: ModelXL})
	if err == nil {
		t.Error("empty messages should fail validation")
	}
}

func TestCompleteToolLoop(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.reply(toolCallEnvelope(ModelXL, ToolCall{
		ID: "call-1", Name: ToolCoder, Args: json.RawMessage(`{"prompt":"write a sort"}`),
	}))
	stub.reply(textEnvelope(ModelXL, "final answer"))
	svc := chatService(t, stub)

	env, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("sort this")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := env.Text(); got != "final answer" {
		t.Errorf("Text() = %q", got)
	}
	if stub.callCount() != 2 {
		t.Fatalf("adapter calls = %d, want 2", stub.callCount())
	}

	// Second call must carry the assistant turn and the tool result.
	second := stub.call(1)
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call-1" {
		t.Errorf("last message = %+v, want tool result for call-1", last)
	}
	// Usage accumulates across iterations.
	if env.Usage.Total() != 30 {
		t.Errorf("Usage.Total() = %d, want 30", env.Usage.Total())
	}
}

func TestCompleteForcedSynthesisAtCap(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	// Every reply asks for another tool call; the queue repeats its last entry.
	stub.reply(toolCallEnvelope(ModelXL, ToolCall{
		ID: "loop", Name: ToolCoder, Args: json.RawMessage(`{"prompt":"more"}`),
	}))
	svc := chatService(t, stub)

	env, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("go")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// maxToolIter tool rounds plus one forced synthesis call.
	if stub.callCount() != maxToolIter+1 {
		t.Errorf("adapter calls = %d, want %d", stub.callCount(), maxToolIter+1)
	}
	finalCall := stub.call(stub.callCount() - 1)
	if len(finalCall.Tools) != 0 {
		t.Error("synthesis call should carry no tools")
	}
	lastMsg := finalCall.Messages[len(finalCall.Messages)-1]
	if lastMsg.Role != "system" || !strings.Contains(lastMsg.Content, "final answer") {
		t.Errorf("synthesis instruction missing, got %+v", lastMsg)
	}
	if !env.CallsTools() {
		// The stub keeps returning tool calls even for the synthesis turn;
		// the envelope is returned as-is. Nothing to assert beyond no error.
		t.Log("stub returned text on synthesis")
	}
}

func TestCompleteToolIterationCapOption(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.reply(toolCallEnvelope(ModelXL, ToolCall{
		ID: "loop", Name: ToolCoder, Args: json.RawMessage(`{"prompt":"more"}`),
	}))
	svc := chatService(t, stub, ServiceToolIterationCap(2))

	if _, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("go")},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Two tool rounds plus the forced synthesis call.
	if stub.callCount() != 3 {
		t.Errorf("adapter calls = %d, want 3", stub.callCount())
	}
}

func TestCompleteAttachesResearchPlan(t *testing.T) {
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "surface answer"))

	planJSON := `{"title": "t", "objective": "o", "agents": [
		{"perspective": "angle", "instructions": "dig", "queries": ["q"], "depends_on": []}
	]}`
	planner := newStubAdapter(ModelXL)
	planner.reply(textEnvelope(ModelXL, "```json\n"+planJSON+"\n```"))

	coord := NewCoordinator(WorkerBounds(1, 2))
	defer coord.Close()
	orch := NewOrchestrator(planner, newStubAdapter(ModelLight), searchRegistry(t), nil, coord)
	defer orch.Close()
	svc := chatService(t, stub, ServiceResearch(orch))

	env, err := svc.Complete(context.Background(), ChatRequest{
		Model:     ModelXL,
		WebSearch: true,
		Messages:  []Message{UserMessage("research the history of container runtimes")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if env.ResearchPlan == nil {
		t.Fatal("web search request with a research query carried no plan")
	}
	if len(env.ResearchPlan.Agents) != 1 || env.ResearchPlan.Agents[0].Perspective != "angle" {
		t.Errorf("plan = %+v", env.ResearchPlan)
	}

	// The same query without web search stays a plain completion.
	env, err = svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("research the history of container runtimes")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if env.ResearchPlan != nil {
		t.Error("plan attached without web search or an explicit research request")
	}
}

func TestCompleteReservationFailure(t *testing.T) {
	m := NewMonitor(TokenCeiling(1))
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "never reached"))
	svc := chatService(t, stub, ServiceMonitor(m))

	long := strings.Repeat("wordy input ", 50)
	_, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage(long)},
	})
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("err = %v, want ErrResourceExhausted", err)
	}
	if stub.callCount() != 0 {
		t.Error("adapter called despite failed reservation")
	}
}

func TestCompleteReleasesReservation(t *testing.T) {
	m := NewMonitor(TokenCeiling(10_000))
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "ok"))
	svc := chatService(t, stub, ServiceMonitor(m))

	_, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("some question")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got := m.Snapshot().Reserved; got != 0 {
		t.Errorf("Reserved after completion = %d, want 0", got)
	}
}

type staticRetriever struct {
	chunks []ScoredChunk
	mode   string
}

func (r *staticRetriever) Retrieve(_ context.Context, _ string, mode string, _ int) ([]ScoredChunk, error) {
	r.mode = mode
	return r.chunks, nil
}

func TestCompleteInjectsContext(t *testing.T) {
	ret := &staticRetriever{chunks: []ScoredChunk{{Content: "the sky is blue", Score: 0.9, Source: "doc-1"}}}
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "answer"))
	svc := chatService(t, stub, ServiceRetriever(ret))

	_, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage("what color is the sky?")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	first := stub.call(0).Messages[0]
	if first.Role != "system" || !strings.Contains(first.Content, "the sky is blue") {
		t.Errorf("context not injected, first message = %+v", first)
	}
	if ret.mode != RetrievalGeneral {
		t.Errorf("mode = %s, want general for a short query", ret.mode)
	}
}

func TestCompleteResearchRetrievalMode(t *testing.T) {
	ret := &staticRetriever{}
	stub := newStubAdapter(ModelXL)
	stub.reply(textEnvelope(ModelXL, "answer"))
	svc := chatService(t, stub, ServiceRetriever(ret))

	long := strings.Repeat("comparative analysis of distributed consensus ", 4)
	if len(long) <= researchQueryLen {
		t.Fatal("test query too short")
	}
	if _, err := svc.Complete(context.Background(), ChatRequest{
		Model:    ModelXL,
		Messages: []Message{UserMessage(long)},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if ret.mode != RetrievalResearch {
		t.Errorf("mode = %s, want research for a long query", ret.mode)
	}
}

func TestIsResearchQuery(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"please research the history of unix", true},
		{"Analyze these benchmarks", true},
		{"a COMPREHENSIVE comparison", true},
		{"what time is it", false},
		{"searching for my keys", false},
		{"", false},
		{"the researcher went home", false}, // whole words only
	}
	for _, tt := range tests {
		if got := IsResearchQuery(tt.text); got != tt.want {
			t.Errorf("IsResearchQuery(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLastUserText(t *testing.T) {
	msgs := []Message{
		SystemMessage("sys"),
		UserMessage("first"),
		AssistantMessage("reply"),
		UserMessage("second"),
	}
	if got := LastUserText(msgs); got != "second" {
		t.Errorf("LastUserText = %q, want %q", got, "second")
	}
	if got := LastUserText(nil); got != "" {
		t.Errorf("LastUserText(nil) = %q, want empty", got)
	}
}
