package conductor

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// maxToolIter caps tool-calling rounds before a forced synthesis call.
	maxToolIter = 8

	// contextChunks is how many retrieved chunks are injected per request.
	contextChunks = 10

	// researchQueryLen switches retrieval to research mode for long queries.
	researchQueryLen = 100
)

// researchKeywords trigger research plan generation when the caller opted in.
var researchKeywords = []string{"research", "analyze", "investigate", "comprehensive", "detailed"}

const synthesisPrompt = "You have used all available tool calls. Provide your final answer based on the information gathered so far."

// Service is the chat core: it validates requests, injects retrieved
// context, classifies research intent, runs the tool-calling loop, and
// accounts tokens against the resource monitor.
type Service struct {
	models   *ModelSet
	tools    *Registry
	exec     *Executor
	research *Orchestrator
	retrieve Retriever
	monitor  *Monitor
	toolIter int
	logger   *slog.Logger
	tracer   Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// ServiceRetriever enables context injection from the RAG collaborator.
func ServiceRetriever(r Retriever) ServiceOption {
	return func(s *Service) { s.retrieve = r }
}

// ServiceResearch enables research plan generation on classified requests.
func ServiceResearch(o *Orchestrator) ServiceOption {
	return func(s *Service) { s.research = o }
}

// ServiceMonitor enables token reservation against the resource monitor.
func ServiceMonitor(m *Monitor) ServiceOption {
	return func(s *Service) { s.monitor = m }
}

// ServiceToolIterationCap overrides the tool-loop round cap (default 8).
func ServiceToolIterationCap(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.toolIter = n
		}
	}
}

// ServiceLogger sets the structured logger.
func ServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// ServiceTracer sets the tracer.
func ServiceTracer(t Tracer) ServiceOption {
	return func(s *Service) { s.tracer = t }
}

// NewService creates the chat core over the model set, tool registry, and
// tool executor.
func NewService(models *ModelSet, tools *Registry, exec *Executor, opts ...ServiceOption) *Service {
	s := &Service{models: models, tools: tools, exec: exec, toolIter: maxToolIter}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// Complete handles one chat request end to end.
func (s *Service) Complete(ctx context.Context, req ChatRequest) (Envelope, error) {
	adapter, err := s.models.Get(req.Model)
	if err != nil {
		return Envelope{}, err
	}
	if err := adapter.Describe().ValidateRequest(req); err != nil {
		return Envelope{}, err
	}

	if s.tracer != nil {
		var span Span
		ctx, span = s.tracer.Start(ctx, "chat.complete",
			StringAttr("model", req.Model),
			BoolAttr("web_search", req.WebSearch))
		defer span.End()
	}

	query := LastUserText(req.Messages)

	if released, err := s.reserve(req); err != nil {
		return Envelope{}, err
	} else if released != nil {
		defer released()
	}

	req.Messages = s.injectContext(ctx, req.Messages, query)

	env, err := s.runToolLoop(ctx, adapter, req)
	if err != nil {
		return Envelope{}, err
	}

	// Research plan failure never fails the chat response.
	if plan, ok := s.maybePlan(ctx, req, query); ok {
		env.ResearchPlan = plan
	}

	s.logger.Info("chat completed",
		"model", req.Model,
		"tokens.input", env.Usage.InputTokens,
		"tokens.output", env.Usage.OutputTokens)
	return env, nil
}

// reserve claims estimated prompt tokens from the monitor. The returned
// function releases them; it is nil when no monitor is configured.
func (s *Service) reserve(req ChatRequest) (func(), error) {
	if s.monitor == nil {
		return nil, nil
	}
	kind := KindGeneral
	if req.Model == ModelCode {
		kind = KindCode
	}
	var b strings.Builder
	for _, m := range req.Messages {
		b.WriteString(m.Content)
		if len(m.Images) > 0 {
			kind = KindMultimodal
		}
	}
	n := s.monitor.Estimate(b.String(), kind)
	if err := s.monitor.Reserve(n); err != nil {
		return nil, err
	}
	return func() { s.monitor.Release(n) }, nil
}

// injectContext prepends a system block with retrieved chunks. Retrieval
// failure degrades to no context.
func (s *Service) injectContext(ctx context.Context, messages []Message, query string) []Message {
	if s.retrieve == nil || query == "" {
		return messages
	}
	mode := RetrievalGeneral
	if len(query) > researchQueryLen {
		mode = RetrievalResearch
	}
	chunks, err := s.retrieve.Retrieve(ctx, query, mode, contextChunks)
	if err != nil {
		s.logger.Warn("context retrieval failed", "error", err)
		return messages
	}
	if len(chunks) == 0 {
		return messages
	}

	var b strings.Builder
	b.WriteString("Relevant context from the knowledge base:\n\n")
	for _, c := range chunks {
		b.WriteString("- ")
		b.WriteString(c.Content)
		if c.Source != "" {
			b.WriteString(" (source: ")
			b.WriteString(c.Source)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, SystemMessage(b.String()))
	out = append(out, messages...)
	return out
}

// runToolLoop alternates model calls and tool execution until the model
// stops calling tools or the iteration cap is hit, at which point one final
// call without tools forces a synthesis.
func (s *Service) runToolLoop(ctx context.Context, adapter Adapter, req ChatRequest) (Envelope, error) {
	allowed := s.tools.AccessFor(req.Model, req.WebSearch)
	req.Tools = s.tools.Schemas(allowed)

	var usage Usage
	messages := req.Messages

	for iter := 0; iter < s.toolIter; iter++ {
		call := req
		call.Messages = messages
		env, err := adapter.Generate(ctx, call)
		if err != nil {
			return Envelope{}, err
		}
		usage.Add(env.Usage)

		if !env.CallsTools() {
			env.Usage = usage
			return env, nil
		}

		reply := env.Choices[0].Message
		messages = append(messages, reply)
		results := s.exec.ExecuteBatch(ctx, req.Model, req.WebSearch, reply.ToolCalls)
		for _, r := range results {
			content := r.Content
			if r.Error != "" {
				content = "error: " + r.Error
			}
			messages = append(messages, ToolResultMessage(r.CallID, content))
		}
	}

	// Iteration cap reached: one last call, no tools, explicit instruction.
	s.logger.Warn("tool iteration cap reached, forcing synthesis", "model", req.Model)
	final := req
	final.Tools = nil
	final.Messages = append(messages, SystemMessage(synthesisPrompt))
	env, err := adapter.Generate(ctx, final)
	if err != nil {
		return Envelope{}, err
	}
	usage.Add(env.Usage)
	env.Usage = usage
	return env, nil
}

// maybePlan generates a research plan when web search is on (or research is
// requested explicitly) and the query reads like a research task, either by
// trigger keyword or by length.
func (s *Service) maybePlan(ctx context.Context, req ChatRequest, query string) (*ResearchPlan, bool) {
	if s.research == nil || !(req.WebSearch || req.Research) {
		return nil, false
	}
	if !IsResearchQuery(query) && len(query) <= researchQueryLen {
		return nil, false
	}
	plan, err := s.research.Plan(ctx, query)
	if err != nil {
		s.logger.Warn("research plan generation failed", "error", err)
		return nil, false
	}
	return &plan, true
}

// IsResearchQuery reports whether the text contains a research trigger
// keyword as a whole word, case-insensitively.
func IsResearchQuery(text string) bool {
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		for _, kw := range researchKeywords {
			if f == kw {
				return true
			}
		}
	}
	return false
}
