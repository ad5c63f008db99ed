package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// maxParallelDispatch caps the worker pool for a single tool-call batch.
// Per-tool semaphores still apply inside each worker.
const maxParallelDispatch = 10

// ToolResult is the outcome of one tool call, keyed back to its call ID.
// Exactly one of Content and Error is meaningful.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs tool-call batches for a model: access control, query
// diversity rewriting, bounded parallel dispatch, and in-order results.
type Executor struct {
	registry  *Registry
	diversity *DiversityValidator
	logger    *slog.Logger
	tracer    Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// ExecutorLogger sets the structured logger.
func ExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// ExecutorTracer sets the tracer for per-call spans.
func ExecutorTracer(t Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor creates an executor over the registry. diversity may be nil to
// skip query rewriting.
func NewExecutor(registry *Registry, diversity *DiversityValidator, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, diversity: diversity}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// ExecuteBatch runs calls concurrently on behalf of modelID and returns one
// result per call, in call order. Access violations and tool failures become
// error results; they never fail the batch or cancel sibling calls.
func (e *Executor) ExecuteBatch(ctx context.Context, modelID string, webSearch bool, calls []ToolCall) []ToolResult {
	if len(calls) == 0 {
		return nil
	}

	allowed := make(map[string]bool)
	for _, n := range e.registry.AccessFor(modelID, webSearch) {
		allowed[n] = true
	}

	calls = e.rewriteQueries(calls)

	return dispatchParallel(ctx, calls, func(ctx context.Context, call ToolCall) ToolResult {
		if !allowed[call.Name] {
			e.logger.Warn("tool access denied", "model", modelID, "tool", call.Name)
			return ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Error:  fmt.Sprintf("%v: model %q may not call %q", ErrAccessDenied, modelID, call.Name),
			}
		}
		return e.executeOne(ctx, call)
	})
}

// executeOne runs a single allowed call with tracing and panic recovery.
func (e *Executor) executeOne(ctx context.Context, call ToolCall) (result ToolResult) {
	if e.tracer != nil {
		var span Span
		ctx, span = e.tracer.Start(ctx, "tool.execute",
			StringAttr("tool.name", call.Name),
			StringAttr("tool.call_id", call.ID))
		defer func() {
			if result.Error != "" {
				span.SetAttr(StringAttr("tool.status", "error"))
			} else {
				span.SetAttr(StringAttr("tool.status", "ok"))
			}
			span.End()
		}()
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", "tool", call.Name, "panic", p)
			result = ToolResult{CallID: call.ID, Name: call.Name, Error: fmt.Sprintf("tool %q panic: %v", call.Name, p)}
		}
	}()

	e.logger.Info("tool started", "tool", call.Name, "call_id", call.ID)
	content, err := e.registry.Execute(ctx, call.Name, call.Args)
	if err != nil {
		e.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return ToolResult{CallID: call.ID, Name: call.Name, Error: err.Error()}
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Content: content}
}

// rewriteQueries gathers the query/prompt texts across the batch, rewrites
// redundant ones through the diversity validator, and substitutes the
// results back into the calls. Calls whose args cannot be parsed pass
// through unchanged; the tool itself will surface the arg error.
func (e *Executor) rewriteQueries(calls []ToolCall) []ToolCall {
	if e.diversity == nil {
		return calls
	}

	type slot struct {
		call int
		args map[string]any
		key  string
	}
	var slots []slot
	var texts []string
	for i, call := range calls {
		var args map[string]any
		if err := json.Unmarshal(call.Args, &args); err != nil {
			continue
		}
		for _, key := range []string{"query", "prompt"} {
			if text, ok := args[key].(string); ok && text != "" {
				slots = append(slots, slot{call: i, args: args, key: key})
				texts = append(texts, text)
				break
			}
		}
	}
	if len(texts) < 2 || e.diversity.Diverse(texts) {
		return calls
	}

	rewritten := e.diversity.Diversify(texts)
	out := append([]ToolCall(nil), calls...)
	for i, s := range slots {
		if rewritten[i] == texts[i] {
			continue
		}
		s.args[s.key] = rewritten[i]
		raw, err := json.Marshal(s.args)
		if err != nil {
			continue
		}
		e.logger.Info("query rewritten for diversity", "tool", calls[s.call].Name)
		out[s.call].Args = raw
	}
	return out
}

// dispatchParallel runs fn over calls with a bounded worker pool and returns
// results in input order. When ctx ends early, unfinished slots are filled
// with the context error so callers always get len(calls) results.
func dispatchParallel(ctx context.Context, calls []ToolCall, fn func(context.Context, ToolCall) ToolResult) []ToolResult {
	type indexed struct {
		i      int
		result ToolResult
	}

	workers := len(calls)
	if workers > maxParallelDispatch {
		workers = maxParallelDispatch
	}

	workCh := make(chan int)
	resultCh := make(chan indexed, len(calls))
	for w := 0; w < workers; w++ {
		go func() {
			for i := range workCh {
				resultCh <- indexed{i: i, result: fn(ctx, calls[i])}
			}
		}()
	}
	go func() {
		defer close(workCh)
		for i := range calls {
			select {
			case workCh <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]ToolResult, len(calls))
	filled := make([]bool, len(calls))
	for n := 0; n < len(calls); n++ {
		select {
		case r := <-resultCh:
			results[r.i] = r.result
			filled[r.i] = true
		case <-ctx.Done():
			for i := range results {
				if !filled[i] {
					results[i] = ToolResult{
						CallID: calls[i].ID,
						Name:   calls[i].Name,
						Error:  ctx.Err().Error(),
					}
				}
			}
			return results
		}
	}
	return results
}
