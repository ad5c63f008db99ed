package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Canonical tool names. The access matrix and default limits key on these.
const (
	ToolCoder        = "coder"
	ToolMultimodal   = "multimodal"
	ToolLightSearch  = "light-search"
	ToolMediumSearch = "medium-search"
)

// Tool is a single callable capability exposed to models.
type Tool interface {
	Name() string
	Schema() ToolSchema
	// Execute runs the tool. args is the raw JSON argument object from the
	// model's tool call. Errors become error results for the calling model,
	// never process failures.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolLimits bounds a tool's concurrency and per-call runtime.
type ToolLimits struct {
	MaxConcurrent int
	Timeout       time.Duration
}

// DefaultToolLimits returns the registry defaults for the canonical tools.
// Unknown names get 1 concurrent call and a 60-second timeout.
func DefaultToolLimits(name string) ToolLimits {
	switch name {
	case ToolCoder:
		return ToolLimits{MaxConcurrent: 1, Timeout: 30 * time.Minute}
	case ToolMultimodal:
		return ToolLimits{MaxConcurrent: 1, Timeout: 5 * time.Minute}
	case ToolLightSearch:
		return ToolLimits{MaxConcurrent: 2, Timeout: 30 * time.Second}
	case ToolMediumSearch:
		return ToolLimits{MaxConcurrent: 2, Timeout: 2 * time.Minute}
	default:
		return ToolLimits{MaxConcurrent: 1, Timeout: time.Minute}
	}
}

type toolEntry struct {
	tool   Tool
	limits ToolLimits
	sem    chan struct{}
}

// Registry holds registered tools, their limits, and the model access
// matrix. Execution acquires the tool's semaphore (blocking, context-aware)
// and applies the tool's timeout.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*toolEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*toolEntry)}
}

// Register adds a tool under its name with the given limits. Zero-valued
// limits fields fall back to DefaultToolLimits. Re-registering a name is an
// error.
func (r *Registry) Register(t Tool, limits ToolLimits) error {
	name := t.Name()
	def := DefaultToolLimits(name)
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = def.MaxConcurrent
	}
	if limits.Timeout <= 0 {
		limits.Timeout = def.Timeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.entries[name] = &toolEntry{
		tool:   t,
		limits: limits,
		sem:    make(chan struct{}, limits.MaxConcurrent),
	}
	return nil
}

// Limits returns the effective limits for name, or ErrUnknownTool.
func (r *Registry) Limits(name string) (ToolLimits, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return ToolLimits{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return e.limits, nil
}

// Schemas returns the schemas for the named tools, skipping unknown names.
// Order follows names.
func (r *Registry) Schemas(names []string) []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]ToolSchema, 0, len(names))
	for _, n := range names {
		if e, ok := r.entries[n]; ok {
			schemas = append(schemas, e.tool.Schema())
		}
	}
	return schemas
}

// AccessFor returns the tool names the given model may call. Search tools
// require the request's web-search flag; models outside the chat family get
// nothing.
func (r *Registry) AccessFor(modelID string, webSearch bool) []string {
	var names []string
	switch modelID {
	case ModelXL, ModelLight:
		names = []string{ToolCoder, ToolMultimodal}
	case ModelCode:
		names = []string{ToolMultimodal}
	default:
		return nil
	}
	if webSearch {
		names = append(names, ToolLightSearch, ToolMediumSearch)
	}
	// Only expose tools that are actually registered.
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := names[:0]
	for _, n := range names {
		if _, ok := r.entries[n]; ok {
			allowed = append(allowed, n)
		}
	}
	return allowed
}

// Execute runs the named tool under its semaphore and timeout. Semaphore
// acquisition blocks until a slot frees or ctx ends.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()
	return e.tool.Execute(ctx, args)
}
