package conductor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Adapter is a normalized model endpoint. Implementations wrap a wire client,
// validate requests against the model's limits, and translate provider
// payloads into Envelopes. Compose with WithRetry for transient-error retry.
type Adapter interface {
	// Generate runs one completion. When req.Tools is non-empty the response
	// may request tool calls; executing them is the caller's job.
	Generate(ctx context.Context, req ChatRequest) (Envelope, error)
	// Describe returns the adapter's static model spec.
	Describe() ModelSpec
}

// Capability tags what a model can do. The tool registry and chat core
// consult capabilities instead of hard-coding model IDs where possible.
type Capability string

const (
	CapChat   Capability = "chat"
	CapTools  Capability = "tools"
	CapVision Capability = "vision"
	CapCode   Capability = "code"
)

// ModelSpec is the static description of a model adapter.
type ModelSpec struct {
	ID               string
	Capabilities     []Capability
	MaxContextTokens int
	MaxOutputTokens  int
	// DefaultTimeout bounds a single Generate call when the incoming context
	// carries no earlier deadline.
	DefaultTimeout time.Duration
}

// Has reports whether the spec lists the capability.
func (s ModelSpec) Has(c Capability) bool {
	for _, have := range s.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ValidateRequest checks a request against the spec's limits.
func (s ModelSpec) ValidateRequest(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return &ErrModel{Model: s.ID, Message: "empty messages"}
	}
	for i, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return &ErrModel{Model: s.ID, Message: fmt.Sprintf("message %d: unknown role %q", i, m.Role)}
		}
		if len(m.Images) > 0 && !s.Has(CapVision) {
			return &ErrModel{Model: s.ID, Message: "model does not accept images"}
		}
	}
	if req.MaxTokens != nil && s.MaxOutputTokens > 0 && *req.MaxTokens > s.MaxOutputTokens {
		return &ErrModel{Model: s.ID, Message: fmt.Sprintf("max_tokens %d exceeds model limit %d", *req.MaxTokens, s.MaxOutputTokens)}
	}
	return nil
}

// ModelSet is the registry of adapters keyed by canonical model ID.
type ModelSet struct {
	mu   sync.RWMutex
	byID map[string]Adapter
}

// NewModelSet creates an empty registry.
func NewModelSet() *ModelSet {
	return &ModelSet{byID: make(map[string]Adapter)}
}

// Register adds an adapter under its spec ID, replacing any previous entry.
func (m *ModelSet) Register(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[a.Describe().ID] = a
}

// Get returns the adapter for id, or ErrUnknownModel.
func (m *ModelSet) Get(id string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return a, nil
}

// IDs returns the registered model IDs, sorted.
func (m *ModelSet) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// --- Auxiliary model interfaces ---

// Embedder produces vectors for input texts, in input order.
type Embedder interface {
	// Embed returns one vector per text. inputType is "query" or "passage".
	Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Ranked is one reranked candidate: the index into the input slice and its
// relevance score.
type Ranked struct {
	Index int
	Score float64
}

// Reranker scores candidates against a query and returns the survivors in
// descending score order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]Ranked, error)
	Name() string
}
