package conductor

import "context"

// Retrieval modes. Research retrieval widens the search for long analytical
// queries; general retrieval favors precision.
const (
	RetrievalGeneral  = "general"
	RetrievalResearch = "research"
)

// ScoredChunk is one retrieved passage with its relevance score.
type ScoredChunk struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Retriever fetches relevant context for a query from the RAG collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query, mode string, k int) ([]ScoredChunk, error)
}

// Ingestor hands documents to the RAG collaborator for later retrieval.
// Returns the assigned document ID.
type Ingestor interface {
	Ingest(ctx context.Context, title, text string, meta map[string]string) (string, error)
}

// Renderer turns compiled report markdown into a presentation artifact.
// Returns the artifact bytes and its MIME type.
type Renderer interface {
	Render(ctx context.Context, markdown string) ([]byte, string, error)
}
