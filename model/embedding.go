package model

import (
	"context"
	"sync"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/nim"
)

const (
	// embedBatchSize is the wire cap on inputs per embedding request.
	embedBatchSize = 100
	// embedMaxConcurrent bounds in-flight embedding batches.
	embedMaxConcurrent = 5
)

// Embedding batches inputs across concurrent requests and reassembles the
// vectors in input order. Any failed batch fails the whole call.
type Embedding struct {
	client *nim.EmbedClient
}

// NewEmbedding creates the embedding specialization over the wire client.
func NewEmbedding(client *nim.EmbedClient) *Embedding {
	return &Embedding{client: client}
}

// Name implements conductor.Embedder.
func (e *Embedding) Name() string { return e.client.Name() }

// Dimensions implements conductor.Embedder.
func (e *Embedding) Dimensions() int { return e.client.Dimensions() }

// Embed implements conductor.Embedder.
func (e *Embedding) Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= embedBatchSize {
		return e.client.Embed(ctx, texts, inputType)
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	sem := make(chan struct{}, embedMaxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, b := range batches {
		wg.Add(1)
		go func(b batch) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			vecs, err := e.client.Embed(ctx, b.texts, inputType)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			copy(out[b.start:], vecs)
		}(b)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

var _ conductor.Embedder = (*Embedding)(nil)
