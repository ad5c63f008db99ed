package model

import (
	"context"
	"sort"
	"sync"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/nim"
)

const (
	// rerankChunkSize is the wire cap on passages per ranking request.
	rerankChunkSize = 512
	// DefaultRerankThreshold drops candidates scoring below it.
	DefaultRerankThreshold = 0.7
)

// Rerank chunks large candidate lists across concurrent requests, merges
// the scored results, filters by threshold, and sorts by score descending
// (ties keep input order).
type Rerank struct {
	client    *nim.RerankClient
	threshold float64
}

// RerankOption configures a Rerank.
type RerankOption func(*Rerank)

// RerankThreshold overrides the score cutoff (default 0.7).
func RerankThreshold(t float64) RerankOption {
	return func(r *Rerank) { r.threshold = t }
}

// NewRerank creates the reranking specialization over the wire client.
func NewRerank(client *nim.RerankClient, opts ...RerankOption) *Rerank {
	r := &Rerank{client: client, threshold: DefaultRerankThreshold}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements conductor.Reranker.
func (r *Rerank) Name() string { return r.client.Name() }

// Rerank implements conductor.Reranker.
func (r *Rerank) Rerank(ctx context.Context, query string, candidates []string) ([]conductor.Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var merged []conductor.Ranked
	if len(candidates) <= rerankChunkSize {
		ranked, err := r.client.Rank(ctx, query, candidates)
		if err != nil {
			return nil, err
		}
		merged = ranked
	} else {
		var err error
		merged, err = r.rankChunked(ctx, query, candidates)
		if err != nil {
			return nil, err
		}
	}

	kept := merged[:0]
	for _, m := range merged {
		if m.Score >= r.threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Index < kept[j].Index
	})
	return kept, nil
}

// rankChunked issues chunk requests concurrently and rebases the returned
// indexes onto the full candidate list.
func (r *Rerank) rankChunked(ctx context.Context, query string, candidates []string) ([]conductor.Ranked, error) {
	type chunk struct {
		start int
		items []string
	}
	var chunks []chunk
	for start := 0; start < len(candidates); start += rerankChunkSize {
		end := start + rerankChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunks = append(chunks, chunk{start: start, items: candidates[start:end]})
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([][]conductor.Ranked, len(chunks))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, c := range chunks {
		wg.Add(1)
		go func(i int, c chunk) {
			defer wg.Done()
			ranked, err := r.client.Rank(ctx, query, c.items)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				return
			}
			for j := range ranked {
				ranked[j].Index += c.start
			}
			results[i] = ranked
		}(i, c)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	var merged []conductor.Ranked
	for _, rs := range results {
		merged = append(merged, rs...)
	}
	return merged, nil
}

var _ conductor.Reranker = (*Rerank)(nil)
