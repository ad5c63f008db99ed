package nim

import (
	"context"
	"fmt"
	"net/http"
	"time"

	conductor "github.com/nevindra/conductor"
)

// RerankClient calls a reranking endpoint that scores passages against a
// query and returns per-passage logits.
type RerankClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewRerankClient creates a reranking client.
func NewRerankClient(apiKey, model, baseURL string) *RerankClient {
	return &RerankClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
}

// Name returns the upstream model name.
func (c *RerankClient) Name() string { return c.model }

type rerankRequest struct {
	Model    string       `json:"model"`
	Query    rerankText   `json:"query"`
	Passages []rerankText `json:"passages"`
}

type rerankText struct {
	Text string `json:"text"`
}

type rerankResponse struct {
	Rankings []struct {
		Index int     `json:"index"`
		Logit float64 `json:"logit"`
	} `json:"rankings"`
}

// Rank scores passages against query. Results come back as (input index,
// logit) pairs; ordering and thresholding are the adapter's job.
func (c *RerankClient) Rank(ctx context.Context, query string, passages []string) ([]conductor.Ranked, error) {
	if len(passages) == 0 {
		return nil, nil
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := rerankRequest{Model: c.model, Query: rerankText{Text: query}}
	for _, p := range passages {
		body.Passages = append(body.Passages, rerankText{Text: p})
	}

	var resp rerankResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/ranking", c.apiKey, c.model, body, &resp); err != nil {
		return nil, err
	}

	out := make([]conductor.Ranked, 0, len(resp.Rankings))
	for _, r := range resp.Rankings {
		if r.Index < 0 || r.Index >= len(passages) {
			return nil, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("ranking index %d out of range", r.Index)}
		}
		out = append(out, conductor.Ranked{Index: r.Index, Score: r.Logit})
	}
	return out, nil
}
