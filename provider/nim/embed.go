// Package nim is the wire client for NIM-style embedding and reranking
// endpoints. The embedding wire is the OpenAI embeddings shape extended with
// an input_type field; the reranking wire is the query/passages logit shape.
package nim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	conductor "github.com/nevindra/conductor"
)

const defaultTimeout = time.Minute

// EmbedClient calls an embeddings endpoint.
type EmbedClient struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	dimensions int
	timeout    time.Duration
}

// NewEmbedClient creates an embeddings client. dimensions is the vector
// width the model produces.
func NewEmbedClient(apiKey, model, baseURL string, dimensions int) *EmbedClient {
	return &EmbedClient{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		client:     &http.Client{},
		dimensions: dimensions,
		timeout:    defaultTimeout,
	}
}

// Name returns the upstream model name.
func (c *EmbedClient) Name() string { return c.model }

// Dimensions returns the vector width.
func (c *EmbedClient) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type,omitempty"` // "query" or "passage"
	Truncate  string   `json:"truncate,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. Inputs past the
// model's context are truncated at the end rather than rejected.
func (c *EmbedClient) Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := embedRequest{Model: c.model, Input: texts, InputType: inputType, Truncate: "END"}
	var resp embedResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/embeddings", c.apiKey, c.model, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts))}
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// postJSON sends a JSON body and decodes a JSON response, mapping non-2xx
// statuses to ErrHTTP.
func postJSON(ctx context.Context, client *http.Client, url, apiKey, model string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &conductor.ErrModel{Model: model, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &conductor.ErrModel{Model: model, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &conductor.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: conductor.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &conductor.ErrModel{Model: model, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
