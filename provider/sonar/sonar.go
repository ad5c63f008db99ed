// Package sonar is the wire client for search-grounded completion APIs
// (Perplexity-style): a chat completions endpoint whose answers carry
// citation URLs.
package sonar

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

const defaultTimeout = 2 * time.Minute

// Client calls a search-grounded completion endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// New creates a search client for the given upstream model (for example a
// lighter model for quick lookups and a deeper one for research).
func New(apiKey, model, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
}

// Name returns the upstream model name.
func (c *Client) Name() string { return c.model }

// Result is one grounded search answer.
type Result struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

type searchRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type searchResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Search runs one grounded query and returns the answer with its citations.
func (c *Client) Search(ctx context.Context, query string) (Result, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := searchRequest{
		Model: c.model,
		Messages: []wireMessage{
			{Role: "system", Content: "Answer concisely with sourced facts."},
			{Role: "user", Content: query},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, &conductor.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: conductor.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Result{}, &conductor.ErrModel{Model: c.model, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(sr.Choices) == 0 {
		return Result{}, &conductor.ErrModel{Model: c.model, Message: "empty choices"}
	}
	return Result{Answer: sr.Choices[0].Message.Content, Citations: sr.Citations}, nil
}
