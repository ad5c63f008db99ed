// Package rag is the HTTP client for the retrieval collaborator: a sidecar
// service owning embeddings storage, chunking, and vector search. Chat
// context injection and research report ingestion go through it.
package rag

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

// Client implements conductor.Retriever and conductor.Ingestor over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New creates a RAG client for the collaborator at baseURL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type retrieveRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	TopK  int    `json:"top_k"`
}

type retrieveResponse struct {
	Chunks []conductor.ScoredChunk `json:"chunks"`
}

// Retrieve implements conductor.Retriever.
func (c *Client) Retrieve(ctx context.Context, query, mode string, k int) ([]conductor.ScoredChunk, error) {
	var resp retrieveResponse
	if err := c.post(ctx, "/retrieve", retrieveRequest{Query: query, Mode: mode, TopK: k}, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

type ingestRequest struct {
	Title string            `json:"title"`
	Text  string            `json:"text"`
	Meta  map[string]string `json:"meta,omitempty"`
}

type ingestResponse struct {
	DocumentID string `json:"document_id"`
}

// Ingest implements conductor.Ingestor.
func (c *Client) Ingest(ctx context.Context, title, text string, meta map[string]string) (string, error) {
	var resp ingestResponse
	if err := c.post(ctx, "/ingest", ingestRequest{Title: title, Text: text, Meta: meta}, &resp); err != nil {
		return "", err
	}
	return resp.DocumentID, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &conductor.ErrHTTP{Status: resp.StatusCode, Body: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ conductor.Retriever = (*Client)(nil)
	_ conductor.Ingestor  = (*Client)(nil)
)
