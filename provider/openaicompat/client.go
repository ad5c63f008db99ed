package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	conductor "github.com/nevindra/conductor"
)

// DefaultTimeout bounds a single request when the incoming context carries
// no earlier deadline.
const DefaultTimeout = 5 * time.Minute

// Client talks to any OpenAI-compatible chat completions endpoint: OpenAI,
// OpenRouter, Groq, Together, DeepSeek, vLLM, Ollama, and the like.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName overrides the client name used in error messages (default the
// upstream model name).
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout overrides the per-request deadline (default 5 minutes). Code
// adapters raise this for long-horizon generation.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. baseURL is the API base (for example
// "https://api.openai.com/v1"); the /chat/completions path is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    model,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the client name.
func (c *Client) Name() string { return c.name }

// Chat sends one completion request and returns the normalized envelope.
func (c *Client) Chat(ctx context.Context, req conductor.ChatRequest) (conductor.Envelope, error) {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := BuildBody(req, c.model)
	payload, err := json.Marshal(body)
	if err != nil {
		return conductor.Envelope{}, &conductor.ErrModel{Model: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return conductor.Envelope{}, &conductor.ErrModel{Model: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return conductor.Envelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return conductor.Envelope{}, httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return conductor.Envelope{}, &conductor.ErrModel{Model: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp), nil
}

// httpErr reads the response body and returns an ErrHTTP for the retry
// decorator. Parses the Retry-After header when present.
func httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &conductor.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: conductor.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
