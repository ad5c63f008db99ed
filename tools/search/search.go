// Package search exposes grounded web search as tools. The light variant
// returns the upstream answer as-is; the medium variant additionally fetches
// the cited pages and appends their readable text.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/sonar"
)

const (
	defaultRPM = 30

	// mediumFetchPages caps how many cited pages the medium variant reads.
	mediumFetchPages = 3
	pageExcerptChars = 2000
	fetchBodyLimit   = 1 << 20
)

// Search is a grounded web search tool.
type Search struct {
	name    string
	client  *sonar.Client
	limiter *conductor.RateLimiter
	deep    bool
	httpc   *http.Client
	logger  *slog.Logger
}

// Option configures a Search tool.
type Option func(*Search)

// RPM overrides the requests-per-minute guard (default 30).
func RPM(n int) Option {
	return func(s *Search) { s.limiter = conductor.NewRateLimiter(n) }
}

// Logger sets the structured logger.
func Logger(l *slog.Logger) Option {
	return func(s *Search) { s.logger = l }
}

// NewLight creates the quick-lookup search tool.
func NewLight(client *sonar.Client, opts ...Option) *Search {
	return newSearch(conductor.ToolLightSearch, client, false, opts)
}

// NewMedium creates the deeper search tool that also reads cited pages.
func NewMedium(client *sonar.Client, opts ...Option) *Search {
	return newSearch(conductor.ToolMediumSearch, client, true, opts)
}

func newSearch(name string, client *sonar.Client, deep bool, opts []Option) *Search {
	s := &Search{
		name:   name,
		client: client,
		deep:   deep,
		httpc:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = conductor.NewRateLimiter(defaultRPM)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Name implements conductor.Tool.
func (s *Search) Name() string { return s.name }

// Schema implements conductor.Tool.
func (s *Search) Schema() conductor.ToolSchema {
	desc := "Quick web search for current facts. Returns a sourced answer."
	if s.deep {
		desc = "Deeper web search: returns a sourced answer plus extracts from the cited pages. Slower; use for substantive questions."
	}
	return conductor.ToolSchema{
		Name:        s.name,
		Description: desc,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"}
			},
			"required": ["query"]
		}`),
	}
}

// Execute implements conductor.Tool.
func (s *Search) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}
	if in.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	res, err := s.client.Search(ctx, in.Query)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(res.Answer)
	if len(res.Citations) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, c := range res.Citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if s.deep {
		s.appendPages(ctx, &b, res.Citations)
	}
	return b.String(), nil
}

// appendPages fetches up to mediumFetchPages citations and appends readable
// excerpts. Fetch failures are skipped, never fatal.
func (s *Search) appendPages(ctx context.Context, b *strings.Builder, citations []string) {
	fetched := 0
	for _, c := range citations {
		if fetched >= mediumFetchPages {
			break
		}
		text, err := s.fetchReadable(ctx, c)
		if err != nil {
			s.logger.Debug("citation fetch failed", "url", c, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		if len(text) > pageExcerptChars {
			text = text[:pageExcerptChars] + "\n... (truncated)"
		}
		fmt.Fprintf(b, "\n--- Page: %s ---\n%s\n", c, text)
		fetched++
	}
}

// fetchReadable downloads a page and extracts its readable text.
func (s *Search) fetchReadable(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ConductorBot/1.0)")

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", err
	}

	parsed, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(article.TextContent), nil
}

var _ conductor.Tool = (*Search)(nil)
