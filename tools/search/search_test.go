package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/sonar"
)

// sonarServer answers like a grounded search upstream, citing the given URLs.
func sonarServer(t *testing.T, answer string, citations ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices":   []map[string]any{{"message": map[string]any{"content": answer}}},
			"citations": citations,
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestLightSearchExecute(t *testing.T) {
	upstream := sonarServer(t, "The answer.", "https://example.com/source")
	defer upstream.Close()

	tool := NewLight(sonar.New("k", "m", upstream.URL))
	if tool.Name() != conductor.ToolLightSearch {
		t.Errorf("Name = %q", tool.Name())
	}

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"anything"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "The answer.") {
		t.Errorf("output missing answer: %q", out)
	}
	if !strings.Contains(out, "https://example.com/source") {
		t.Errorf("output missing citation: %q", out)
	}
	// The light variant never fetches cited pages.
	if strings.Contains(out, "--- Page:") {
		t.Errorf("light search fetched pages: %q", out)
	}
}

func TestSearchRejectsBadArguments(t *testing.T) {
	tool := NewLight(sonar.New("k", "m", "http://unused"))
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("missing query should fail")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("invalid json should fail")
	}
}

func TestMediumSearchFetchesCitedPages(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Doc</title></head><body><article><p>`+
			strings.Repeat("Readable page content. ", 30)+
			`</p></article></body></html>`)
	}))
	defer page.Close()

	upstream := sonarServer(t, "Grounded answer.", page.URL+"/doc")
	defer upstream.Close()

	tool := NewMedium(sonar.New("k", "m", upstream.URL))
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"deep question"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Grounded answer.") {
		t.Errorf("output missing answer: %q", out)
	}
	if !strings.Contains(out, "--- Page: "+page.URL+"/doc") {
		t.Errorf("output missing page extract: %q", out)
	}
	if !strings.Contains(out, "Readable page content.") {
		t.Errorf("output missing readable text: %q", out)
	}
}

func TestMediumSearchSkipsUnfetchablePages(t *testing.T) {
	upstream := sonarServer(t, "Answer.", "http://127.0.0.1:1/nope")
	defer upstream.Close()

	tool := NewMedium(sonar.New("k", "m", upstream.URL))
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"q"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "Answer.") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "--- Page:") {
		t.Errorf("unreachable page produced an extract: %q", out)
	}
}

func TestSearchRateLimited(t *testing.T) {
	upstream := sonarServer(t, "A.")
	defer upstream.Close()

	tool := NewLight(sonar.New("k", "m", upstream.URL), RPM(1))
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"first"}`)); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := tool.Execute(ctx, json.RawMessage(`{"query":"second"}`)); err == nil {
		t.Error("second call should block on the rate limit and time out")
	}
}
