package rag

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	conductor "github.com/nevindra/conductor"
)

func TestRetrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/retrieve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer rag-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req retrieveRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Mode != "research" || req.TopK != 10 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"chunks":[{"content":"fact","score":0.92,"source":"doc-7"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "rag-key")
	chunks, err := c.Retrieve(context.Background(), "q", "research", 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Content != "fact" || chunks[0].Source != "doc-7" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestIngest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ingest" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req ingestRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Title != "Report" || req.Meta["kind"] != "research_report" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"document_id":"doc-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	id, err := c.Ingest(context.Background(), "Report", "body", map[string]string{"kind": "research_report"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if id != "doc-42" {
		t.Errorf("id = %q", id)
	}
}

func TestRetrieveHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Retrieve(context.Background(), "q", "general", 5)
	var httpErr *conductor.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway {
		t.Errorf("err = %v, want *ErrHTTP 502", err)
	}
}
