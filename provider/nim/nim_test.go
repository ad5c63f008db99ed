package nim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	conductor "github.com/nevindra/conductor"
)

func TestEmbedOrderedByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputType != "passage" {
			t.Errorf("input_type = %q", req.InputType)
		}
		if req.Truncate != "END" {
			t.Errorf("truncate = %q", req.Truncate)
		}
		// Return embeddings out of order; the client must rebuild input order.
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[2,2]},
			{"index":0,"embedding":[1,1]}
		]}`))
	}))
	defer srv.Close()

	c := NewEmbedClient("k", "embed-model", srv.URL, 2)
	vecs, err := c.Embed(context.Background(), []string{"first", "second"}, "passage")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vecs = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vectors not in input order: %v", vecs)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	c := NewEmbedClient("k", "embed-model", srv.URL, 1)
	_, err := c.Embed(context.Background(), []string{"a", "b"}, "query")
	var modelErr *conductor.ErrModel
	if !errors.As(err, &modelErr) {
		t.Errorf("err = %v, want *ErrModel", err)
	}
}

func TestEmbedIndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":5,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	c := NewEmbedClient("k", "embed-model", srv.URL, 1)
	if _, err := c.Embed(context.Background(), []string{"a"}, "query"); err == nil {
		t.Error("out-of-range index should fail")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	c := NewEmbedClient("k", "embed-model", "http://unused", 4)
	vecs, err := c.Embed(context.Background(), nil, "query")
	if err != nil || vecs != nil {
		t.Errorf("empty input: vecs=%v err=%v, want nil/nil", vecs, err)
	}
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewEmbedClient("k", "embed-model", srv.URL, 1)
	_, err := c.Embed(context.Background(), []string{"a"}, "query")
	var httpErr *conductor.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want *ErrHTTP 503", err)
	}
}

func TestRankMapsLogits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query.Text != "the question" {
			t.Errorf("query = %q", req.Query.Text)
		}
		if len(req.Passages) != 3 {
			t.Errorf("passages = %d", len(req.Passages))
		}
		w.Write([]byte(`{"rankings":[
			{"index":2,"logit":4.5},
			{"index":0,"logit":-1.25}
		]}`))
	}))
	defer srv.Close()

	c := NewRerankClient("k", "rerank-model", srv.URL)
	ranked, err := c.Rank(context.Background(), "the question", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Index != 2 || ranked[0].Score != 4.5 {
		t.Errorf("ranked[0] = %+v", ranked[0])
	}
	if ranked[1].Index != 0 || ranked[1].Score != -1.25 {
		t.Errorf("ranked[1] = %+v", ranked[1])
	}
}

func TestRankIndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rankings":[{"index":9,"logit":1}]}`))
	}))
	defer srv.Close()

	c := NewRerankClient("k", "rerank-model", srv.URL)
	if _, err := c.Rank(context.Background(), "q", []string{"a"}); err == nil {
		t.Error("out-of-range index should fail")
	}
}

func TestRankEmptyPassages(t *testing.T) {
	c := NewRerankClient("k", "rerank-model", "http://unused")
	ranked, err := c.Rank(context.Background(), "q", nil)
	if err != nil || ranked != nil {
		t.Errorf("empty passages: ranked=%v err=%v, want nil/nil", ranked, err)
	}
}
