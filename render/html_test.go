package render

import (
	"context"
	"strings"
	"testing"
)

func TestRenderProducesStandaloneDocument(t *testing.T) {
	h := NewHTML("Research Report")
	out, mime, err := h.Render(context.Background(), "# Findings\n\nSome *emphasis* and a [link](https://example.com).\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if mime != "text/html; charset=utf-8" {
		t.Errorf("mime = %q", mime)
	}
	doc := string(out)
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Research Report</title>",
		"<h1",
		"Findings",
		`<a href="https://example.com"`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
}

func TestRenderGFMTables(t *testing.T) {
	h := NewHTML("t")
	out, _, err := h.Render(context.Background(), "| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(out), "<table>") {
		t.Error("GFM table not rendered")
	}
}

func TestRenderEscapesTitle(t *testing.T) {
	h := NewHTML(`<script>alert("x")</script>`)
	out, _, err := h.Render(context.Background(), "body")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(string(out), "<script>alert") {
		t.Error("title not escaped")
	}
}
