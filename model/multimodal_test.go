package model

import (
	"context"
	"testing"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/openaicompat"
)

func TestFlattenDocumentsNoDocs(t *testing.T) {
	in := []conductor.Message{
		conductor.UserMessage("plain"),
		{Role: "user", Content: "with image", Images: []conductor.ImagePart{{URL: "u"}}},
	}
	out, err := flattenDocuments(in)
	if err != nil {
		t.Fatalf("flattenDocuments: %v", err)
	}
	if len(out) != 2 || out[0].Content != "plain" || len(out[1].Images) != 1 {
		t.Errorf("messages changed: %+v", out)
	}
}

func TestFlattenDocumentsRejectsNonPDF(t *testing.T) {
	in := []conductor.Message{{
		Role:    "user",
		Content: "read this",
		Documents: []conductor.DocumentPart{
			{Name: "notes.docx", MimeType: "application/msword", Data: []byte("x")},
		},
	}}
	if _, err := flattenDocuments(in); err == nil {
		t.Error("non-PDF document should be rejected")
	}
}

func TestFlattenDocumentsDoesNotMutateInput(t *testing.T) {
	in := []conductor.Message{{
		Role:    "user",
		Content: "orig",
		Documents: []conductor.DocumentPart{
			{Name: "bad.pdf", MimeType: "application/pdf", Data: []byte("not a pdf")},
		},
	}}
	// Extraction fails on garbage bytes, but the input must stay intact.
	flattenDocuments(in)
	if in[0].Content != "orig" || len(in[0].Documents) != 1 {
		t.Errorf("input mutated: %+v", in[0])
	}
}

func TestMultimodalAcceptsImages(t *testing.T) {
	srv, _ := chatUpstream(t, "a cat")
	defer srv.Close()

	m := NewMultimodal(openaicompat.New("k", "m", srv.URL))
	env, err := m.Generate(context.Background(), conductor.ChatRequest{
		Messages: []conductor.Message{{
			Role:    "user",
			Content: "what is this",
			Images:  []conductor.ImagePart{{MimeType: "image/png", Base64: "AAAA"}},
		}},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if env.Model != ModelVision {
		t.Errorf("Model = %q, want %q", env.Model, ModelVision)
	}
}

func TestMultimodalRejectsBadDocument(t *testing.T) {
	srv, calls := chatUpstream(t, "never")
	defer srv.Close()

	m := NewMultimodal(openaicompat.New("k", "m", srv.URL))
	_, err := m.Generate(context.Background(), conductor.ChatRequest{
		Messages: []conductor.Message{{
			Role:    "user",
			Content: "summarize",
			Documents: []conductor.DocumentPart{
				{Name: "x.txt", MimeType: "text/plain", Data: []byte("hi")},
			},
		}},
	})
	if err == nil {
		t.Fatal("unsupported document should fail")
	}
	if calls.Load() != 0 {
		t.Error("upstream called despite document rejection")
	}
}
