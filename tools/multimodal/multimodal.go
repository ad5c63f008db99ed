// Package multimodal exposes the vision model as a tool for the other
// models.
package multimodal

import (
	"context"
	"encoding/json"
	"fmt"

	conductor "github.com/nevindra/conductor"
)

// Analyzer answers questions about images and PDF documents via the
// multimodal adapter.
type Analyzer struct {
	adapter conductor.Adapter
}

// New creates the multimodal tool over the vision adapter.
func New(adapter conductor.Adapter) *Analyzer {
	return &Analyzer{adapter: adapter}
}

// Name implements conductor.Tool.
func (a *Analyzer) Name() string { return conductor.ToolMultimodal }

// Schema implements conductor.Tool.
func (a *Analyzer) Schema() conductor.ToolSchema {
	return conductor.ToolSchema{
		Name:        conductor.ToolMultimodal,
		Description: "Analyze an image or PDF document. Provide image_url or image_base64 with mime_type, or document_base64 for a PDF.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "What to analyze or answer about the attachment"},
				"image_url": {"type": "string"},
				"image_base64": {"type": "string"},
				"mime_type": {"type": "string"},
				"document_base64": {"type": "string", "description": "Base64-encoded PDF"},
				"document_name": {"type": "string"}
			},
			"required": ["prompt"]
		}`),
	}
}

// Execute implements conductor.Tool.
func (a *Analyzer) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Prompt         string `json:"prompt"`
		ImageURL       string `json:"image_url"`
		ImageBase64    string `json:"image_base64"`
		MimeType       string `json:"mime_type"`
		DocumentBase64 []byte `json:"document_base64"`
		DocumentName   string `json:"document_name"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}
	if in.Prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	msg := conductor.UserMessage(in.Prompt)
	switch {
	case in.ImageURL != "":
		msg.Images = []conductor.ImagePart{{URL: in.ImageURL, MimeType: in.MimeType}}
	case in.ImageBase64 != "":
		mime := in.MimeType
		if mime == "" {
			mime = "image/png"
		}
		msg.Images = []conductor.ImagePart{{Base64: in.ImageBase64, MimeType: mime}}
	case len(in.DocumentBase64) > 0:
		name := in.DocumentName
		if name == "" {
			name = "document.pdf"
		}
		msg.Documents = []conductor.DocumentPart{{
			Name:     name,
			MimeType: "application/pdf",
			Data:     in.DocumentBase64,
		}}
	}

	env, err := a.adapter.Generate(ctx, conductor.ChatRequest{
		Model:    a.adapter.Describe().ID,
		Messages: []conductor.Message{msg},
	})
	if err != nil {
		return "", err
	}
	return env.Text(), nil
}

var _ conductor.Tool = (*Analyzer)(nil)
