package model

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/openaicompat"
)

// ModelVision is the canonical ID of the multimodal adapter.
const ModelVision = "conductor-vision"

// Multimodal accepts images alongside text. Attached PDF documents are
// flattened to text before dispatch so the upstream only ever sees text and
// image parts.
type Multimodal struct {
	client *openaicompat.Client
	spec   conductor.ModelSpec
}

// NewMultimodal creates the multimodal adapter.
func NewMultimodal(client *openaicompat.Client) *Multimodal {
	return &Multimodal{
		client: client,
		spec: conductor.ModelSpec{
			ID:               ModelVision,
			Capabilities:     []conductor.Capability{conductor.CapChat, conductor.CapVision},
			MaxContextTokens: 128_000,
			MaxOutputTokens:  8_192,
			DefaultTimeout:   5 * time.Minute,
		},
	}
}

// Describe implements conductor.Adapter.
func (m *Multimodal) Describe() conductor.ModelSpec { return m.spec }

// Generate implements conductor.Adapter.
func (m *Multimodal) Generate(ctx context.Context, req conductor.ChatRequest) (conductor.Envelope, error) {
	if err := m.spec.ValidateRequest(req); err != nil {
		return conductor.Envelope{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.spec.DefaultTimeout)
		defer cancel()
	}

	flattened, err := flattenDocuments(req.Messages)
	if err != nil {
		return conductor.Envelope{}, &conductor.ErrModel{Model: m.spec.ID, Message: err.Error()}
	}
	req.Messages = flattened

	env, err := m.client.Chat(ctx, req)
	if err != nil {
		return conductor.Envelope{}, err
	}
	env.Model = m.spec.ID
	return env, nil
}

// flattenDocuments replaces document parts with extracted text appended to
// the message content. Non-PDF documents are rejected.
func flattenDocuments(messages []conductor.Message) ([]conductor.Message, error) {
	out := make([]conductor.Message, len(messages))
	copy(out, messages)
	for i, msg := range out {
		if len(msg.Documents) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(msg.Content)
		for _, doc := range msg.Documents {
			if doc.MimeType != "application/pdf" {
				return nil, fmt.Errorf("unsupported document type %q (%s)", doc.MimeType, doc.Name)
			}
			text, err := extractPDFText(doc.Data)
			if err != nil {
				return nil, fmt.Errorf("extract %s: %v", doc.Name, err)
			}
			fmt.Fprintf(&b, "\n\n--- Document: %s ---\n%s", doc.Name, text)
		}
		out[i].Content = b.String()
		out[i].Documents = nil
	}
	return out, nil
}

// extractPDFText pulls plain text from a PDF, page by page.
func extractPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

var _ conductor.Adapter = (*Multimodal)(nil)
