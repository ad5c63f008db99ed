// Package model holds the concrete adapters behind the canonical model IDs:
// the large and light chat models, the long-horizon code model, the
// multimodal model, and the embedding and reranking specializations.
package model

import (
	"context"
	"time"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/openaicompat"
)

// Chat is a general chat adapter over an OpenAI-compatible client.
type Chat struct {
	client *openaicompat.Client
	spec   conductor.ModelSpec
}

// XL creates the large chat adapter.
func XL(client *openaicompat.Client) *Chat {
	return &Chat{
		client: client,
		spec: conductor.ModelSpec{
			ID:               conductor.ModelXL,
			Capabilities:     []conductor.Capability{conductor.CapChat, conductor.CapTools},
			MaxContextTokens: 200_000,
			MaxOutputTokens:  16_384,
			DefaultTimeout:   5 * time.Minute,
		},
	}
}

// Light creates the fast chat adapter.
func Light(client *openaicompat.Client) *Chat {
	return &Chat{
		client: client,
		spec: conductor.ModelSpec{
			ID:               conductor.ModelLight,
			Capabilities:     []conductor.Capability{conductor.CapChat, conductor.CapTools},
			MaxContextTokens: 128_000,
			MaxOutputTokens:  8_192,
			DefaultTimeout:   5 * time.Minute,
		},
	}
}

// Describe implements conductor.Adapter.
func (c *Chat) Describe() conductor.ModelSpec { return c.spec }

// Generate implements conductor.Adapter.
func (c *Chat) Generate(ctx context.Context, req conductor.ChatRequest) (conductor.Envelope, error) {
	if err := c.spec.ValidateRequest(req); err != nil {
		return conductor.Envelope{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.spec.DefaultTimeout)
		defer cancel()
	}
	env, err := c.client.Chat(ctx, req)
	if err != nil {
		return conductor.Envelope{}, err
	}
	env.Model = c.spec.ID
	return env, nil
}

var _ conductor.Adapter = (*Chat)(nil)
