package model

import (
	"context"
	"log/slog"
	"time"

	conductor "github.com/nevindra/conductor"
	"github.com/nevindra/conductor/provider/openaicompat"
)

// codeRevisions caps how many lint-and-reprompt rounds the code adapter runs
// on top of the initial generation.
const codeRevisions = 2

// Code is the long-horizon code adapter. Generation gets a 30-minute budget
// and an optional quality pass: fenced code blocks are linted and, when
// findings remain, the model is re-prompted to fix them.
type Code struct {
	client *openaicompat.Client
	spec   conductor.ModelSpec
	review bool
	logger *slog.Logger
}

// CodeOption configures a Code adapter.
type CodeOption func(*Code)

// CodeReview enables the lint-and-reprompt quality pass.
func CodeReview() CodeOption {
	return func(c *Code) { c.review = true }
}

// CodeLogger sets the structured logger.
func CodeLogger(l *slog.Logger) CodeOption {
	return func(c *Code) { c.logger = l }
}

// NewCode creates the code adapter. The client should be constructed with a
// raised timeout (openaicompat.WithTimeout).
func NewCode(client *openaicompat.Client, opts ...CodeOption) *Code {
	c := &Code{
		client: client,
		spec: conductor.ModelSpec{
			ID:               conductor.ModelCode,
			Capabilities:     []conductor.Capability{conductor.CapChat, conductor.CapTools, conductor.CapCode},
			MaxContextTokens: 200_000,
			MaxOutputTokens:  32_768,
			DefaultTimeout:   30 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Describe implements conductor.Adapter.
func (c *Code) Describe() conductor.ModelSpec { return c.spec }

// Generate implements conductor.Adapter.
func (c *Code) Generate(ctx context.Context, req conductor.ChatRequest) (conductor.Envelope, error) {
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

	if !c.review || env.CallsTools() {
		return env, nil
	}

	messages := req.Messages
	usage := env.Usage
	for round := 0; round < codeRevisions; round++ {
		findings := reviewFindings(env.Text())
		if findings == "" {
			break
		}
		c.logger.Info("code review findings, requesting revision", "round", round+1)

		messages = append(messages,
			conductor.AssistantMessage(env.Text()),
			conductor.UserMessage("Automated review found issues in your code:\n\n"+findings+"\nRevise the code to fix them. Return the complete corrected code."),
		)
		revised := req
		revised.Messages = messages
		env, err = c.client.Chat(ctx, revised)
		if err != nil {
			return conductor.Envelope{}, err
		}
		env.Model = c.spec.ID
		usage.Add(env.Usage)
	}
	env.Usage = usage
	return env, nil
}

var _ conductor.Adapter = (*Code)(nil)
