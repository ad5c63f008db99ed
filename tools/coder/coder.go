// Package coder exposes the code model as a tool for the chat models.
package coder

import (
	"context"
	"encoding/json"
	"fmt"

	conductor "github.com/nevindra/conductor"
)

const systemPrompt = `You are an expert software engineer. Produce complete,
working code with brief explanations. Use fenced code blocks with language
tags.`

// Coder delegates code generation and debugging to the code adapter.
type Coder struct {
	adapter conductor.Adapter
}

// New creates the coder tool over the code adapter.
func New(adapter conductor.Adapter) *Coder {
	return &Coder{adapter: adapter}
}

// Name implements conductor.Tool.
func (c *Coder) Name() string { return conductor.ToolCoder }

// Schema implements conductor.Tool.
func (c *Coder) Schema() conductor.ToolSchema {
	return conductor.ToolSchema{
		Name:        conductor.ToolCoder,
		Description: "Generate, refactor, or debug code. Use for any programming task. Long-running: reserve for substantial work.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "The coding task, with all relevant context and code"},
				"language": {"type": "string", "description": "Preferred language, if any"}
			},
			"required": ["prompt"]
		}`),
	}
}

// Execute implements conductor.Tool.
func (c *Coder) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Prompt   string `json:"prompt"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}
	if in.Prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	prompt := in.Prompt
	if in.Language != "" {
		prompt = fmt.Sprintf("Language: %s\n\n%s", in.Language, prompt)
	}
	env, err := c.adapter.Generate(ctx, conductor.ChatRequest{
		Model: c.adapter.Describe().ID,
		Messages: []conductor.Message{
			conductor.SystemMessage(systemPrompt),
			conductor.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	return env.Text(), nil
}

var _ conductor.Tool = (*Coder)(nil)
