package openaicompat

import (
	"encoding/json"

	conductor "github.com/nevindra/conductor"
)

// ParseResponse converts an OpenAI-format ChatResponse into a normalized
// Envelope. All choices are preserved; callers usually read the first.
func ParseResponse(resp ChatResponse) conductor.Envelope {
	out := conductor.Envelope{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
	}
	if out.ID == "" {
		out.ID = conductor.NewID()
	}
	if out.Created == 0 {
		out.Created = conductor.NowUnix()
	}

	for _, c := range resp.Choices {
		choice := conductor.Choice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
		}
		if c.Message != nil {
			choice.Message = conductor.Message{
				Role:      "assistant",
				Content:   c.Message.Content,
				ToolCalls: ParseToolCalls(c.Message.ToolCalls),
			}
		}
		out.Choices = append(out.Choices, choice)
	}

	if resp.Usage != nil {
		out.Usage = conductor.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// ParseToolCalls converts wire tool calls. The wire carries function
// arguments as a JSON string; invalid payloads degrade to an empty object so
// the tool layer can report the argument error itself.
func ParseToolCalls(tcs []ToolCallRequest) []conductor.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]conductor.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, conductor.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
