package openaicompat

import (
	"encoding/json"
	"fmt"

	conductor "github.com/nevindra/conductor"
)

// BuildBody converts normalized messages and tool schemas into an
// OpenAI-format ChatRequest for the given upstream model name.
func BuildBody(req conductor.ChatRequest, model string) ChatRequest {
	var msgs []Message

	for _, m := range req.Messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msg := Message{Role: "assistant", ToolCalls: tcs}
			if m.Content != "" {
				msg.Content = m.Content
			}
			msgs = append(msgs, msg)

		case m.Role == "tool":
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		case len(m.Images) > 0:
			var blocks []ContentBlock
			if m.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				url := img.URL
				if url == "" {
					url = fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Base64)
				}
				blocks = append(blocks, ContentBlock{
					Type:     "image_url",
					ImageURL: &ImageURL{URL: url},
				})
			}
			msgs = append(msgs, Message{Role: m.Role, Content: blocks})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}

	body := ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		body.Tools = BuildToolDefs(req.Tools)
	}
	return body
}

// BuildToolDefs converts tool schemas to the OpenAI function-tool format.
func BuildToolDefs(tools []conductor.ToolSchema) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
