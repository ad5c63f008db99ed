package conductor

import "encoding/json"

// --- Canonical model IDs ---

const (
	ModelXL    = "conductor-xl"    // large general model, full tool access
	ModelLight = "conductor-light" // fast general model, full tool access
	ModelCode  = "conductor-code"  // long-horizon code model, restricted tools
)

// --- LLM protocol types ---

type Message struct {
	Role       string          `json:"role"` // "system", "user", "assistant", "tool"
	Content    string          `json:"content"`
	Images     []ImagePart     `json:"images,omitempty"`
	Documents  []DocumentPart  `json:"documents,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type ImagePart struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64,omitempty"`
	URL      string `json:"url,omitempty"`
}

// DocumentPart carries an attached file (currently PDF) for multimodal
// requests. Text is extracted before dispatch; the raw bytes never reach
// the wire.
type DocumentPart struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest is the normalized inbound request shared by the chat core and
// all adapters. Tools is populated by the chat core from the registry; the
// transport layer never sets it directly.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	WebSearch   bool         `json:"web_search,omitempty"`
	Research    bool         `json:"research,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

// ToolSchema describes a callable function in JSON Schema form.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Envelope is the normalized model response. The shape follows the OpenAI
// chat completions object, extended with an optional research plan.
type Envelope struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Created      int64         `json:"created"`
	Choices      []Choice      `json:"choices"`
	Usage        Usage         `json:"usage"`
	ResearchPlan *ResearchPlan `json:"research_plan,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"` // "stop", "tool_calls", "length"
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add accumulates usage across iterations of a tool loop.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Text returns the first choice's content, or "" for an empty envelope.
func (e Envelope) Text() string {
	if len(e.Choices) == 0 {
		return ""
	}
	return e.Choices[0].Message.Content
}

// CallsTools reports whether the first choice requested tool calls.
func (e Envelope) CallsTools() bool {
	return len(e.Choices) > 0 && len(e.Choices[0].Message.ToolCalls) > 0
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}

// LastUserText returns the content of the last user message, or "".
func LastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
