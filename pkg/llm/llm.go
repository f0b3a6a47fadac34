// Package llm defines the model port of the agent core and its Anthropic
// implementation. The core consumes the Client interface only; provider
// plumbing stays behind it.
package llm

import (
	"context"
	"encoding/json"

	"github.com/opsforge/opsforge/pkg/models"
)

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of a tool call, fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Message is one turn of model input. A turn carries text, tool calls
// (assistant) or tool results (user), in provider-neutral form.
type Message struct {
	Role        models.MessageRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Tool is a provider-neutral tool definition.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Request is a single completion request.
type Request struct {
	Model          string
	System         string
	Messages       []Message
	Tools          []Tool
	MaxTokens      int
	EnableThinking bool
}

// Chunk is one streamed unit of model output. Exactly one of the content
// fields is meaningful per chunk; Done carries the final token counts.
type Chunk struct {
	Text          string
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	ToolCall      *ToolCall
	Done          bool
	InputTokens   int
	OutputTokens  int
	Error         error
}

// Client streams completions. Implementations must close the returned
// channel when the stream ends, and send at most one Error or Done chunk.
type Client interface {
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// EstimateTokens approximates token count at ~4 characters per token. Used
// for context budgeting, not billing; billed counts come from the provider.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
