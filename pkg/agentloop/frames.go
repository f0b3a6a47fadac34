package agentloop

// Frame is one SSE payload of the chat stream. Exactly one group of fields
// is populated per emit; omitempty keeps the wire format sparse.
type Frame struct {
	ConversationID string `json:"conversationId,omitempty"`

	Content  string `json:"content,omitempty"`
	Thinking string `json:"thinking,omitempty"`
	Status   string `json:"status,omitempty"`

	ToolCall *ToolCallFrame `json:"toolCall,omitempty"`

	Done            bool     `json:"done,omitempty"`
	PendingApproval bool     `json:"pendingApproval,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	ToolsUsed       []string `json:"toolsUsed,omitempty"`
	Iterations      int      `json:"iterations,omitempty"`

	Error string `json:"error,omitempty"`
}

// ToolCallFrame reports one tool invocation's lifecycle on the stream:
// executing, then success/error/requires_approval.
type ToolCallFrame struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name"`
	Input          map[string]any `json:"input,omitempty"`
	Status         string         `json:"status"`
	DurationMS     int64          `json:"duration,omitempty"`
	OutputPreview  string         `json:"outputPreview,omitempty"`
	PendingCommand string         `json:"pendingCommand,omitempty"`
	Mac            string         `json:"mac,omitempty"`
	Message        string         `json:"message,omitempty"`
}

const (
	toolStatusExecuting        = "executing"
	toolStatusSuccess          = "success"
	toolStatusError            = "error"
	toolStatusRequiresApproval = "requires_approval"
)
