package models

import "time"

// ConversationMode selects the assistant behavior for a conversation.
type ConversationMode string

const (
	ModeChat      ConversationMode = "chat"
	ModeAgent     ConversationMode = "agent"
	ModeTesting   ConversationMode = "testing"
	ModeDebug     ConversationMode = "debug"
	ModeArchitect ConversationMode = "architect"
	ModePlan      ConversationMode = "plan"
	ModeSupport   ConversationMode = "support"
)

// MessageRole is the author role of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Conversation groups an ordered message history, optionally bound to a server.
type Conversation struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	VPSServerID          *string          `json:"vps_server_id,omitempty"`
	Title                string           `json:"title"`
	Mode                 ConversationMode `json:"mode"`
	ParentConversationID *string          `json:"parent_conversation_id,omitempty"`
	ContextSummary       *string          `json:"context_summary,omitempty"`
	ArchiveURL           *string          `json:"archive_url,omitempty"`
	ArchivedAt           *time.Time       `json:"archived_at,omitempty"`
	IsActive             bool             `json:"is_active"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Message is a single conversation turn. Within a conversation, messages are
// totally ordered by CreatedAt and that order is exactly the order shown to
// the LLM.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           MessageRole      `json:"role"`
	Content        string           `json:"content"`
	Attachments    []string         `json:"attachments,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// MessageMetadata carries assistant-side bookkeeping for a message.
type MessageMetadata struct {
	Mode            ConversationMode `json:"mode,omitempty"`
	ToolsUsed       []string         `json:"tools_used,omitempty"`
	Iterations      int              `json:"iterations,omitempty"`
	HasThinking     bool             `json:"has_thinking,omitempty"`
	PendingApproval bool             `json:"pending_approval,omitempty"`
}

// ConversationSummary is an append-only compression record produced when live
// history exceeds the compression threshold.
type ConversationSummary struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Summary        string    `json:"summary"`
	MessageRange   string    `json:"message_range"`
	TokenCount     int       `json:"token_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateMessageRequest contains fields for appending a message.
type CreateMessageRequest struct {
	ConversationID string           `json:"conversation_id"`
	Role           MessageRole      `json:"role"`
	Content        string           `json:"content"`
	Attachments    []string         `json:"attachments,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
}
