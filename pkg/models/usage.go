package models

import "time"

// APIUsage is one row of the append-only model usage ledger.
// EstimatedCost is a fixed-point decimal string with six fraction digits.
type APIUsage struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID *string   `json:"conversation_id,omitempty"`
	Model          string    `json:"model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	TotalTokens    int       `json:"total_tokens"`
	EstimatedCost  string    `json:"estimated_cost"`
	CreatedAt      time.Time `json:"created_at"`
}

// CommandHistory is one row of the append-only remote command ledger.
// Output is bounded at write time; the full tool output cap applies before
// persistence, not after.
type CommandHistory struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	VPSServerID string    `json:"vps_server_id"`
	Command     string    `json:"command"`
	Output      string    `json:"output"`
	ExitCode    int       `json:"exit_code"`
	ExecutedAt  time.Time `json:"executed_at"`
}
