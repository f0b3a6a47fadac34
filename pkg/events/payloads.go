package events

import "time"

// Event is one published unit. Type is an EventType* constant and Payload
// one of the payload structs below.
type Event struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// TaskStatusPayload accompanies task lifecycle events.
type TaskStatusPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NeedsApprovalPayload accompanies task.needs_approval. The task is paused
// on the named step until an approve call arrives.
type NeedsApprovalPayload struct {
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	Description string `json:"description"`
	Command     string `json:"command"`
}

// StepStatusPayload accompanies step lifecycle events, including the
// rollback variants.
type StepStatusPayload struct {
	StepID      string `json:"step_id"`
	StepIndex   int    `json:"step_index"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Output      string `json:"output,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StepOutputPayload carries incremental command output for a running step.
// High-frequency and transient; the final output travels with the step
// completed event.
type StepOutputPayload struct {
	StepIndex int    `json:"step_index"`
	Chunk     string `json:"chunk"`
}
