package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusRunning     TaskStatus = "running"
	TaskStatusPaused      TaskStatus = "paused"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusRollingBack TaskStatus = "rolling_back"
	TaskStatusRolledBack  TaskStatus = "rolled_back"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// StepStatus is the lifecycle state of a single task step.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"
	StepStatusRunning        StepStatus = "running"
	StepStatusCompleted      StepStatus = "completed"
	StepStatusFailed         StepStatus = "failed"
	StepStatusSkipped        StepStatus = "skipped"
	StepStatusRolledBack     StepStatus = "rolled_back"
	StepStatusRollbackFailed StepStatus = "rollback_failed"
)

// Task is a multi-step plan executed against a single server.
//
// Invariants: a completed task has every step in {completed, skipped}; a
// rolled_back task has every previously-completed step in
// {rolled_back, rollback_failed}. CurrentStepIndex is monotonically
// non-decreasing during a single run.
type Task struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	ServerID         string      `json:"server_id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Status           TaskStatus  `json:"status"`
	Steps            []*TaskStep `json:"steps"`
	CurrentStepIndex int         `json:"current_step_index"`
	CreatedAt        time.Time   `json:"created_at"`
	StartedAt        *time.Time  `json:"started_at,omitempty"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// TaskStep is one command in a task plan. At most one step per task is in
// status running at any time.
type TaskStep struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Command          string     `json:"command"`
	RollbackCommand  string     `json:"rollback_command,omitempty"`
	RequiresApproval bool       `json:"requires_approval"`
	Timeout          int        `json:"timeout"`
	Status           StepStatus `json:"status"`
	Output           string     `json:"output,omitempty"`
	Error            string     `json:"error,omitempty"`
	ExitCode         *int       `json:"exit_code,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// TaskPlan is the LLM-produced plan a task is created from.
type TaskPlan struct {
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Steps             []*PlanStep `json:"steps"`
	EstimatedDuration string      `json:"estimated_duration,omitempty"`
	Risks             []string    `json:"risks,omitempty"`
	RequiresApproval  bool        `json:"requires_approval"`
}

// PlanStep is a single step of a TaskPlan before materialisation.
type PlanStep struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Command          string `json:"command"`
	RollbackCommand  string `json:"rollback_command,omitempty"`
	RequiresApproval bool   `json:"requires_approval"`
	Timeout          int    `json:"timeout"`
}

// Clone returns a deep copy of the task so snapshots handed to event
// subscribers cannot race with orchestrator mutations.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Steps = make([]*TaskStep, len(t.Steps))
	for i, s := range t.Steps {
		sc := *s
		cp.Steps[i] = &sc
	}
	return &cp
}
