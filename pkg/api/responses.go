package api

import (
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/tools"
)

// ApproveResponse is returned by POST /api/agent/approve.
type ApproveResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
}

// ToolSummary is one catalog entry in the tools listing.
type ToolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolsResponse is returned by GET /api/agent/tools.
type ToolsResponse struct {
	Tools      []ToolSummary    `json:"tools"`
	Categories []tools.Category `json:"categories"`
}

// PlanResponse is returned by POST /api/agent/tasks/plan.
type PlanResponse struct {
	Plan *models.TaskPlan `json:"plan"`
}

// TaskResponse wraps a task snapshot.
type TaskResponse struct {
	Task *models.Task `json:"task"`
}

// TasksResponse is returned by GET /api/agent/tasks.
type TasksResponse struct {
	Tasks []*models.Task `json:"tasks"`
}

// taskStreamEnd is the terminating SSE frame of task event streams: either
// {done:true, task} or {error}.
type taskStreamEnd struct {
	Done  bool         `json:"done,omitempty"`
	Task  *models.Task `json:"task,omitempty"`
	Error string       `json:"error,omitempty"`
}

// HealthCheck is one component's health within HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
