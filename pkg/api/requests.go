package api

import "github.com/opsforge/opsforge/pkg/models"

// ApproveRequest is the HTTP request body for POST /api/agent/approve. Mac
// must be the token issued with the pending command; it binds the command to
// the server it was built for.
type ApproveRequest struct {
	ServerID       string `json:"serverId"`
	PendingCommand string `json:"pendingCommand"`
	Mac            string `json:"mac"`
	Approved       bool   `json:"approved"`
}

// PlanTaskRequest is the HTTP request body for POST /api/agent/tasks/plan.
type PlanTaskRequest struct {
	Request  string `json:"request"`
	ServerID string `json:"serverId,omitempty"`
}

// CreateTaskRequest is the HTTP request body for POST /api/agent/tasks.
type CreateTaskRequest struct {
	ServerID string           `json:"serverId"`
	Plan     *models.TaskPlan `json:"plan"`
}
