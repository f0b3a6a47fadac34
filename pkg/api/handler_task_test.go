package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/models"
)

// restartPlan is a small two-step plan used by the create/lifecycle tests.
// Step one requires approval so tests can drive the pause machinery.
func restartPlan() *models.TaskPlan {
	return &models.TaskPlan{
		Title:       "Restart nginx",
		Description: "Restart the web server and verify it came back",
		Steps: []*models.PlanStep{
			{
				Name:             "restart",
				Description:      "restart the service",
				Command:          "systemctl restart nginx",
				RollbackCommand:  "systemctl start nginx",
				RequiresApproval: true,
				Timeout:          30,
			},
			{
				Name:        "verify",
				Description: "check the service is active",
				Command:     "systemctl is-active nginx",
				Timeout:     10,
			},
		},
		RequiresApproval: true,
	}
}

func (h *apiHarness) createTask(t *testing.T) *models.Task {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/agent/tasks", CreateTaskRequest{ServerID: "s1", Plan: restartPlan()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[TaskResponse](t, rec).Task
}

func TestPlanTaskHandler_NotConfigured(t *testing.T) {
	s := &Server{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/tasks/plan", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.planTaskHandler(c)
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok)
		assert.Equal(t, http.StatusServiceUnavailable, he.Code)
	}
}

func TestPlanTaskHandler_RequiresRequestText(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/plan", PlanTaskRequest{Request: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanTaskHandler_UnknownServer(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/plan", PlanTaskRequest{Request: "install nginx", ServerID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanTaskHandler_ReturnsModelPlan(t *testing.T) {
	h := newAPIHarness(t)
	// Prose and code fences around the JSON, plus an out-of-range timeout the
	// planner must clamp.
	h.llm.scripts = [][]llm.Chunk{{
		{Text: "Here is the plan:\n```json\n{\"title\":\"Install nginx\",\"description\":\"Install and start nginx\","},
		{Text: "\"steps\":[{\"name\":\"install\",\"description\":\"install the package\",\"command\":\"apt-get install -y nginx\",\"rollback_command\":\"apt-get remove -y nginx\",\"requires_approval\":true,\"timeout\":120},"},
		{Text: "{\"name\":\"verify\",\"description\":\"confirm it runs\",\"command\":\"systemctl is-active nginx\",\"timeout\":5}],"},
		{Text: "\"estimated_duration\":\"2 minutes\",\"risks\":[\"package conflicts\"]}\n```\n"},
		{Done: true},
	}}

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/plan", PlanTaskRequest{Request: "install nginx", ServerID: "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plan := decodeJSON[PlanResponse](t, rec).Plan
	require.NotNil(t, plan)
	assert.Equal(t, "Install nginx", plan.Title)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "apt-get install -y nginx", plan.Steps[0].Command)
	assert.Equal(t, "apt-get remove -y nginx", plan.Steps[0].RollbackCommand)
	assert.Equal(t, 120, plan.Steps[0].Timeout)
	assert.Equal(t, 60, plan.Steps[1].Timeout, "sub-minimum timeouts get the default")
	assert.True(t, plan.RequiresApproval, "step approval bubbles up to the plan")
	assert.Equal(t, []string{"package conflicts"}, plan.Risks)
}

func TestPlanTaskHandler_FallsBackOnProse(t *testing.T) {
	h := newAPIHarness(t)
	h.llm.scripts = [][]llm.Chunk{{
		{Text: "I am sorry, I cannot produce a plan for that."},
		{Done: true},
	}}

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/plan", PlanTaskRequest{Request: "do something vague"})
	require.Equal(t, http.StatusOK, rec.Code)

	plan := decodeJSON[PlanResponse](t, rec).Plan
	require.NotNil(t, plan)
	assert.Equal(t, "Manual review needed", plan.Title)
	require.Len(t, plan.Steps, 1)
	assert.True(t, plan.RequiresApproval)
}

func TestCreateTaskHandler_Validation(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		body CreateTaskRequest
	}{
		{"missing server", CreateTaskRequest{Plan: restartPlan()}},
		{"missing plan", CreateTaskRequest{ServerID: "s1"}},
		{"empty steps", CreateTaskRequest{ServerID: "s1", Plan: &models.TaskPlan{Title: "noop"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/agent/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateTaskHandler_UnknownServer(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks", CreateTaskRequest{ServerID: "ghost", Plan: restartPlan()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTaskHandler(t *testing.T) {
	h := newAPIHarness(t)

	task := h.createTask(t)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "default", task.UserID)
	assert.Equal(t, "s1", task.ServerID)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	require.Len(t, task.Steps, 2)
	assert.NotEmpty(t, task.Steps[0].ID)
	assert.Equal(t, "systemctl restart nginx", task.Steps[0].Command)
	assert.Equal(t, "systemctl start nginx", task.Steps[0].RollbackCommand)
	assert.True(t, task.Steps[0].RequiresApproval)
	assert.Equal(t, models.StepStatusPending, task.Steps[1].Status)
}

func TestGetTaskHandler(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t)

	rec := h.do(t, http.MethodGet, "/api/agent/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[TaskResponse](t, rec).Task
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "Restart nginx", got.Title)

	rec = h.do(t, http.MethodGet, "/api/agent/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasksHandler_ScopedToUser(t *testing.T) {
	h := newAPIHarness(t)
	h.createTask(t)
	h.createTask(t)

	rec := h.do(t, http.MethodGet, "/api/agent/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[TasksResponse](t, rec).Tasks, 2)

	// Another identity sees an empty list, not someone else's tasks.
	req := httptest.NewRequest(http.MethodGet, "/api/agent/tasks", nil)
	req.Header.Set("X-User-ID", "intruder")
	rec2 := httptest.NewRecorder()
	h.server.echo.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.Empty(t, decodeJSON[TasksResponse](t, rec2).Tasks)
}

func TestApproveStepHandler_ResumesToCompletion(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t)

	// Drive the task to its approval pause first.
	paused, err := h.server.orchestrator.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusPaused, paused.Status)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/steps/"+task.Steps[0].ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeJSON[TaskResponse](t, rec).Task
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, []string{"systemctl restart nginx", "systemctl is-active nginx"}, h.runner.ran())
}

func TestApproveStepHandler_Errors(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t)

	// Approving a step of a pending task is a state conflict.
	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/steps/"+task.Steps[0].ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// An unknown step on a paused task is a 404.
	_, err := h.server.orchestrator.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	rec = h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/steps/ghost/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/agent/tasks/ghost/steps/ghost/approve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseResumeHandlers_StateErrors(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t)

	// Nothing is running yet, so pause conflicts.
	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/agent/tasks/ghost/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskHandler(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeJSON[TaskResponse](t, rec).Task
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	for _, step := range got.Steps {
		assert.Equal(t, models.StepStatusSkipped, step.Status)
	}

	// Cancelling a cancelled task conflicts.
	rec = h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
