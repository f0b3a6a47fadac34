package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/models"
)

// taskFrame decodes any frame of a task stream: bus events carry Type and
// Payload, the terminator carries Done+Task or Error.
type taskFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Done    bool            `json:"done"`
	Error   string          `json:"error"`
	Task    *models.Task    `json:"task"`
}

func parseTaskFrames(t *testing.T, body string) []taskFrame {
	t.Helper()
	var frames []taskFrame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected SSE block: %q", block)
		var f taskFrame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &f))
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)
	return frames
}

func frameTypes(frames []taskFrame) []string {
	var types []string
	for _, f := range frames {
		if f.Type != "" {
			types = append(types, f.Type)
		}
	}
	return types
}

// copyPlan needs no approvals, so execution runs straight through.
func copyPlan() *models.TaskPlan {
	return &models.TaskPlan{
		Title: "Copy config into place",
		Steps: []*models.PlanStep{
			{Name: "copy", Command: "cp /etc/app.conf.new /etc/app.conf", RollbackCommand: "rm /etc/app.conf", Timeout: 30},
			{Name: "check", Command: "test -f /etc/app.conf", Timeout: 10},
		},
	}
}

func (h *apiHarness) createTaskFrom(t *testing.T, plan *models.TaskPlan) *models.Task {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/agent/tasks", CreateTaskRequest{ServerID: "s1", Plan: plan})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[TaskResponse](t, rec).Task
}

func TestExecuteTaskHandler_UnknownTask(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/ghost/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteTaskHandler_StreamsToCompletion(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTaskFrom(t, copyPlan())

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseTaskFrames(t, rec.Body.String())
	assert.Equal(t, []string{
		events.EventTypeTaskStarted,
		events.EventTypeStepStarted,
		events.EventTypeStepOutput,
		events.EventTypeStepCompleted,
		events.EventTypeStepStarted,
		events.EventTypeStepOutput,
		events.EventTypeStepCompleted,
		events.EventTypeTaskCompleted,
	}, frameTypes(frames))

	last := frames[len(frames)-1]
	assert.True(t, last.Done)
	require.NotNil(t, last.Task)
	assert.Equal(t, models.TaskStatusCompleted, last.Task.Status)

	assert.Equal(t, []string{
		"cp /etc/app.conf.new /etc/app.conf",
		"test -f /etc/app.conf",
	}, h.runner.ran())
}

func TestExecuteTaskHandler_PausesForApproval(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTask(t) // restartPlan: step one requires approval

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseTaskFrames(t, rec.Body.String())
	assert.Equal(t, []string{
		events.EventTypeTaskStarted,
		events.EventTypeTaskNeedsApproval,
		events.EventTypeTaskPaused,
	}, frameTypes(frames))

	// The approval request names the exact command awaiting a decision.
	var approval events.NeedsApprovalPayload
	require.NoError(t, json.Unmarshal(frames[1].Payload, &approval))
	assert.Equal(t, task.Steps[0].ID, approval.StepID)
	assert.Equal(t, "systemctl restart nginx", approval.Command)

	last := frames[len(frames)-1]
	assert.True(t, last.Done)
	require.NotNil(t, last.Task)
	assert.Equal(t, models.TaskStatusPaused, last.Task.Status)

	assert.Empty(t, h.runner.ran(), "nothing runs before approval")
}

func TestExecuteTaskHandler_StepFailureEndsStream(t *testing.T) {
	h := newAPIHarness(t)
	h.runner.fail["cp /etc/app.conf.new /etc/app.conf"] = 1
	task := h.createTaskFrom(t, copyPlan())

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseTaskFrames(t, rec.Body.String())
	assert.Equal(t, []string{
		events.EventTypeTaskStarted,
		events.EventTypeStepStarted,
		events.EventTypeStepFailed,
		events.EventTypeTaskFailed,
	}, frameTypes(frames))

	last := frames[len(frames)-1]
	assert.True(t, last.Done, "a failed run still terminates with the snapshot")
	require.NotNil(t, last.Task)
	assert.Equal(t, models.TaskStatusFailed, last.Task.Status)
	assert.Contains(t, last.Task.Error, "exited with code 1")

	// The second step never ran.
	assert.Equal(t, []string{"cp /etc/app.conf.new /etc/app.conf"}, h.runner.ran())
}

func TestExecuteTaskHandler_StateConflictStreamsError(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTaskFrom(t, copyPlan())

	_, err := h.server.orchestrator.Execute(context.Background(), task.ID)
	require.NoError(t, err)

	// Headers are already committed when the conflict is detected, so it
	// arrives as an error frame on a 200 stream.
	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseTaskFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Done)
	assert.Contains(t, frames[0].Error, "cannot execute a completed task")
}

func TestRollbackTaskHandler_StreamsReverseWalk(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTaskFrom(t, copyPlan())

	_, err := h.server.orchestrator.Execute(context.Background(), task.ID)
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseTaskFrames(t, rec.Body.String())
	assert.Equal(t, []string{
		events.EventTypeStepRollingBack,
		events.EventTypeStepRolledBack,
		events.EventTypeTaskRolledBack,
	}, frameTypes(frames))

	last := frames[len(frames)-1]
	assert.True(t, last.Done)
	require.NotNil(t, last.Task)
	assert.Equal(t, models.TaskStatusRolledBack, last.Task.Status)
	assert.Equal(t, models.StepStatusRolledBack, last.Task.Steps[0].Status)
	// The check step had no rollback command and is left as it was.
	assert.Equal(t, models.StepStatusCompleted, last.Task.Steps[1].Status)

	ran := h.runner.ran()
	require.Len(t, ran, 3, "two forward steps plus one rollback")
	assert.Equal(t, "rm /etc/app.conf", ran[2])
}

func TestRollbackTaskHandler_NothingToRollBack(t *testing.T) {
	h := newAPIHarness(t)
	task := h.createTaskFrom(t, copyPlan())

	rec := h.do(t, http.MethodPost, "/api/agent/tasks/"+task.ID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseTaskFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0].Error, "nothing to roll back")

	rec = h.do(t, http.MethodPost, "/api/agent/tasks/ghost/rollback", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
