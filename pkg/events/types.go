// Package events delivers task lifecycle events to in-process subscribers.
// The orchestrator publishes typed payloads; SSE handlers subscribe per
// task channel and relay frames to clients.
package events

// Task lifecycle event types.
const (
	EventTypeTaskCreated       = "task.created"
	EventTypeTaskUpdated       = "task.updated"
	EventTypeTaskStarted       = "task.started"
	EventTypeTaskCompleted     = "task.completed"
	EventTypeTaskFailed        = "task.failed"
	EventTypeTaskPaused        = "task.paused"
	EventTypeTaskResumed       = "task.resumed"
	EventTypeTaskCancelled     = "task.cancelled"
	EventTypeTaskNeedsApproval = "task.needs_approval"
	EventTypeTaskRolledBack    = "task.rolled_back"
)

// Step lifecycle event types.
const (
	EventTypeStepStarted        = "step.started"
	EventTypeStepOutput         = "step.output"
	EventTypeStepCompleted      = "step.completed"
	EventTypeStepFailed         = "step.failed"
	EventTypeStepApproved       = "step.approved"
	EventTypeStepRollingBack    = "step.rolling_back"
	EventTypeStepRolledBack     = "step.rolled_back"
	EventTypeStepRollbackFailed = "step.rollback_failed"
)

// TaskChannel returns the channel name for a task's events.
// Format: "task:{task_id}"
func TaskChannel(taskID string) string {
	return "task:" + taskID
}
