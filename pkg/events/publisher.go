package events

import "time"

// Publisher publishes typed task events onto a Bus. Each public method
// accepts a specific payload struct; routing to the task channel is
// derived from the task id.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher over the given bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) publish(eventType, taskID string, payload any) {
	p.bus.Publish(TaskChannel(taskID), Event{
		Type:      eventType,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// PublishTaskStatus broadcasts a task lifecycle event. eventType must be
// one of the EventTypeTask* constants.
func (p *Publisher) PublishTaskStatus(eventType, taskID string, payload TaskStatusPayload) {
	p.publish(eventType, taskID, payload)
}

// PublishNeedsApproval broadcasts task.needs_approval for a paused step.
func (p *Publisher) PublishNeedsApproval(taskID string, payload NeedsApprovalPayload) {
	p.publish(EventTypeTaskNeedsApproval, taskID, payload)
}

// PublishStepStatus broadcasts a step lifecycle event. eventType must be
// one of the EventTypeStep* constants.
func (p *Publisher) PublishStepStatus(eventType, taskID string, payload StepStatusPayload) {
	p.publish(eventType, taskID, payload)
}

// PublishStepOutput broadcasts incremental step output. Transient; lost
// to subscribers who connect later.
func (p *Publisher) PublishStepOutput(taskID string, payload StepOutputPayload) {
	p.publish(EventTypeStepOutput, taskID, payload)
}
