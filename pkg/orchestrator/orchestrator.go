// Package orchestrator plans and executes multi-step tasks against a single
// server: step machine with per-step approval, pause/resume/cancel, and
// reverse rollback. Lifecycle transitions fan out on the event bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/vault"
)

var (
	// ErrTaskNotFound reports an unknown task id.
	ErrTaskNotFound = errors.New("orchestrator: task not found")
	// ErrTaskBusy reports a second executor entering a task that is already
	// running or rolling back.
	ErrTaskBusy = errors.New("orchestrator: task already executing")
	// ErrBadState reports an operation invalid for the task's current state.
	ErrBadState = errors.New("orchestrator: invalid state for operation")
	// ErrStepNotFound reports an unknown step id.
	ErrStepNotFound = errors.New("orchestrator: step not found")
)

// Config wires an Orchestrator. ServerVault opens server credentials for the
// SSH hop.
type Config struct {
	Tasks       TaskStore
	Runner      sshexec.Runner
	Bus         *events.Bus
	Store       store.Store
	ServerVault *vault.Vault
	Logger      *slog.Logger
}

// Orchestrator owns task state. All task and step mutations happen under mu;
// remote command execution does not.
type Orchestrator struct {
	mu          sync.Mutex
	tasks       TaskStore
	runner      sshexec.Runner
	publisher   *events.Publisher
	store       store.Store
	serverVault *vault.Vault
	logger      *slog.Logger
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	tasks := cfg.Tasks
	if tasks == nil {
		tasks = NewMemoryTaskStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		tasks:       tasks,
		runner:      cfg.Runner,
		publisher:   events.NewPublisher(cfg.Bus),
		store:       cfg.Store,
		serverVault: cfg.ServerVault,
		logger:      logger,
	}
}

// Create materialises a plan into a pending task and announces it.
func (o *Orchestrator) Create(userID, serverID string, plan *models.TaskPlan) *models.Task {
	task := &models.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		ServerID:    serverID,
		Title:       plan.Title,
		Description: plan.Description,
		Status:      models.TaskStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	for _, ps := range plan.Steps {
		task.Steps = append(task.Steps, &models.TaskStep{
			ID:               uuid.NewString(),
			Name:             ps.Name,
			Description:      ps.Description,
			Command:          ps.Command,
			RollbackCommand:  ps.RollbackCommand,
			RequiresApproval: ps.RequiresApproval,
			Timeout:          ps.Timeout,
			Status:           models.StepStatusPending,
		})
	}

	o.mu.Lock()
	o.tasks.Put(task)
	snapshot := task.Clone()
	o.mu.Unlock()

	o.publisher.PublishTaskStatus(events.EventTypeTaskCreated, task.ID, events.TaskStatusPayload{Status: string(models.TaskStatusPending)})
	return snapshot
}

// Get returns a snapshot of one task.
func (o *Orchestrator) Get(taskID string) (*models.Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// List returns snapshots of a user's tasks, newest first.
func (o *Orchestrator) List(userID string) []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	tasks := o.tasks.List(userID)
	out := make([]*models.Task, len(tasks))
	for i, task := range tasks {
		out[i] = task.Clone()
	}
	return out
}

// Execute runs the step machine from CurrentStepIndex. At most one executor
// may be inside a task; concurrent attempts get ErrTaskBusy. The call blocks
// until the task pauses, fails, completes, or is cancelled, and returns the
// snapshot at that point.
func (o *Orchestrator) Execute(ctx context.Context, taskID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case models.TaskStatusRunning, models.TaskStatusRollingBack:
		o.mu.Unlock()
		return nil, ErrTaskBusy
	case models.TaskStatusPending, models.TaskStatusPaused:
	default:
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot execute a %s task", ErrBadState, task.Status)
	}

	task.Status = models.TaskStatusRunning
	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}
	o.mu.Unlock()
	o.publisher.PublishTaskStatus(events.EventTypeTaskStarted, task.ID, events.TaskStatusPayload{Status: string(models.TaskStatusRunning)})

	conn, err := o.connection(ctx, task.ServerID)
	if err != nil {
		return o.failTask(task, fmt.Sprintf("server connection: %v", err)), nil
	}

	return o.runSteps(ctx, task, conn), nil
}

func (o *Orchestrator) runSteps(ctx context.Context, task *models.Task, conn sshexec.ServerConnection) *models.Task {
	for {
		o.mu.Lock()

		// Observe external transitions at the step boundary.
		if task.Status != models.TaskStatusRunning {
			snapshot := task.Clone()
			o.mu.Unlock()
			return snapshot
		}
		if task.CurrentStepIndex >= len(task.Steps) {
			now := time.Now().UTC()
			task.Status = models.TaskStatusCompleted
			task.CompletedAt = &now
			snapshot := task.Clone()
			o.mu.Unlock()
			o.publisher.PublishTaskStatus(events.EventTypeTaskCompleted, task.ID, events.TaskStatusPayload{Status: string(models.TaskStatusCompleted)})
			return snapshot
		}

		index := task.CurrentStepIndex
		step := task.Steps[index]

		if step.Status == models.StepStatusCompleted || step.Status == models.StepStatusSkipped {
			task.CurrentStepIndex++
			o.mu.Unlock()
			continue
		}

		if step.RequiresApproval && step.Status == models.StepStatusPending {
			task.Status = models.TaskStatusPaused
			snapshot := task.Clone()
			payload := events.NeedsApprovalPayload{
				StepID:      step.ID,
				StepIndex:   index,
				Description: step.Description,
				Command:     step.Command,
			}
			o.mu.Unlock()
			o.publisher.PublishNeedsApproval(task.ID, payload)
			o.publisher.PublishTaskStatus(events.EventTypeTaskPaused, task.ID, events.TaskStatusPayload{Status: string(models.TaskStatusPaused)})
			return snapshot
		}

		now := time.Now().UTC()
		step.Status = models.StepStatusRunning
		step.StartedAt = &now
		command, timeout, stepID := step.Command, step.Timeout, step.ID
		description := step.Description
		o.mu.Unlock()

		o.publisher.PublishStepStatus(events.EventTypeStepStarted, task.ID, events.StepStatusPayload{
			StepID: stepID, StepIndex: index, Description: description, Status: string(models.StepStatusRunning),
		})

		result, err := o.runner.Run(ctx, conn, command, timeout)

		o.mu.Lock()
		done := time.Now().UTC()
		step.CompletedAt = &done

		if err != nil || result.ExitCode != 0 {
			var reason string
			if err != nil {
				reason = err.Error()
			} else {
				exit := result.ExitCode
				step.ExitCode = &exit
				step.Output = result.CombinedOutput()
				reason = fmt.Sprintf("step %q exited with code %d", step.Name, exit)
			}
			step.Status = models.StepStatusFailed
			step.Error = reason
			task.Status = models.TaskStatusFailed
			task.Error = reason
			snapshot := task.Clone()
			o.mu.Unlock()

			o.publisher.PublishStepStatus(events.EventTypeStepFailed, task.ID, events.StepStatusPayload{
				StepID: stepID, StepIndex: index, Description: description,
				Status: string(models.StepStatusFailed), Error: reason,
			})
			o.publisher.PublishTaskStatus(events.EventTypeTaskFailed, task.ID, events.TaskStatusPayload{
				Status: string(models.TaskStatusFailed), Error: reason,
			})
			return snapshot
		}

		exit := result.ExitCode
		step.ExitCode = &exit
		step.Status = models.StepStatusCompleted
		step.Output = result.CombinedOutput()
		task.CurrentStepIndex++
		output := step.Output
		o.mu.Unlock()

		o.publisher.PublishStepOutput(task.ID, events.StepOutputPayload{StepIndex: index, Chunk: output})
		o.publisher.PublishStepStatus(events.EventTypeStepCompleted, task.ID, events.StepStatusPayload{
			StepID: stepID, StepIndex: index, Description: description,
			Status: string(models.StepStatusCompleted), Output: output,
		})
	}
}

// ApproveStep clears the approval flag on a step and re-enters execution.
// This is the only way past a paused approval.
func (o *Orchestrator) ApproveStep(ctx context.Context, taskID, stepID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != models.TaskStatusPaused {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: approve requires a paused task, not %s", ErrBadState, task.Status)
	}
	var approved *models.TaskStep
	var index int
	for i, step := range task.Steps {
		if step.ID == stepID {
			approved, index = step, i
			break
		}
	}
	if approved == nil {
		o.mu.Unlock()
		return nil, ErrStepNotFound
	}
	approved.RequiresApproval = false
	o.mu.Unlock()

	o.publisher.PublishStepStatus(events.EventTypeStepApproved, taskID, events.StepStatusPayload{
		StepID: stepID, StepIndex: index, Description: approved.Description, Status: string(approved.Status),
	})
	return o.Execute(ctx, taskID)
}

// Pause requests a running task to stop at the next step boundary.
func (o *Orchestrator) Pause(taskID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != models.TaskStatusRunning {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: pause requires a running task, not %s", ErrBadState, task.Status)
	}
	task.Status = models.TaskStatusPaused
	snapshot := task.Clone()
	o.mu.Unlock()

	o.publisher.PublishTaskStatus(events.EventTypeTaskPaused, taskID, events.TaskStatusPayload{Status: string(models.TaskStatusPaused)})
	return snapshot, nil
}

// Resume continues a paused task from its current step.
func (o *Orchestrator) Resume(ctx context.Context, taskID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if task.Status != models.TaskStatusPaused {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: resume requires a paused task, not %s", ErrBadState, task.Status)
	}
	o.mu.Unlock()

	o.publisher.PublishTaskStatus(events.EventTypeTaskResumed, taskID, events.TaskStatusPayload{Status: string(models.TaskStatusRunning)})
	return o.Execute(ctx, taskID)
}

// Cancel stops a task and marks every remaining pending step skipped. A
// running executor observes the transition at its next step boundary.
func (o *Orchestrator) Cancel(taskID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case models.TaskStatusCompleted, models.TaskStatusRolledBack, models.TaskStatusCancelled:
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot cancel a %s task", ErrBadState, task.Status)
	}
	task.Status = models.TaskStatusCancelled
	for _, step := range task.Steps {
		if step.Status == models.StepStatusPending {
			step.Status = models.StepStatusSkipped
		}
	}
	snapshot := task.Clone()
	o.mu.Unlock()

	o.publisher.PublishTaskStatus(events.EventTypeTaskCancelled, taskID, events.TaskStatusPayload{Status: string(models.TaskStatusCancelled)})
	return snapshot, nil
}

// Rollback walks completed steps in reverse, executing their rollback
// commands. A failing rollback step is recorded and the sweep continues;
// the task always ends rolled_back.
func (o *Orchestrator) Rollback(ctx context.Context, taskID string) (*models.Task, error) {
	o.mu.Lock()
	task, ok := o.tasks.Get(taskID)
	if !ok {
		o.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case models.TaskStatusRunning, models.TaskStatusRollingBack:
		o.mu.Unlock()
		return nil, ErrTaskBusy
	case models.TaskStatusPending:
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: nothing to roll back", ErrBadState)
	}
	task.Status = models.TaskStatusRollingBack
	o.mu.Unlock()

	conn, err := o.connection(ctx, task.ServerID)
	if err != nil {
		return o.failTask(task, fmt.Sprintf("server connection: %v", err)), nil
	}

	for i := len(task.Steps) - 1; i >= 0; i-- {
		o.mu.Lock()
		step := task.Steps[i]
		if step.Status != models.StepStatusCompleted || step.RollbackCommand == "" {
			o.mu.Unlock()
			continue
		}
		command, timeout, stepID, description := step.RollbackCommand, step.Timeout, step.ID, step.Description
		o.mu.Unlock()

		o.publisher.PublishStepStatus(events.EventTypeStepRollingBack, taskID, events.StepStatusPayload{
			StepID: stepID, StepIndex: i, Description: description, Status: string(models.StepStatusRunning),
		})

		result, err := o.runner.Run(ctx, conn, command, timeout)

		o.mu.Lock()
		if err != nil || result.ExitCode != 0 {
			var reason string
			if err != nil {
				reason = err.Error()
			} else {
				reason = fmt.Sprintf("rollback exited with code %d", result.ExitCode)
			}
			step.Status = models.StepStatusRollbackFailed
			step.Error = reason
			o.mu.Unlock()
			o.publisher.PublishStepStatus(events.EventTypeStepRollbackFailed, taskID, events.StepStatusPayload{
				StepID: stepID, StepIndex: i, Description: description,
				Status: string(models.StepStatusRollbackFailed), Error: reason,
			})
			continue
		}
		step.Status = models.StepStatusRolledBack
		step.Output = result.CombinedOutput()
		o.mu.Unlock()
		o.publisher.PublishStepStatus(events.EventTypeStepRolledBack, taskID, events.StepStatusPayload{
			StepID: stepID, StepIndex: i, Description: description, Status: string(models.StepStatusRolledBack),
		})
	}

	o.mu.Lock()
	task.Status = models.TaskStatusRolledBack
	snapshot := task.Clone()
	o.mu.Unlock()
	o.publisher.PublishTaskStatus(events.EventTypeTaskRolledBack, taskID, events.TaskStatusPayload{Status: string(models.TaskStatusRolledBack)})
	return snapshot, nil
}

func (o *Orchestrator) failTask(task *models.Task, reason string) *models.Task {
	o.logger.Warn("task failed before execution", slog.String("task_id", task.ID), slog.String("reason", reason))
	o.mu.Lock()
	task.Status = models.TaskStatusFailed
	task.Error = reason
	snapshot := task.Clone()
	o.mu.Unlock()
	o.publisher.PublishTaskStatus(events.EventTypeTaskFailed, task.ID, events.TaskStatusPayload{
		Status: string(models.TaskStatusFailed), Error: reason,
	})
	return snapshot
}

func (o *Orchestrator) connection(ctx context.Context, serverID string) (sshexec.ServerConnection, error) {
	server, err := o.store.GetServer(ctx, serverID)
	if err != nil {
		return sshexec.ServerConnection{}, err
	}
	credential, err := o.serverVault.DecryptGCM(server.EncryptedCredential)
	if err != nil {
		return sshexec.ServerConnection{}, fmt.Errorf("open server credential: %w", err)
	}
	conn := sshexec.ServerConnection{Host: server.Host, Port: server.Port, Username: server.Username}
	if server.AuthMethod == models.AuthMethodKey {
		conn.PrivateKey = credential
	} else {
		conn.Password = credential
	}
	return conn, nil
}
