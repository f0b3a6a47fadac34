package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/stream"
)

// executeTaskHandler handles POST /api/agent/tasks/:id/execute. The response
// is an SSE stream of the task's bus events, terminated by {done:true, task}
// or {error}.
func (s *Server) executeTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if _, err := s.orchestrator.Get(taskID); err != nil {
		return mapError(err)
	}
	return s.streamTask(c, taskID, func(ctx context.Context) (*models.Task, error) {
		return s.orchestrator.Execute(ctx, taskID)
	})
}

// rollbackTaskHandler handles POST /api/agent/tasks/:id/rollback, streaming
// the reverse walk the same way execute streams the forward one.
func (s *Server) rollbackTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if _, err := s.orchestrator.Get(taskID); err != nil {
		return mapError(err)
	}
	return s.streamTask(c, taskID, func(ctx context.Context) (*models.Task, error) {
		return s.orchestrator.Rollback(ctx, taskID)
	})
}

// streamTask subscribes to the task's event channel, runs op in the
// background, and forwards events as SSE frames until op returns. op gets a
// context detached from the client connection: closing the browser tab stops
// the relaying, not the running task. State conflicts detected by op (busy,
// not pausable) arrive after headers are sent and therefore travel as an
// {error} frame rather than an HTTP status.
func (s *Server) streamTask(c *echo.Context, taskID string, op func(context.Context) (*models.Task, error)) error {
	sse, err := stream.NewSSEWriter(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer sse.End()

	// Subscribe before starting op so no event is missed.
	evCh, unsubscribe := s.bus.Subscribe(events.TaskChannel(taskID))
	defer unsubscribe()

	type outcome struct {
		task *models.Task
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		task, opErr := op(context.WithoutCancel(c.Request().Context()))
		done <- outcome{task: task, err: opErr}
	}()

	ctx := c.Request().Context()
	for {
		select {
		case ev := <-evCh:
			if err := sse.Emit(ev); err != nil {
				return nil // client gone; op keeps running detached
			}

		case out := <-done:
			// Every event for this run was published before op returned;
			// drain what is still buffered, then terminate the stream.
			for drained := false; !drained; {
				select {
				case ev := <-evCh:
					_ = sse.Emit(ev)
				default:
					drained = true
				}
			}
			if out.err != nil {
				_ = sse.Emit(taskStreamEnd{Error: out.err.Error()})
			} else {
				_ = sse.Emit(taskStreamEnd{Done: true, Task: out.task})
			}
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}
