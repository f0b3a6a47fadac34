package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/orchestrator"
)

// planTaskHandler handles POST /api/agent/tasks/plan. Planning never fails
// hard: the planner falls back to an explanatory single-step plan when the
// model misbehaves, so the only error paths here are validation and lookups.
func (s *Server) planTaskHandler(c *echo.Context) error {
	if s.planner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "task planning is not configured")
	}

	var req PlanTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request is required")
	}

	var server *models.Server
	if req.ServerID != "" {
		var err error
		server, err = s.store.GetServer(c.Request().Context(), req.ServerID)
		if err != nil {
			return mapError(err)
		}
	}

	plan := orchestrator.Plan(c.Request().Context(), s.planner, s.planModel, req.Request, server)
	return c.JSON(http.StatusOK, &PlanResponse{Plan: plan})
}

// createTaskHandler handles POST /api/agent/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ServerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "serverId is required")
	}
	if req.Plan == nil || len(req.Plan.Steps) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "plan with at least one step is required")
	}

	// Fail the create, not the later execute, when the server is unknown.
	if _, err := s.store.GetServer(c.Request().Context(), req.ServerID); err != nil {
		return mapError(err)
	}

	task := s.orchestrator.Create(extractUserID(c), req.ServerID, req.Plan)
	return c.JSON(http.StatusCreated, &TaskResponse{Task: task})
}

// listTasksHandler handles GET /api/agent/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	tasks := s.orchestrator.List(extractUserID(c))
	return c.JSON(http.StatusOK, &TasksResponse{Tasks: tasks})
}

// getTaskHandler handles GET /api/agent/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	task, err := s.orchestrator.Get(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}

// approveStepHandler handles POST /api/agent/tasks/:id/steps/:sid/approve.
// The call resumes execution and blocks until the task next pauses or ends;
// the response is the snapshot at that point.
func (s *Server) approveStepHandler(c *echo.Context) error {
	task, err := s.orchestrator.ApproveStep(c.Request().Context(), c.Param("id"), c.Param("sid"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}

// pauseTaskHandler handles POST /api/agent/tasks/:id/pause.
func (s *Server) pauseTaskHandler(c *echo.Context) error {
	task, err := s.orchestrator.Pause(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}

// resumeTaskHandler handles POST /api/agent/tasks/:id/resume. Blocks like
// approveStepHandler: resumption re-enters the step machine.
func (s *Server) resumeTaskHandler(c *echo.Context) error {
	task, err := s.orchestrator.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}

// cancelTaskHandler handles POST /api/agent/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	task, err := s.orchestrator.Cancel(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, &TaskResponse{Task: task})
}
