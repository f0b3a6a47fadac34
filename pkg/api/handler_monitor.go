package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// monitorHandler handles GET /api/agent/monitor/:serverId. An unreachable
// host is still a 200: the report carries a connectivity alert instead.
func (s *Server) monitorHandler(c *echo.Context) error {
	serverID := c.Param("serverId")
	if serverID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "server id is required")
	}

	report, err := s.monitor.Snapshot(c.Request().Context(), serverID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}
