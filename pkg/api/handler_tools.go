package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listToolsHandler handles GET /api/agent/tools. Schemas stay internal; the
// listing carries what a client needs to render the capability palette.
func (s *Server) listToolsHandler(c *echo.Context) error {
	defs := s.catalog.Definitions()
	summaries := make([]ToolSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, ToolSummary{Name: def.Name, Description: def.Description})
	}
	return c.JSON(http.StatusOK, &ToolsResponse{
		Tools:      summaries,
		Categories: s.catalog.Categories(),
	})
}
