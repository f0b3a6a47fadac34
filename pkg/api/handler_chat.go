package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/agentloop"
	"github.com/opsforge/opsforge/pkg/stream"
)

// maxChatContentLength caps one user turn. The loop's token budget handles
// conversation growth; this guards a single oversized body.
const maxChatContentLength = 100_000

// chatHandler handles POST /api/agent/chat. Validation failures return HTTP
// errors; once the SSE stream is open every failure travels as an error
// frame, and the loop guarantees a terminating frame.
func (s *Server) chatHandler(c *echo.Context) error {
	var req agentloop.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if len(req.Content) > maxChatContentLength {
		return echo.NewHTTPError(http.StatusBadRequest, "content exceeds maximum length of 100,000 characters")
	}
	if req.ServerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "serverId is required")
	}

	// Identity comes from the session, never from the body.
	req.UserID = extractUserID(c)

	sse, err := stream.NewSSEWriter(c.Response())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := s.loop.Run(c.Request().Context(), req, sse); err != nil {
		// Already emitted as an error frame; the stream is the response.
		s.logger.Warn("Chat turn failed", "user_id", req.UserID, "error", err)
	}
	return nil
}
