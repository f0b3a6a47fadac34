package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractUserID resolves the calling user from proxy headers. Session
// authentication terminates upstream; the proxy forwards the identity.
// Priority: X-User-ID > X-Forwarded-User > "default" (single-user install).
func extractUserID(c *echo.Context) string {
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return "default"
}
