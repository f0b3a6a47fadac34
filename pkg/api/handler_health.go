package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// pinger is implemented by stores backed by a live connection; the in-memory
// store is not, and counts as healthy.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler handles GET /healthz. Only opsforge's own components are
// checked; managed servers and the LLM provider are deliberately excluded so
// an external outage cannot get this process restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["store"] = HealthCheck{Status: healthStatusHealthy}
		}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy, Message: "in-memory"}
	}

	if s.relay != nil {
		checks["terminal"] = HealthCheck{
			Status:  healthStatusHealthy,
			Message: fmt.Sprintf("%d active sessions", s.relay.SessionCount()),
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Short(),
		Checks:  checks,
	})
}
