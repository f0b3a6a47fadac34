package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/orchestrator"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/vault"
)

// mapError maps domain errors to HTTP error responses. SSH failures never
// arrive here: they are tool results or task step results, not HTTP errors.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, orchestrator.ErrStepNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")

	case errors.Is(err, orchestrator.ErrTaskBusy):
		return echo.NewHTTPError(http.StatusConflict, "task is already executing")

	case errors.Is(err, orchestrator.ErrBadState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, store.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")

	case errors.Is(err, vault.ErrInvalidFormat), errors.Is(err, vault.ErrAuthFail):
		// Never leak crypto detail; the operator reads the log.
		slog.Error("Credential decrypt failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "credential decryption failed")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
