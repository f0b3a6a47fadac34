package api

import (
	"context"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
)

// approveHandler handles POST /api/agent/approve: the resumption path for a
// command the danger gate held back. Rejections never touch the server, so
// the credential is only opened when approved is true.
func (s *Server) approveHandler(c *echo.Context) error {
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ServerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "serverId is required")
	}
	if req.PendingCommand == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pendingCommand is required")
	}
	if req.Approved && req.Mac == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mac is required to approve a command")
	}

	tc := dispatch.Context{UserID: extractUserID(c), ServerID: req.ServerID}
	if req.Approved {
		conn, err := s.connection(c.Request().Context(), req.ServerID)
		if err != nil {
			return mapError(err)
		}
		tc.Conn = conn
	}

	result := s.dispatcher.Approve(c.Request().Context(), tc, req.PendingCommand, req.Mac, req.Approved)

	resp := &ApproveResponse{
		Success: result.Success,
		Output:  result.Output,
		Error:   result.Error,
	}
	if code, ok := result.Metadata["exit_code"].(int); ok {
		resp.ExitCode = &code
	}
	return c.JSON(http.StatusOK, resp)
}

// connection resolves a server row into a dialable SSH connection.
func (s *Server) connection(ctx context.Context, serverID string) (sshexec.ServerConnection, error) {
	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		return sshexec.ServerConnection{}, err
	}
	credential, err := s.serverVault.DecryptGCM(server.EncryptedCredential)
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
