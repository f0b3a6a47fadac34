package api

import (
	"context"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// terminalHandler upgrades GET /ws/terminal to a WebSocket and hands the
// connection to the relay, which blocks until the client disconnects.
func (s *Server) terminalHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Same-origin enforcement happens at the ingress; the relay itself
		// accepts any origin so local dev tooling can connect.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	s.relay.Handle(c.Request().Context(), &wsConn{conn: conn})

	return conn.Close(websocket.StatusNormalClosure, "")
}

// wsConn adapts a websocket connection to the relay's Conn surface. Frames
// are JSON, so text messages on both directions.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}
