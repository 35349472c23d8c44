package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// StreamEvents handles GET /ws: upgrades to a WebSocket and hands the
// connection to the event stream manager. Clients subscribe to the global
// sessions channel or to per-session channels and receive status and
// progress events as they happen.
func (s *Server) StreamEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// The dashboard may be served from another origin in development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade failed"})
		return
	}

	// Blocks until the client disconnects.
	s.stream.HandleConnection(c.Request.Context(), conn)
	conn.Close(websocket.StatusNormalClosure, "")
}
