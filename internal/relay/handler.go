package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"online-cinema-support/backend/pkg/config"
)

func newUpgrader() websocket.Upgrader {
	allowed := config.Get().Security.AllowedOrigins
	return websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWs upgrades the request and hands the connection to the hub. No
// identity is required at upgrade time; the client announces itself with
// a user_joined envelope once the channel is open.
func ServeWs(hub *Hub, c *gin.Context) {
	upgrader := newUpgrader()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogError(err, "websocket upgrade failed", "remote", c.Request.RemoteAddr)
		return
	}

	conn := newConn(hub, ws)
	hub.register <- conn

	go conn.writePump()
	go conn.readPump()
}
