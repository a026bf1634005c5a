package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readLimit   = 4096
	readTimeout = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request to a WebSocket session and registers it with
// the registry. It blocks reading control frames until the peer goes away.
// Clients are expected to send ping frames within the read timeout; the
// registry's writer goroutine is the only writer on the connection.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request, userID, orgID string) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	connectionID, err := r.Connect(conn, userID, orgID)
	if err != nil {
		conn.Close()
		return
	}
	r.readPump(conn, connectionID)
}

// readPump feeds inbound control frames into HandleInbound until the
// connection drops.
func (r *Registry) readPump(conn *websocket.Conn, connectionID string) {
	defer r.Disconnect(connectionID)

	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		r.HandleInbound(connectionID, raw)
	}
}
