package signalling

import (
	"log/slog"

	"github.com/Anif7/mediasoup2/internal/metrics"
	"github.com/Anif7/mediasoup2/internal/sockets"
	"github.com/gofiber/contrib/websocket"
)

// Session is a registered websocket connection. Cleanup must run exactly once
// when the connection ends; it closes the socket and settles the connection
// metrics.
type Session struct {
	Socket   sockets.Socket
	SocketID sockets.SocketID
	Cleanup  func()
}

// SessionHandler tracks live websocket connections in a socket pool and keeps
// the connection gauges honest.
type SessionHandler struct {
	pool *sockets.SocketPool
}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{pool: sockets.NewSocketPool()}
}

func (h *SessionHandler) Register(conn *websocket.Conn) *Session {
	socketID := sockets.SocketID(conn.NetConn().RemoteAddr().String())
	socket := h.pool.AddSocket(socketID, conn)

	metrics.ActiveWebSocketConnections.Inc()
	metrics.WebSocketConnectionsTotal.Inc()
	slog.Debug("signaling session started", "socketID", socketID)

	return &Session{
		Socket:   socket,
		SocketID: socketID,
		Cleanup: func() {
			h.pool.CloseSocket(socketID)
			metrics.ActiveWebSocketConnections.Dec()
			metrics.WebSocketDisconnectionsTotal.Inc()
			slog.Debug("signaling session ended", "socketID", socketID)
		},
	}
}

func (h *SessionHandler) Close() {
	h.pool.Close()
}
