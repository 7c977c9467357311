package signalling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Anif7/mediasoup2/internal/api"
	"github.com/Anif7/mediasoup2/internal/sockets"
)

// ConnectionLoop owns the outbound half of a signaling connection: a buffered
// message channel drained by a writer goroutine, plus a ping ticker. It is the
// Sender handed to the peer registry, so every cross-goroutine notification
// funnels through the same serialized writer.
type ConnectionLoop struct {
	socket     sockets.Socket
	socketID   sockets.SocketID
	messages   chan any
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pingTicker *time.Ticker
}

func NewConnectionLoop(socket sockets.Socket, socketID sockets.SocketID, pingInterval time.Duration) *ConnectionLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionLoop{
		socket:     socket,
		socketID:   socketID,
		messages:   make(chan any, 16),
		ctx:        ctx,
		cancel:     cancel,
		pingTicker: time.NewTicker(pingInterval),
	}
}

func (l *ConnectionLoop) Start() {
	l.wg.Add(2)
	go l.messageWriterLoop()
	go l.pingLoop()
}

func (l *ConnectionLoop) Stop() {
	l.cancel()
	l.pingTicker.Stop()
	l.wg.Wait()
}

// Send queues a message for the writer goroutine. It drops the message if the
// loop has been stopped, so late notifications for a disconnected peer are
// harmless.
func (l *ConnectionLoop) Send(v any) {
	select {
	case l.messages <- v:
	case <-l.ctx.Done():
	}
}

func (l *ConnectionLoop) messageWriterLoop() {
	defer l.wg.Done()

	for {
		select {
		case msg := <-l.messages:
			if err := l.socket.WriteJSON(msg); err != nil {
				slog.Error("failed to send message to peer", "socketID", l.socketID, "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *ConnectionLoop) pingLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.pingTicker.C:
			ping := api.NewMessage(api.MessageTypePing, api.PingPayload{Timestamp: time.Now().Unix()})
			if err := l.socket.WriteJSON(ping); err != nil {
				slog.Error("failed to send ping", "socketID", l.socketID, "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
