package signalling

import (
	"log/slog"
	"time"

	"github.com/Anif7/mediasoup2/internal/config"
	"github.com/Anif7/mediasoup2/internal/domain"
	"github.com/Anif7/mediasoup2/internal/repository/memory"
	"github.com/Anif7/mediasoup2/internal/service"
	"github.com/Anif7/mediasoup2/internal/utils"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the signaling stack together and mounts it on a Fiber app.
//
// Endpoints:
//   - GET /ws/rooms: the signaling websocket
//   - GET /api/status: room and peer counts as JSON
//   - GET /metrics: Prometheus metrics
type Server struct {
	app          *fiber.App
	config       *config.AppConfig
	peers        domain.PeerRegistry
	rooms        domain.RoomRegistry
	engine       domain.MediaEngine
	sessions     *SessionHandler
	handler      *PeerHandler
	statusLogger utils.IntervalTimer
}

func NewServer(cfg *config.AppConfig, app *fiber.App, engine domain.MediaEngine) *Server {
	peers := memory.NewPeerRegistry()
	rooms := memory.NewRoomRegistry()
	notifier := NewNotifier(peers)
	logger := slog.Default()

	subscriptions := service.NewSubscriptionService(engine, peers, rooms, notifier, logger)
	lifecycle := service.NewLifecycleService(engine, peers, rooms, notifier, logger)
	sessions := NewSessionHandler()

	server := &Server{
		app:      app,
		config:   cfg,
		peers:    peers,
		rooms:    rooms,
		engine:   engine,
		sessions: sessions,
		handler:  NewPeerHandler(cfg, subscriptions, lifecycle, sessions, peers),
	}

	statusInterval := time.Duration(cfg.Server.StatusLogInterval) * time.Second
	server.statusLogger = utils.SetIntervalTimer(statusInterval, server.logStatus)

	return server
}

func (s *Server) SetupRoutes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/rooms", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in /ws/rooms", "error", err)
			}
		}()

		s.handler.HandleSocket(c)
	}))

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Get("/api/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"peers": s.peers.Count(),
			"rooms": s.rooms.Count(),
		})
	})
}

// Close shuts the server down: stops the status logger, drops all live
// connections and closes the media engine. Safe to call more than once.
func (s *Server) Close() {
	s.statusLogger.Stop()
	s.sessions.Close()
	s.engine.Close()
}

func (s *Server) logStatus() {
	slog.Info("signaling status", "peers", s.peers.Count(), "rooms", s.rooms.Count())
}
