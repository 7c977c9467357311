package main

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Anif7/mediasoup2/internal/config"
	"github.com/Anif7/mediasoup2/internal/media"
	"github.com/Anif7/mediasoup2/internal/metrics"
	"github.com/Anif7/mediasoup2/internal/signalling"
	"github.com/gofiber/fiber/v2"
	"github.com/lmittmann/tint"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		TimeFormat: time.Kitchen,
	})))

	confDir := flag.String("conf", "conf", "directory with configuration files")
	flag.Parse()

	manager, err := config.NewManager(*confDir)
	if err != nil {
		slog.Error("failed to load configuration", "dir", *confDir, "error", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	// Reloaded values apply to connections opened after the reload.
	manager.SetUpdateCallback(func(updated *config.AppConfig) {
		slog.Info("configuration updated",
			"port", updated.Server.Port,
			"pingInterval", updated.Server.PingInterval,
			"statusLogInterval", updated.Server.StatusLogInterval)
	})

	engine := media.NewLocalEngine(&cfg.Media)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	server := signalling.NewServer(&cfg, app, engine)
	defer server.Close()
	server.SetupRoutes()

	go func() {
		if err, ok := <-engine.Fatal(); ok && err != nil {
			slog.Error("media engine failed, shutting down", "error", err)
			os.Exit(1)
		}
	}()

	metrics.StartTime.SetToCurrentTime()
	addr := ":" + strconv.Itoa(cfg.Server.Port)

	if cfg.Security.TLSCrtFile != nil && cfg.Security.TLSKeyFile != nil {
		slog.Info("starting TLS signaling server", "addr", addr)
		err = app.ListenTLS(addr, *cfg.Security.TLSCrtFile, *cfg.Security.TLSKeyFile)
	} else {
		slog.Info("starting signaling server", "addr", addr)
		err = app.Listen(addr)
	}
	if err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
