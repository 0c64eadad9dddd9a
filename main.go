package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"watchparty-sync-server/api"
	"watchparty-sync-server/config"
	"watchparty-sync-server/hub"
	"watchparty-sync-server/metrics"
	"watchparty-sync-server/protocol"
	ws "watchparty-sync-server/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(os.Stdout, cfg.Log)

	var hubOpts []hub.Option
	if cfg.Rooms.ReapEmpty {
		hubOpts = append(hubOpts, hub.WithReaping(cfg.Rooms.ReapGrace))
	}
	rooms := hub.New(hubOpts...)
	handler := protocol.NewHandler(rooms, protocol.WithChatIncludeSender(cfg.Rooms.ChatIncludeSender))

	if err := metrics.RegisterRooms(prometheus.DefaultRegisterer, rooms.Stats); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	router := api.NewRouter(rooms, handler, api.Options{
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		RedirectURL:    cfg.Join.RedirectURL,
		RoomIDLength:   cfg.Rooms.IDLength,
		WebSocket: ws.Config{
			WriteWait:      cfg.WebSocket.WriteWait,
			PongWait:       cfg.WebSocket.PongWait,
			MaxMessageSize: cfg.WebSocket.MaxMessageSize,
			SendQueue:      cfg.WebSocket.SendQueue,
		},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Rooms.ReapEmpty {
		g.Go(func() error {
			rooms.Run(ctx, cfg.Rooms.ReapInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(w io.Writer, cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}
