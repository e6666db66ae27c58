package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/docingest/internal/common"
	"github.com/joseph-ayodele/docingest/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := common.LoadConfig()
	app, err := server.NewApp(ctx, cfg, server.Options{WithPipeline: true}, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	d, err := server.NewDaemon(app, logger)
	if err != nil {
		logger.Error("daemon init failed", "error", err)
		os.Exit(1)
	}
	logger.Info("daemon.start", "grpc_addr", d.GRPCAddr(), "metrics_addr", d.MetricsAddr(), "watch_dir", cfg.Server.WatchDir)

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("daemon.stopped")
}
