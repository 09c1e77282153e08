package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"relay/internal/config"
	"relay/internal/relaylog"
	"relay/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dev := flag.Bool("dev", false, "use the development config overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath, *dev)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := relaylog.InitLogger(relaylog.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.OutputPath,
		Development: *dev,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", relaylog.Err(err))
		os.Exit(1)
	}

	if err := sup.Run(ctx); err != nil {
		logger.Error("relay exited with error", relaylog.Err(err))
		os.Exit(1)
	}

	logger.Info("relay exited cleanly")
}
