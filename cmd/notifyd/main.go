package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fok-catalog/go-backend/internal/composition/notifyd"
	"fok-catalog/go-backend/internal/platform/config"
	"fok-catalog/go-backend/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("notifyd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("notifyd failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("notifyd config invalid: %v", err)
	}
	if cfg.Bot.Token == "" {
		log.Fatalf("notifyd config invalid: bot token is required")
	}

	logger := privacylog.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := notifyd.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("notifyd failed to initialize: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()

	logger.Info("notifyd starting", "version", version)
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("notifyd failed: %v", err)
	}
	logger.Info("notifyd stopped")
}
