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

	"fok-catalog/go-backend/internal/composition/botd"
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
	httpAddr := flag.String("http-addr", "", "HTTP listen address (overrides config)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("botd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("botd failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("botd config invalid: %v", err)
	}
	if err := cfg.Bot.Validate(); err != nil {
		log.Fatalf("botd config invalid: %v", err)
	}
	addr := cfg.HTTPAddr
	if *httpAddr != "" {
		addr = *httpAddr
	}

	logger := privacylog.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := botd.Build(ctx, cfg, addr, version, logger)
	if err != nil {
		log.Fatalf("botd failed to initialize: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(closeCtx)
	}()

	logger.Info("botd starting", "version", version, "addr", addr)
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("botd failed: %v", err)
	}
	logger.Info("botd stopped")
}
