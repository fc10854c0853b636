package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AaronLay10/NarrativeForge/internal/config"
	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/service"
)

// configPath is FORGE_CONFIG, or forge.yaml when present.
func configPath() string {
	if p := os.Getenv("FORGE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("forge.yaml"); err == nil {
		return "forge.yaml"
	}
	return ""
}

func main() {
	cfg, err := config.LoadForgeConfig(configPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx, cfg); err != nil {
		slog.Error("api server failed", "error", err)
		os.Exit(1)
	}
}
