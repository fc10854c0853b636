package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/NarrativeForge/internal/config"
	"github.com/AaronLay10/NarrativeForge/internal/logging"
	"github.com/AaronLay10/NarrativeForge/internal/service"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadForgeConfig(configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return service.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "forge.yaml path (environment only when empty)")
	return cmd
}
