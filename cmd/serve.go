package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexschratzi/Suni/internal/config"
	"github.com/alexschratzi/Suni/internal/observability"
)

// newServeCmd creates the command that runs the relay service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and catalog HTTP service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Get()
	logger := observability.GetLogger()
	defer observability.Sync()

	// The component context outlives ctx so in flight attempts can finish
	// draining during shutdown.
	componentCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := buildComponents(componentCtx, cfg, logger)
	components.Pool.Start(componentCtx)

	err := components.Server.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	components.Shutdown(shutdownCtx, logger)

	if err != nil {
		logger.Error("server terminated with error", zap.Error(err))
		return err
	}
	logger.Info("suni-relay stopped")
	return nil
}
