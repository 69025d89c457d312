package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittodrive/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the purge scheduler, thumbnail worker and metrics server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				logger.Error("Failed to close stores: %v", err)
			}
		}()

		logger.Info("DittoDrive is running. Press Ctrl+C to stop.")
		if err := rt.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("Server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
