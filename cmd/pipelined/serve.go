package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vladislavfirsov/content-pipeline/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Example: `  pipelined serve --addr :8080
  pipelined serve --config pipeline.yaml --set store.backend=sql`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.address)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Address = serveAddr
	}

	rt, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	server := api.NewServer(rt.svc, cfg.Server, rt.logger.Named("api"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		rt.logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			rt.logger.Warn("shutdown", zap.Error(err))
		}
		if err := rt.close(ctx); err != nil {
			rt.logger.Warn("closing runtime", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		return err
	}
	<-done
	rt.logger.Info("server stopped")
	return nil
}
