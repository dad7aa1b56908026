package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"GatewayHMA/internal/api"
	"GatewayHMA/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long:  `Starts the HTTP API with POST /api/v1/cycles, GET /healthz and GET /metrics.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if addr := cfg.Server.MetricsAddress; addr != "" {
		go func() {
			if err := a.metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, a.orch,
		api.WithMetrics(a.metrics),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		api.WithAPITokens(cfg.Server.APITokens...),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
