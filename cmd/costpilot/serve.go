package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/costpilot-ai/costpilot/pkg/audit"
	"github.com/costpilot-ai/costpilot/pkg/gateway"
	"github.com/costpilot-ai/costpilot/pkg/logging"
	"github.com/costpilot-ai/costpilot/pkg/metrics"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cost router gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			store, err := buildStore(cfg)
			if err != nil {
				return fmt.Errorf("init cache: %w", err)
			}
			defer func() { _ = store.Close() }()

			m := metrics.New()

			processor, local, err := buildProcessor(cfg, store, m, logger)
			if err != nil {
				return err
			}

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit trail: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			srv := gateway.New(cfg, processor, auditor, m, logger)
			srv.AddHealthCheck("local_backend", local.Ping)
			if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
				srv.AddHealthCheck("cache", pinger.Ping)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting costpilot gateway",
				zap.String("config", configPath),
				zap.String("cache_backend", cfg.Cache.Backend))
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}
