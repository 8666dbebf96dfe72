package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/kadali/pkg/api/server"
	"github.com/rzbill/kadali/pkg/log"
	"github.com/rzbill/kadali/pkg/metrics"
	"github.com/rzbill/kadali/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator API and the idle reaper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// serve runs until ctx is cancelled, then stops the reaper, drains the HTTP
// server and closes the store in that order.
func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	logger.Info("Starting Kadali server",
		log.Str("version", version.Version),
		log.Str("store", cfg.Store.Backend),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	c, err := build(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.Reaper.Enabled {
		if err := c.reaper.Start(ctx); err != nil {
			return err
		}
		defer c.reaper.Stop()
	} else {
		logger.Warn("Idle reaper disabled; idle clusters will not be terminated")
	}

	opts := []server.Option{
		server.WithHTTPAddr(cfg.Server.HTTPAddr),
		server.WithAPIKeys(cfg.Server.APIKeys),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithClusters(c.manager),
		server.WithLogger(logger),
	}
	if cfg.Server.TLS.Enabled {
		opts = append(opts, server.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	if m != nil {
		opts = append(opts, server.WithMetrics(cfg.Metrics.Path, m.Handler()))
	}
	if len(cfg.Server.APIKeys) == 0 {
		logger.Warn("Authentication disabled")
	}

	apiServer, err := server.New(opts...)
	if err != nil {
		return err
	}
	if err := apiServer.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	// No new sweeps once shutdown begins; a running one completes first.
	c.reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop API server", log.Err(err))
	}

	logger.Info("Kadali server stopped")
	return nil
}
