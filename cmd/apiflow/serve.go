package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsneelabh/apiflow/server"
)

var (
	servePort    int
	serveVerbose bool
	serveSync    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the apiflow HTTP API.

Endpoints:
  POST /process-request   run a natural-language request
  GET  /list-endpoints    list the endpoint catalog
  POST /update-endpoints  reload the catalog from the Swagger document
  GET  /history/{id}      fetch one execution record
  GET  /health            liveness probe

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		logger := newLogger(cfg, false)
		defer func() { _ = logger.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		comps, err := newComponents(ctx, cfg, logger, buildOptions{withPlanner: true, withEmbedder: true})
		if err != nil {
			return fmt.Errorf("startup failed: %w", err)
		}
		defer comps.Close(context.Background())

		if serveSync && cfg.Catalog.SwaggerURL != "" {
			count, err := comps.catalog.Sync(ctx, cfg.Catalog.SwaggerURL)
			if err != nil {
				// the catalog can still be loaded later through /update-endpoints
				logger.Warn("Initial endpoint sync failed", map[string]interface{}{
					"operation":   "serve",
					"swagger_url": cfg.Catalog.SwaggerURL,
					"error":       err.Error(),
				})
			} else {
				logger.Info("Endpoint catalog loaded", map[string]interface{}{
					"operation": "serve",
					"count":     count,
				})
			}
		}

		opts := []server.Option{
			server.WithConfig(cfg.Server),
			server.WithSwaggerURL(cfg.Catalog.SwaggerURL),
			server.WithHistory(comps.history),
			server.WithVerboseLogging(serveVerbose),
		}
		if cfg.Telemetry.Enabled {
			opts = append(opts, server.WithTracing(cfg.Telemetry.ServiceName))
		}
		if cfg.Server.RateLimitPerMinute > 0 {
			if comps.redis == nil {
				logger.Warn("Rate limiting needs Redis and is disabled", map[string]interface{}{
					"operation": "serve",
				})
			} else {
				limiter := server.NewRedisRateLimiter(comps.redis, cfg.Server.RateLimitPerMinute)
				limiter.SetLogger(logger)
				limiter.SetTelemetry(comps.telemetry)
				opts = append(opts, server.WithRateLimiter(limiter))
			}
		}
		srv := server.New(comps.orchestrator, comps.catalog, opts...)
		srv.SetLogger(logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Info("Shutdown signal received", map[string]interface{}{
			"operation": "serve",
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return <-errCh
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "listen port, overrides the config file")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "log every request")
	serveCmd.Flags().BoolVar(&serveSync, "sync", true, "load the catalog from catalog.swagger_url at startup")
}
