package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/cache"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	httpiface "github.com/ggustin93/emg-c3d-analyzer-sub000/internal/interfaces/http"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence/postgres"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/storage"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis service",
		Long:  "Starts the webhook ingest, worker pool, query API, and websocket status stream.",
		RunE:  runServe,
	}
	cmd.Flags().Bool("migrate", true, "Apply the database schema at startup")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	manager, err := postgres.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database setup failed: %w", err)
	}
	defer manager.Close()

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := postgres.Migrate(ctx, manager.DB()); err != nil {
			return err
		}
		log.Info().Msg("schema applied")
	}

	store, err := buildStore(cfg.Storage)
	if err != nil {
		return err
	}

	var analyticsCache *cache.AnalyticsCache
	if cfg.Redis.Addr != "" {
		analyticsCache, err = cache.New(cfg.Redis, log.Logger)
		if err != nil {
			// The cache is an accelerator, not a dependency.
			log.Warn().Err(err).Msg("redis unavailable, running store-only")
		} else {
			defer analyticsCache.Close()
		}
	}

	processor := pipeline.NewProcessor(pipeline.Options{})
	hub := session.NewHub()
	orch := session.New(manager.Repository(), store, analyticsCache, processor, hub, log.Logger)

	pool := session.NewPool(orch, cfg.Workers, log.Logger)
	pool.Start(ctx)
	defer pool.Stop()

	metrics := httpiface.NewMetricsRegistry()
	handlers := httpiface.NewHandlers(orch, pool, manager.Repository(), manager.Health(),
		analyticsCache, hub, processor, metrics, cfg.Ingest, log.Logger)
	server := httpiface.NewServer(cfg.HTTP, cfg.Ingest, handlers, log.Logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Backend {
	case "fs":
		return storage.NewFSStore(cfg.Root)
	case "http":
		return storage.NewHTTPStore(cfg.BaseURL, cfg.RequestTimeout, log.Logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
