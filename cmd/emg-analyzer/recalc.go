package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/cache"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence/postgres"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
)

func recalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc <session-id>",
		Short: "Recalculate a session's analytics under new thresholds",
		Long:  "Re-derives compliance counters and scores from stored per-contraction measurements without reprocessing the source file.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalc,
	}
	cmd.Flags().Float64("mvc-threshold", 0, "Global MVC threshold percentage")
	cmd.Flags().Float64("global-mvc", 0, "Global MVC reference value")
	cmd.Flags().Float64("duration-threshold", 0, "Duration compliance threshold in ms")
	cmd.Flags().Int("expected", 0, "Expected contractions per muscle")
	return cmd
}

func runRecalc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := args[0]

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

	var analyticsCache *cache.AnalyticsCache
	if cfg.Redis.Addr != "" {
		if analyticsCache, err = cache.New(cfg.Redis, log.Logger); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, stale cache entry may linger")
			analyticsCache = nil
		} else {
			defer analyticsCache.Close()
		}
	}

	orch := session.New(manager.Repository(), nil, analyticsCache,
		pipeline.NewProcessor(pipeline.Options{}), nil, log.Logger)

	sp := sessionParamsFromFlags(cmd.Flags())
	updated, err := orch.RecalculateFromExisting(ctx, sessionID, sp)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(updated, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
