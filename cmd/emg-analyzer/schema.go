package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence/postgres"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
)

func schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply the database schema",
		Long:  "Creates or updates the artifact-store tables and seeds the default scoring configuration.",
		RunE:  runSchema,
	}
	cmd.Flags().Bool("seed", true, "Seed the default scoring configuration")
	cmd.Flags().Bool("print", false, "Print the DDL instead of applying it")
	return cmd
}

func runSchema(cmd *cobra.Command, _ []string) error {
	if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
		fmt.Fprint(cmd.OutOrStdout(), postgres.Schema)
		return nil
	}

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

	if err := postgres.Migrate(ctx, manager.DB()); err != nil {
		return err
	}
	log.Info().Msg("schema applied")

	if seed, _ := cmd.Flags().GetBool("seed"); seed {
		row, err := manager.Repository().Configs.EnsureSeed(ctx, session.SeedConfigRow())
		if err != nil {
			return fmt.Errorf("failed to seed scoring configuration: %w", err)
		}
		log.Info().Str("config_id", row.ID).Str("name", row.Name).
			Int("version", row.Version).Msg("scoring configuration ready")
	}
	return nil
}
