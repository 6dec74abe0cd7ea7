package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "emg-analyzer"
	version = "v2.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Execute builds the command tree and runs it.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "EMG C3D clinical analysis service",
		Version: version,
		Long: `Processes C3D recordings from rehabilitation gaming sessions into
per-muscle EMG analytics and clinical performance scores.

Run 'emg-analyzer serve' for the full service (webhook ingest, worker pool,
query API) or 'emg-analyzer process' for offline batch analysis.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to YAML config file")
	root.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		raw, _ := cmd.Flags().GetString("log-level")
		level, err := zerolog.ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", raw, err)
		}
		zerolog.SetGlobalLevel(level)
		return nil
	}

	root.AddCommand(serveCmd())
	root.AddCommand(processCmd())
	root.AddCommand(calibrateCmd())
	root.AddCommand(recalcCmd())
	root.AddCommand(schemaCmd())
	return root.ExecuteContext(ctx)
}
