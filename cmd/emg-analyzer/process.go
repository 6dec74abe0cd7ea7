package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/interfaces/output"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
)

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <file.c3d> [file.c3d...]",
		Short: "Analyze C3D files offline",
		Long:  "Runs the full signal pipeline on local files and writes CSV and JSON reports. Nothing is persisted.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runProcess,
	}
	cmd.Flags().String("out-dir", ".", "Directory for result files")
	cmd.Flags().Int("parallel", 4, "Number of files analyzed concurrently")
	cmd.Flags().Float64("mvc-threshold", 0, "Global MVC threshold percentage (default clinical value when 0)")
	cmd.Flags().Float64("global-mvc", 0, "Global MVC reference value (backend estimation when 0)")
	cmd.Flags().Float64("duration-threshold", 0, "Duration compliance threshold in ms (default when 0)")
	cmd.Flags().Int("expected", 0, "Expected contractions per muscle (default when 0)")
	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out-dir")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	parallel, _ := cmd.Flags().GetInt("parallel")
	if parallel < 1 {
		parallel = 1
	}

	sp := sessionParamsFromFlags(cmd.Flags())
	processor := pipeline.NewProcessor(pipeline.Options{})
	emitter := output.NewEmitter()

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, parallel)
		mu       sync.Mutex
		failures int
	)
	fail := func() {
		mu.Lock()
		failures++
		mu.Unlock()
	}

	for _, path := range args {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			data, err := os.ReadFile(path)
			if err != nil {
				log.Error().Str("file", path).Err(err).Msg("read failed")
				fail()
				return
			}

			result, err := processor.Process(data, sp, filepath.Base(path))
			if err != nil {
				f := pipeline.ClassifyError(err, filepath.Base(path), int64(len(data)))
				log.Error().Str("file", path).Str("kind", string(f.Kind)).Msg(f.Message)
				fail()
				return
			}

			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			csvPath := filepath.Join(outDir, stem+"_analytics.csv")
			jsonPath := filepath.Join(outDir, stem+"_result.json")
			if err := emitter.EmitAnalyticsCSV(csvPath, result); err != nil {
				log.Error().Str("file", path).Err(err).Msg("csv write failed")
				fail()
				return
			}
			if err := emitter.EmitResultJSON(jsonPath, result); err != nil {
				log.Error().Str("file", path).Err(err).Msg("json write failed")
				fail()
				return
			}
			log.Info().Str("file", path).Int("channels", len(result.Channels)).
				Str("csv", csvPath).Str("json", jsonPath).Msg("analyzed")
		}(path)
	}
	wg.Wait()

	if failures > 0 {
		return fmt.Errorf("%d of %d files failed", failures, len(args))
	}
	return nil
}

func sessionParamsFromFlags(flags *pflag.FlagSet) pipeline.SessionParams {
	var sp pipeline.SessionParams
	if v, _ := flags.GetFloat64("mvc-threshold"); v > 0 {
		sp.MVCThresholdPercentage = v
	}
	if v, _ := flags.GetFloat64("global-mvc"); v > 0 {
		sp.GlobalMVC = &v
	}
	if v, _ := flags.GetFloat64("duration-threshold"); v > 0 {
		sp.DurationThresholdMs = &v
	}
	if v, _ := flags.GetInt("expected"); v > 0 {
		sp.ExpectedContractionsPerMuscle = v
	}
	return sp
}
