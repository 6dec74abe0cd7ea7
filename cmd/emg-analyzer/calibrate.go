package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/c3d"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
)

func calibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate <file.c3d>",
		Short: "Estimate MVC references from a recording",
		Long:  "Derives per-channel maximum-voluntary-contraction estimates and working thresholds from a calibration recording.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCalibrate,
	}
	cmd.Flags().Float64("threshold-percentage", config.DefaultMVCThresholdPercentage,
		"Threshold percentage applied to the estimated MVC")
	return cmd
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	file, err := c3d.Parse(data)
	if err != nil {
		f := pipeline.ClassifyError(err, filepath.Base(path), int64(len(data)))
		return fmt.Errorf("%s: %s", string(f.Kind), f.Message)
	}

	thresholdPct, _ := cmd.Flags().GetFloat64("threshold-percentage")
	estimator := emg.NewMVCEstimator()

	estimations := make(map[string]emg.MVCEstimation)
	for _, label := range file.Header.ChannelLabels {
		if c3d.IsActivatedLabel(label) {
			continue
		}
		raw, ok := file.AnalogByLabel(label)
		if !ok || len(raw) == 0 {
			continue
		}
		est, estErr := estimator.Estimate(raw, nil, file.Header.SamplingRateHz, thresholdPct)
		if estErr != nil {
			continue
		}
		estimations[label] = est
	}
	if len(estimations) == 0 {
		return fmt.Errorf("no usable EMG channels in %s", path)
	}

	out, err := json.MarshalIndent(estimations, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
