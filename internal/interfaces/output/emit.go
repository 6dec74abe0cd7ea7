// Package output writes analysis results to files for offline clinical
// review: a per-channel CSV rollup and the full JSON document.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
)

type Emitter struct{}

func NewEmitter() *Emitter {
	return &Emitter{}
}

// EmitAnalyticsCSV writes one row per analyzed channel.
func (e *Emitter) EmitAnalyticsCSV(filePath string, result *pipeline.Result) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Channel", "Contractions", "MVCCompliant", "DurationCompliant", "Good",
		"MaxAmplitude", "AvgAmplitude", "AvgDurationMs", "TimeUnderTensionMs",
		"RMS", "MAV", "MPF", "MDF", "FatigueIndex", "SignalQuality",
		"MVCValue", "MVCThreshold", "MVCMethod",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	names := make([]string, 0, len(result.Channels))
	for name := range result.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a := result.Channels[name]
		record := []string{
			name,
			strconv.Itoa(a.TotalContractions),
			strconv.Itoa(a.MVCCompliantCount),
			strconv.Itoa(a.DurationCompliantCount),
			strconv.Itoa(a.GoodContractionCount),
			fmt.Sprintf("%.6f", a.MaxAmplitude),
			fmt.Sprintf("%.6f", a.AvgAmplitude),
			fmt.Sprintf("%.1f", a.AvgDurationMs),
			fmt.Sprintf("%.1f", a.TotalTimeUnderTensionMs),
			fmt.Sprintf("%.6f", a.RMS),
			fmt.Sprintf("%.6f", a.MAV),
			fmt.Sprintf("%.2f", a.MPF),
			fmt.Sprintf("%.2f", a.MDF),
			fmt.Sprintf("%.4f", a.FatigueIndex),
			fmt.Sprintf("%.3f", a.SignalQualityScore),
			formatCSVPtr(a.MVCValue),
			formatCSVPtr(a.MVCThreshold),
			a.MVCEstimationMethod,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for %s: %w", name, err)
		}
	}
	return nil
}

// EmitResultJSON writes the complete analysis document.
func (e *Emitter) EmitResultJSON(filePath string, result *pipeline.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

func formatCSVPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.6f", *v)
}
