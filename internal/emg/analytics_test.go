package emg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clinicalSignal synthesizes a 12 s recording at 1000 Hz: three one-second
// 100 Hz bursts over a faint 113 Hz baseline.
func clinicalSignal() []float64 {
	n := 12000
	x := make([]float64, n)
	for i := range x {
		ts := float64(i) / 1000
		x[i] = 0.01 * math.Sin(2*math.Pi*113*ts)
	}
	for _, b := range [][2]int{{1000, 2000}, {4000, 5000}, {7000, 8000}} {
		for i := b[0]; i < b[1]; i++ {
			ts := float64(i) / 1000
			x[i] += math.Sin(2 * math.Pi * 100 * ts)
		}
	}
	return x
}

func TestAnalyzeFullChain(t *testing.T) {
	raw := clinicalSignal()

	cond, err := NewConditioner(DefaultConditionerConfig(1000))
	require.NoError(t, err)
	conditioned := cond.Condition(raw)
	require.True(t, conditioned.Valid)

	det, err := NewDetector(DefaultDetectorConfig(1000))
	require.NoError(t, err)

	mvcThr := 0.5
	durThr := 500.0
	detection, err := det.Detect(DetectionInput{
		Envelope:            conditioned.Envelope,
		MVCThreshold:        &mvcThr,
		DurationThresholdMs: &durThr,
	})
	require.NoError(t, err)
	require.Equal(t, 3, detection.Counts.Total, "three distinct bursts")

	ca := NewAnalyzer(DefaultTemporalConfig()).Analyze(AnalysisInput{
		ChannelName:            "CH1",
		SamplingRateHz:         1000,
		Raw:                    raw,
		Conditioned:            conditioned,
		Detection:              detection,
		MVCThreshold:           &mvcThr,
		DurationThresholdMs:    &durThr,
		EstimationMethod:       EstimationMethodBackend,
		SmoothingWindowSamples: cond.SmoothingWindow(),
	})

	assert.Equal(t, "CH1", ca.ChannelName)
	assert.Equal(t, 3, ca.TotalContractions)
	assert.Equal(t, 3, ca.MVCCompliantCount)
	assert.Equal(t, 3, ca.DurationCompliantCount)
	assert.Equal(t, 3, ca.GoodContractionCount)

	// Burst envelope sits at 1/sqrt(2); edges widen each region by roughly
	// the smoothing window.
	assert.InDelta(t, math.Sqrt2/2, ca.MaxAmplitude, 0.05)
	assert.Greater(t, ca.AvgAmplitude, 0.55)
	assert.Less(t, ca.AvgAmplitude, 0.75)
	assert.InDelta(t, 1000.0, ca.AvgDurationMs, 80)
	assert.InDelta(t, 3*ca.AvgDurationMs, ca.TotalTimeUnderTensionMs, 1e-6)
	assert.Greater(t, ca.MinDurationMs, 900.0)
	assert.LessOrEqual(t, ca.MinDurationMs, ca.MaxDurationMs)

	assert.Greater(t, ca.RMS, 0.0)
	assert.Greater(t, ca.MAV, 0.0)
	assert.InDelta(t, 100.0, ca.MPF, 10, "burst tone dominates the spectrum")
	assert.InDelta(t, 100.0, ca.MDF, 8)
	assert.Greater(t, ca.FatigueIndex, 0.0)

	require.NotNil(t, ca.Temporal)
	require.NotNil(t, ca.Temporal.RMS)
	assert.Equal(t, 23, ca.Temporal.RMS.ValidWindows, "12 s in 1 s windows at 50% overlap")
	require.NotNil(t, ca.Temporal.MPF)

	assert.Greater(t, ca.SignalQualityScore, 0.7)
	assert.LessOrEqual(t, ca.SignalQualityScore, 1.0)

	assert.Equal(t, TimingSourceEnvelope, ca.TimingSource)
	assert.Equal(t, 50, ca.SmoothingWindowUsed)
	assert.Len(t, ca.ConditioningSteps, 3)
	assert.Empty(t, ca.Notes)
	require.NotNil(t, ca.MVCThreshold)
	assert.InDelta(t, 0.5, *ca.MVCThreshold, 1e-9)
}

func TestAnalyzeZeroContractions(t *testing.T) {
	raw := sine(100, 1000, 11000)
	for i := range raw {
		raw[i] *= 0.001
	}

	cond, err := NewConditioner(DefaultConditionerConfig(1000))
	require.NoError(t, err)
	conditioned := cond.Condition(raw)

	// A continuous tone is one long region; force zero contractions by
	// feeding an empty-ish envelope instead.
	detection := DetectionResult{TimingSource: TimingSourceEnvelope}

	ca := NewAnalyzer(DefaultTemporalConfig()).Analyze(AnalysisInput{
		ChannelName:    "CH2",
		SamplingRateHz: 1000,
		Raw:            raw,
		Conditioned:    conditioned,
		Detection:      detection,
	})

	assert.Zero(t, ca.TotalContractions)
	assert.Zero(t, ca.GoodContractionCount)
	assert.Zero(t, ca.MaxAmplitude)
	assert.Zero(t, ca.TotalTimeUnderTensionMs)
	assert.Greater(t, ca.RMS, 0.0, "signal metrics still computed")
}

func TestTemporalAnalysisWindowing(t *testing.T) {
	stats := TemporalAnalysis(sine(50, 1000, 5000), 1000, DefaultTemporalConfig())
	require.NotNil(t, stats)
	require.NotNil(t, stats.RMS)

	assert.Equal(t, 9, stats.RMS.ValidWindows, "(5000-1000)/500+1")
	assert.InDelta(t, math.Sqrt2/2, stats.RMS.Mean, 0.02)
	assert.Less(t, stats.RMS.CoefficientOfVariation, 0.05, "steady tone varies little")

	require.NotNil(t, stats.MPF)
	assert.InDelta(t, 50.0, stats.MPF.Mean, 5)
}

func TestTemporalAnalysisRequiresMinimumWindows(t *testing.T) {
	assert.Nil(t, TemporalAnalysis(sine(50, 1000, 1500), 1000, DefaultTemporalConfig()),
		"two windows fall short of the minimum")
	assert.Nil(t, TemporalAnalysis(sine(50, 1000, 500), 1000, DefaultTemporalConfig()),
		"shorter than one window")
	assert.NotNil(t, TemporalAnalysis(sine(50, 1000, 2000), 1000, DefaultTemporalConfig()),
		"exactly three windows is enough")
}

func TestQualityScoreOrdering(t *testing.T) {
	// Bursty envelope over a quiet baseline: high dynamic range.
	cleanRaw := sine(100, 1000, 2000)
	cleanEnv := burstSignal(2000, 0.7, [2]int{500, 1500})
	for i := range cleanEnv {
		if cleanEnv[i] == 0 {
			cleanEnv[i] = 0.007
		}
	}
	clean := QualityScore(cleanRaw, cleanEnv)

	// Square wave pins every sample to the rail and has no dynamic range.
	flatRaw := make([]float64, 2000)
	flatEnv := make([]float64, 2000)
	for i := range flatRaw {
		flatRaw[i] = 0.5
		if i%2 == 0 {
			flatRaw[i] = -0.5
		}
		flatEnv[i] = 0.5
	}
	flat := QualityScore(flatRaw, flatEnv)

	assert.Greater(t, clean, 0.6)
	assert.LessOrEqual(t, clean, 1.0)
	assert.Less(t, flat, clean)
	assert.Zero(t, QualityScore(nil, nil))
	assert.Zero(t, QualityScore(make([]float64, 100), make([]float64, 100)), "silent channel")
}
