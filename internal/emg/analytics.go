package emg

import (
	"fmt"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// AnalysisInput collects the stage outputs for one muscle.
type AnalysisInput struct {
	ChannelName    string
	SamplingRateHz float64

	Raw         []float64
	Conditioned ConditionedSignal
	Detection   DetectionResult

	MVCThreshold        *float64
	MVCValue            *float64
	EstimationMethod    string
	DurationThresholdMs *float64

	SmoothingWindowSamples int
}

// Analyzer assembles the complete per-channel analytics document.
type Analyzer struct {
	temporal TemporalConfig
}

func NewAnalyzer(temporal TemporalConfig) *Analyzer {
	if temporal.WindowSeconds <= 0 {
		temporal = DefaultTemporalConfig()
	}
	return &Analyzer{temporal: temporal}
}

// Analyze computes the per-channel analytics document. Detection results
// pass through; the analyzer adds full-signal metrics, windowed statistics,
// aggregates, and the quality score. Spectral failures degrade to zeroed
// metrics with a note rather than failing the channel.
func (a *Analyzer) Analyze(in AnalysisInput) ChannelAnalytics {
	ca := ChannelAnalytics{
		ChannelName:    in.ChannelName,
		SamplingRateHz: in.SamplingRateHz,

		Contractions:           in.Detection.Contractions,
		TotalContractions:      in.Detection.Counts.Total,
		MVCCompliantCount:      in.Detection.Counts.MVCCompliant,
		DurationCompliantCount: in.Detection.Counts.DurationCompliant,
		GoodContractionCount:   in.Detection.Counts.Good,

		MVCThreshold:        in.MVCThreshold,
		MVCValue:            in.MVCValue,
		MVCEstimationMethod: in.EstimationMethod,
		DurationThresholdMs: in.DurationThresholdMs,

		TimingSource:        in.Detection.TimingSource,
		DetectionThreshold:  in.Detection.Threshold,
		ThresholdFactorUsed: in.Detection.ThresholdFactor,
		SmoothingWindowUsed: in.SmoothingWindowSamples,
		ConditioningSteps:   in.Conditioned.Steps,
		Notes:               append([]string(nil), in.Detection.Notes...),
	}

	a.fillAmplitudeAggregates(&ca)

	ca.RMS = dsp.RMS(in.Raw)
	ca.MAV = dsp.MAV(in.Raw)

	if sm, err := Spectral(in.Raw, in.SamplingRateHz); err == nil {
		ca.MPF = sm.MPF
		ca.MDF = sm.MDF
		ca.FatigueIndex = sm.FatigueIndex
	} else {
		ca.Notes = append(ca.Notes, fmt.Sprintf("spectral metrics unavailable: %v", err))
	}

	ca.Temporal = TemporalAnalysis(in.Raw, in.SamplingRateHz, a.temporal)
	ca.SignalQualityScore = QualityScore(in.Raw, in.Conditioned.Envelope)

	if !in.Conditioned.Valid && in.Conditioned.Reason != "" {
		ca.Notes = append(ca.Notes, "conditioning invalid: "+in.Conditioned.Reason)
	}
	return ca
}

func (a *Analyzer) fillAmplitudeAggregates(ca *ChannelAnalytics) {
	cs := ca.Contractions
	if len(cs) == 0 {
		return
	}

	var sumMean, sumPeak, sumDur float64
	minDur, maxDur := cs[0].DurationMs, cs[0].DurationMs
	for _, c := range cs {
		sumMean += c.MeanAmplitude
		sumPeak += c.MaxAmplitude
		sumDur += c.DurationMs
		if c.MaxAmplitude > ca.MaxAmplitude {
			ca.MaxAmplitude = c.MaxAmplitude
		}
		if c.DurationMs < minDur {
			minDur = c.DurationMs
		}
		if c.DurationMs > maxDur {
			maxDur = c.DurationMs
		}
	}
	n := float64(len(cs))
	ca.AvgAmplitude = sumMean / n
	ca.AvgPeakAmplitude = sumPeak / n
	ca.MinDurationMs = minDur
	ca.MaxDurationMs = maxDur
	ca.AvgDurationMs = sumDur / n
	ca.TotalTimeUnderTensionMs = sumDur
}
