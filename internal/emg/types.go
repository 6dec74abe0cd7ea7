// Package emg implements the clinical EMG computations: signal conditioning,
// contraction detection, per-channel analytics, and MVC threshold
// estimation. Components are pure with respect to I/O; they consume float64
// slices and produce typed results the orchestrator persists.
package emg

import "time"

// SignalStats summarizes a signal for conditioning step records.
type SignalStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// StepRecord documents one conditioning stage as it actually ran.
type StepRecord struct {
	Name          string  `json:"name"`
	Applied       bool    `json:"applied"`
	Detail        string  `json:"detail,omitempty"`
	WindowSamples int     `json:"window_samples,omitempty"`
	LowCutHz      float64 `json:"low_cut_hz,omitempty"`
	HighCutHz     float64 `json:"high_cut_hz,omitempty"`
	FilterOrder   int     `json:"filter_order,omitempty"`
}

// ConditionedSignal is the C2 output for one channel. Envelope is the only
// signal downstream amplitude analysis may use; Filtered feeds spectral
// metrics.
type ConditionedSignal struct {
	Filtered  []float64 `json:"-"`
	Rectified []float64 `json:"-"`
	Envelope  []float64 `json:"-"`

	Steps  []StepRecord `json:"steps"`
	Input  SignalStats  `json:"input_stats"`
	Output SignalStats  `json:"output_stats"`

	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Contraction is one accepted above-threshold region. Amplitudes are always
// measured on the envelope, never on the timing signal.
type Contraction struct {
	StartMs       float64 `json:"start_time_ms"`
	EndMs         float64 `json:"end_time_ms"`
	DurationMs    float64 `json:"duration_ms"`
	MeanAmplitude float64 `json:"mean_amplitude"`
	MaxAmplitude  float64 `json:"max_amplitude"`

	MeetsMVC      bool `json:"meets_mvc"`
	MeetsDuration bool `json:"meets_duration"`
	IsGood        bool `json:"is_good"`
}

// ContractionCounts aggregates classification results for a muscle.
type ContractionCounts struct {
	Total             int `json:"total_contractions"`
	MVCCompliant      int `json:"mvc_compliant_count"`
	DurationCompliant int `json:"duration_compliant_count"`
	Good              int `json:"good_contraction_count"`
}

// TemporalStat is the distribution of one metric over sliding windows.
type TemporalStat struct {
	Mean                   float64 `json:"mean"`
	Std                    float64 `json:"std"`
	Min                    float64 `json:"min"`
	Max                    float64 `json:"max"`
	ValidWindows           int     `json:"valid_windows"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
}

// TemporalStats carries the windowed metrics; a nil entry means the metric
// had fewer valid windows than the clinical minimum.
type TemporalStats struct {
	RMS          *TemporalStat `json:"rms,omitempty"`
	MAV          *TemporalStat `json:"mav,omitempty"`
	MPF          *TemporalStat `json:"mpf,omitempty"`
	MDF          *TemporalStat `json:"mdf,omitempty"`
	FatigueIndex *TemporalStat `json:"fatigue_index,omitempty"`
}

// SpectralMetrics are the full-signal frequency-domain measures.
type SpectralMetrics struct {
	MPF          float64 `json:"mpf"`
	MDF          float64 `json:"mdf"`
	FatigueIndex float64 `json:"fatigue_index_fi_nsm5"`
}

// ChannelAnalytics is the complete per-muscle result fanned out to storage
// and cache.
type ChannelAnalytics struct {
	ChannelName    string  `json:"channel_name"`
	SamplingRateHz float64 `json:"sampling_rate_hz"`

	Contractions           []Contraction `json:"contractions"`
	TotalContractions      int           `json:"total_contractions"`
	MVCCompliantCount      int           `json:"mvc_compliant_count"`
	DurationCompliantCount int           `json:"duration_compliant_count"`
	GoodContractionCount   int           `json:"good_contraction_count"`

	MaxAmplitude     float64 `json:"max_amplitude"`
	AvgAmplitude     float64 `json:"avg_amplitude"`
	AvgPeakAmplitude float64 `json:"avg_peak_amplitude"`

	MinDurationMs           float64 `json:"min_duration_ms"`
	MaxDurationMs           float64 `json:"max_duration_ms"`
	AvgDurationMs           float64 `json:"avg_duration_ms"`
	TotalTimeUnderTensionMs float64 `json:"total_time_under_tension_ms"`

	RMS          float64 `json:"rms"`
	MAV          float64 `json:"mav"`
	MPF          float64 `json:"mpf"`
	MDF          float64 `json:"mdf"`
	FatigueIndex float64 `json:"fatigue_index_fi_nsm5"`

	Temporal *TemporalStats `json:"temporal_stats,omitempty"`

	SignalQualityScore float64 `json:"signal_quality_score"`

	MVCThreshold          *float64 `json:"mvc_threshold,omitempty"`
	MVCValue              *float64 `json:"mvc_value,omitempty"`
	MVCEstimationMethod   string   `json:"mvc_estimation_method,omitempty"`
	DurationThresholdMs   *float64 `json:"duration_threshold_ms,omitempty"`
	TimingSource          string   `json:"timing_source"`
	DetectionThreshold    float64  `json:"detection_threshold"`
	ThresholdFactorUsed   float64  `json:"threshold_factor_used"`
	SmoothingWindowUsed   int      `json:"smoothing_window_samples"`
	ConditioningSteps     []StepRecord `json:"conditioning_steps,omitempty"`
	Notes                 []string `json:"notes,omitempty"`
}

// MVCEstimation is the C5 result for one channel.
type MVCEstimation struct {
	MVCValue            float64   `json:"mvc_value"`
	ThresholdValue      float64   `json:"threshold_value"`
	ThresholdPercentage float64   `json:"threshold_percentage"`
	EstimationMethod    string    `json:"estimation_method"`
	ConfidenceScore     float64   `json:"confidence_score"`
	Metadata            MVCMeta   `json:"metadata"`
	Timestamp           time.Time `json:"timestamp"`
}

// MVCMeta records how the estimate was produced.
type MVCMeta struct {
	SignalSource string  `json:"signal_source"`
	Percentile   float64 `json:"percentile"`
	SampleCount  int     `json:"sample_count"`
}

// EstimationMethodBackend tags thresholds produced by the in-pipeline
// estimator rather than clinical input.
const EstimationMethodBackend = "backend_estimation"

// Threshold estimation method names for clinically supplied values.
const (
	EstimationMethodPerMuscle = "per_muscle_value"
	EstimationMethodGlobal    = "global_mvc"
)
