package config

// Clinical and signal-processing constants. These are the process-level
// defaults enumerated in the trial protocol; per-session parameters override
// them through SessionParams, never by mutating these values.
const (
	// DefaultSamplingRateHz is applied only when a C3D header omits the
	// analog rate. The reader itself never fabricates a rate.
	DefaultSamplingRateHz = 1000.0

	// DefaultThresholdFactor is the detection threshold on the RMS envelope,
	// as a fraction of the channel maximum.
	DefaultThresholdFactor = 0.10

	// ActivatedThresholdFactor is the lower edge-detection threshold used
	// when a pre-activated sibling signal carries the timing information.
	ActivatedThresholdFactor = 0.05

	// DefaultMinDurationMs rejects detection regions shorter than this.
	DefaultMinDurationMs = 50

	// DefaultMergeThresholdMs merges adjacent regions separated by less
	// than this gap; such bursts are physiologically one contraction.
	DefaultMergeThresholdMs = 200

	// DefaultRefractoryPeriodMs enforces a quiet period between accepted
	// contractions.
	DefaultRefractoryPeriodMs = 50

	// DefaultSmoothingWindowSamples is the moving-RMS envelope window,
	// ~50 ms at the default sampling rate.
	DefaultSmoothingWindowSamples = 50

	// DefaultMVCThresholdPercentage marks a contraction intensity-compliant
	// when its peak reaches this percentage of the muscle's MVC.
	DefaultMVCThresholdPercentage = 75.0

	// DefaultTherapeuticDurationThresholdMs marks a contraction
	// duration-compliant at or above this length.
	DefaultTherapeuticDurationThresholdMs = 2000.0

	// EMGHighPassCutoffHz / DefaultLowPassCutoffHz / DefaultFilterOrder
	// define the Butterworth bandpass applied before rectification.
	EMGHighPassCutoffHz  = 20.0
	DefaultLowPassCutoffHz = 500.0
	DefaultFilterOrder     = 4

	// NyquistSafetyFactor clamps the high cutoff to this fraction of the
	// Nyquist frequency when the configured cutoff would violate it.
	NyquistSafetyFactor = 0.9

	// MinClinicalDurationSeconds is the shortest EMG recording that yields
	// clinically interpretable analytics. MinSamplesRequired derives from
	// it at the file's sampling rate.
	MinClinicalDurationSeconds = 10.0

	// MVCEstimationPercentile drives backend MVC estimation: the MVC is
	// taken as this percentile of the rectified signal.
	MVCEstimationPercentile = 95.0

	// DefaultMVCWindowMs is the RMS window used when estimating MVC from a
	// raw signal (no pre-computed envelope available).
	DefaultMVCWindowMs = 500

	// Temporal statistics over sliding windows.
	TemporalWindowSeconds        = 1.0
	TemporalWindowOverlap        = 0.5
	MinTemporalWindowsRequired   = 3

	// ExpectedContractionsPerMuscle is the protocol target per session.
	ExpectedContractionsPerMuscle = 12

	// BFR pressure windows in % of arterial occlusion pressure. The
	// therapeutic window gates scoring; the outer window gates safety
	// compliance on sensor-measured monitoring rows.
	BFRPressureMinAOP       = 45.0
	BFRPressureMaxAOP       = 55.0
	BFRSafetyOuterMinAOP    = 40.0
	BFRSafetyOuterMaxAOP    = 60.0

	// ProcessingVersion is stamped into every ProcessingParameters row so
	// historical sessions identify the pipeline that produced them.
	ProcessingVersion = "v2.1.0"

	// DefaultMaxFileSizeBytes caps uploads and webhook object sizes.
	DefaultMaxFileSizeBytes = 50 * 1024 * 1024

	// AnalyticsCacheVersion is embedded in cache payloads; bumping it
	// invalidates stale entries after pipeline changes.
	AnalyticsCacheVersion = "2024.1"
)

// Default scoring weights. The database seed row (config version 1) is the
// source of truth; Validate() fails startup when these constants drift from
// the seed values.
const (
	DefaultWeightCompliance = 0.40
	DefaultWeightSymmetry   = 0.25
	DefaultWeightEffort     = 0.20
	DefaultWeightGame       = 0.15

	DefaultWeightCompletion = 0.50
	DefaultWeightIntensity  = 0.30
	DefaultWeightDuration   = 0.20

	// WeightSumTolerance bounds the deviation of weight sums from 1.0.
	WeightSumTolerance = 0.01
)

// DefaultRPEMapping is the piecewise-constant effort mapping over the Borg
// CR10 scale. RPE 4-6 is the optimal therapeutic band.
func DefaultRPEMapping() map[int]float64 {
	return map[int]float64{
		0: 20.0, 1: 20.0,
		2: 60.0,
		3: 80.0,
		4: 100.0, 5: 100.0, 6: 100.0,
		7: 80.0,
		8: 60.0,
		9: 20.0, 10: 20.0,
	}
}
