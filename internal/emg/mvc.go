package emg

import (
	"math"
	"time"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// Signal sources recorded in estimation metadata.
const (
	mvcSourceEnvelope = "rms_envelope"
	mvcSourceComputed = "computed_rms"
)

// MVCEstimator derives a maximum-voluntary-contraction reference from the
// observed signal when no clinical value exists.
type MVCEstimator struct {
	Percentile float64
	WindowMs   float64

	now func() time.Time
}

// NewMVCEstimator returns an estimator with the clinical defaults: the 95th
// percentile over a 500 ms RMS window.
func NewMVCEstimator() *MVCEstimator {
	return &MVCEstimator{
		Percentile: config.MVCEstimationPercentile,
		WindowMs:   config.DefaultMVCWindowMs,
		now:        time.Now,
	}
}

// Estimate derives the MVC and working threshold for one channel. A
// pre-computed envelope is preferred; otherwise the estimator rectifies the
// raw signal and smooths it itself.
func (e *MVCEstimator) Estimate(raw, envelope []float64, fsHz, thresholdPct float64) (MVCEstimation, error) {
	if len(raw) == 0 && len(envelope) == 0 {
		return MVCEstimation{}, ErrNoRawSignal
	}

	source := envelope
	sourceName := mvcSourceEnvelope
	if len(source) == 0 {
		window := int(e.WindowMs * fsHz / 1000)
		if window < 1 {
			window = 1
		}
		source = dsp.MovingRMS(dsp.Rectify(raw), window)
		sourceName = mvcSourceComputed
	}

	mvc := dsp.Percentile(source, e.Percentile)
	return MVCEstimation{
		MVCValue:            mvc,
		ThresholdValue:      mvc * thresholdPct / 100,
		ThresholdPercentage: thresholdPct,
		EstimationMethod:    EstimationMethodBackend,
		ConfidenceScore:     estimationConfidence(source, fsHz),
		Metadata: MVCMeta{
			SignalSource: sourceName,
			Percentile:   e.Percentile,
			SampleCount:  len(source),
		},
		Timestamp: e.now().UTC(),
	}, nil
}

// estimationConfidence discounts short recordings and wildly unstable
// envelopes. A recording at the clinical minimum duration with a steady
// envelope scores near 1.
func estimationConfidence(source []float64, fsHz float64) float64 {
	if len(source) == 0 || fsHz <= 0 {
		return 0
	}
	duration := float64(len(source)) / fsHz
	durFactor := math.Min(1, duration/config.MinClinicalDurationSeconds)

	mean, std := dsp.MeanStd(source)
	stability := 0.0
	if mean > 0 {
		stability = clamp01(1 - std/mean)
	}
	return clamp01(durFactor * (0.5 + 0.5*stability))
}

// ThresholdInputs carries the clinician-supplied MVC sources for one muscle.
// GlobalPct is always defined (configuration default when the session omits
// it); the pointers are nil when no value was supplied.
type ThresholdInputs struct {
	PerMuscleMVC *float64
	PerMusclePct *float64
	GlobalMVC    *float64
	GlobalPct    float64
}

// ResolveMVCThreshold applies the clinical priority order: per-muscle value
// with its own percentage, per-muscle value with the global percentage, then
// global MVC. A nil threshold means backend estimation must run.
func ResolveMVCThreshold(in ThresholdInputs) (threshold, mvcValue *float64, method string) {
	if in.PerMuscleMVC != nil {
		pct := in.GlobalPct
		if in.PerMusclePct != nil {
			pct = *in.PerMusclePct
		}
		t := *in.PerMuscleMVC * pct / 100
		return &t, in.PerMuscleMVC, EstimationMethodPerMuscle
	}
	if in.GlobalMVC != nil {
		t := *in.GlobalMVC * in.GlobalPct / 100
		return &t, in.GlobalMVC, EstimationMethodGlobal
	}
	return nil, nil, ""
}
