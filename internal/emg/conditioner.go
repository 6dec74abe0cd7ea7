package emg

import (
	"errors"
	"fmt"
	"math"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// ErrInsufficientBandwidth marks sampling rates too low to carry any usable
// EMG band after the Nyquist safety clamp.
var ErrInsufficientBandwidth = errors.New("emg: sampling rate leaves no usable frequency band")

// InsufficientDurationError reports a signal shorter than the clinical
// minimum. The orchestrator maps it to a structured validation failure.
type InsufficientDurationError struct {
	MinSamplesRequired int     `json:"min_samples_required"`
	ActualSamples      int     `json:"actual_samples"`
	Reason             string  `json:"reason"`
	SamplingRateHz     float64 `json:"sampling_rate_hz"`
}

func (e *InsufficientDurationError) Error() string {
	return fmt.Sprintf("emg: %d samples at %.1f Hz, clinical minimum is %d",
		e.ActualSamples, e.SamplingRateHz, e.MinSamplesRequired)
}

// ConditionerConfig selects the C2 stages for one recording.
type ConditionerConfig struct {
	SamplingRateHz             float64
	FilterOrder                int
	HighPassCutoffHz           float64
	LowPassCutoffHz            float64
	SmoothingWindowSamples     int
	MinClinicalDurationSeconds float64
}

// DefaultConditionerConfig returns the clinical defaults at a sampling rate.
func DefaultConditionerConfig(fsHz float64) ConditionerConfig {
	return ConditionerConfig{
		SamplingRateHz:             fsHz,
		FilterOrder:                config.DefaultFilterOrder,
		HighPassCutoffHz:           config.EMGHighPassCutoffHz,
		LowPassCutoffHz:            config.DefaultLowPassCutoffHz,
		SmoothingWindowSamples:     config.DefaultSmoothingWindowSamples,
		MinClinicalDurationSeconds: config.MinClinicalDurationSeconds,
	}
}

// Conditioner applies the deterministic C2 pipeline: zero-phase bandpass,
// full-wave rectification, moving-RMS envelope. Filters are designed once
// per sampling rate.
type Conditioner struct {
	cfg   ConditionerConfig
	chain dsp.Chain

	lowHz    float64
	highHz   float64
	degraded bool
}

// NewConditioner designs the filter chain. The high cutoff clamps to
// 0.9x Nyquist; when the clamp pushes it at or below the high-pass edge the
// band has collapsed and conditioning degrades to lowpass-only rather than
// failing the session. Only a rate with no usable band at all is an error.
func NewConditioner(cfg ConditionerConfig) (*Conditioner, error) {
	if cfg.SamplingRateHz <= 0 {
		return nil, fmt.Errorf("emg: sampling rate %.3f Hz is not positive", cfg.SamplingRateHz)
	}
	if cfg.FilterOrder <= 0 {
		cfg.FilterOrder = config.DefaultFilterOrder
	}
	if cfg.SmoothingWindowSamples <= 0 {
		cfg.SmoothingWindowSamples = config.DefaultSmoothingWindowSamples
	}

	nyquist := cfg.SamplingRateHz / 2
	high := math.Min(cfg.LowPassCutoffHz, config.NyquistSafetyFactor*nyquist)
	if high <= 1 {
		return nil, fmt.Errorf("%w: %.1f Hz sampling leaves %.2f Hz of bandwidth",
			ErrInsufficientBandwidth, cfg.SamplingRateHz, high)
	}

	c := &Conditioner{cfg: cfg, lowHz: cfg.HighPassCutoffHz, highHz: high}
	var err error
	if high > cfg.HighPassCutoffHz {
		c.chain, err = dsp.Bandpass(cfg.FilterOrder, cfg.HighPassCutoffHz, high, cfg.SamplingRateHz)
	} else {
		// The clamp swallowed the high-pass edge; keep what the rate can
		// carry instead of rejecting the recording.
		c.degraded = true
		c.lowHz = 0
		c.chain, err = dsp.Lowpass(cfg.FilterOrder, high, cfg.SamplingRateHz)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// BandHz returns the effective passband after clamping. A zero low edge
// means the high-pass stage was dropped.
func (c *Conditioner) BandHz() (low, high float64) { return c.lowHz, c.highHz }

// Degraded reports whether the Nyquist clamp collapsed the band.
func (c *Conditioner) Degraded() bool { return c.degraded }

// SmoothingWindow returns the envelope window in samples.
func (c *Conditioner) SmoothingWindow() int { return c.cfg.SmoothingWindowSamples }

// MinSamplesRequired returns the clinical duration gate in samples.
func (c *Conditioner) MinSamplesRequired() int {
	return int(math.Ceil(c.cfg.MinClinicalDurationSeconds * c.cfg.SamplingRateHz))
}

// ValidateDuration enforces the clinical minimum recording length.
func (c *Conditioner) ValidateDuration(samples int) error {
	min := c.MinSamplesRequired()
	if samples >= min {
		return nil
	}
	return &InsufficientDurationError{
		MinSamplesRequired: min,
		ActualSamples:      samples,
		SamplingRateHz:     c.cfg.SamplingRateHz,
		Reason: fmt.Sprintf("signal provides %.2f s of EMG; clinical minimum is %.0f s",
			float64(samples)/c.cfg.SamplingRateHz, c.cfg.MinClinicalDurationSeconds),
	}
}

// Condition runs the stage pipeline over one channel. The result is marked
// invalid for empty or flat input and for numerically failed stages; the
// step records describe exactly what ran.
func (c *Conditioner) Condition(x []float64) ConditionedSignal {
	out := ConditionedSignal{}

	mean, std := dsp.MeanStd(x)
	out.Input = SignalStats{Mean: mean, Std: std}

	if len(x) == 0 {
		out.Reason = "empty signal"
		return out
	}
	if std == 0 {
		out.Reason = "constant signal"
		return out
	}

	filterName := "bandpass_filter"
	detail := ""
	if c.degraded {
		filterName = "lowpass_filter"
		detail = "high-pass edge dropped after Nyquist clamp"
	}
	out.Filtered = c.chain.FiltFilt(x)
	out.Steps = append(out.Steps, StepRecord{
		Name:        filterName,
		Applied:     true,
		Detail:      detail,
		LowCutHz:    c.lowHz,
		HighCutHz:   c.highHz,
		FilterOrder: c.cfg.FilterOrder,
	})

	out.Rectified = dsp.Rectify(out.Filtered)
	out.Steps = append(out.Steps, StepRecord{Name: "rectification", Applied: true})

	out.Envelope = dsp.MovingRMS(out.Rectified, c.cfg.SmoothingWindowSamples)
	out.Steps = append(out.Steps, StepRecord{
		Name:          "rms_envelope",
		Applied:       true,
		WindowSamples: c.cfg.SmoothingWindowSamples,
	})

	oMean, oStd := dsp.MeanStd(out.Envelope)
	out.Output = SignalStats{Mean: oMean, Std: oStd}

	for _, v := range out.Envelope {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.Reason = "numeric instability in filter output"
			return out
		}
	}
	out.Valid = true
	return out
}
