package emg

import (
	"errors"
	"fmt"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
)

// ErrNoRawSignal marks a channel whose raw signal is absent. Detection has
// nothing to measure amplitudes on; the channel fails, not the session.
var ErrNoRawSignal = errors.New("emg: no raw signal for channel")

// Timing signal sources reported in detection results.
const (
	TimingSourceActivated = "activated"
	TimingSourceEnvelope  = "envelope"
)

// DetectorConfig tunes the C3 gating stages.
type DetectorConfig struct {
	SamplingRateHz           float64
	ThresholdFactor          float64
	ActivatedThresholdFactor float64
	MinDurationMs            float64
	MergeThresholdMs         float64
	RefractoryPeriodMs       float64
}

// DefaultDetectorConfig returns the clinical defaults at a sampling rate.
func DefaultDetectorConfig(fsHz float64) DetectorConfig {
	return DetectorConfig{
		SamplingRateHz:           fsHz,
		ThresholdFactor:          config.DefaultThresholdFactor,
		ActivatedThresholdFactor: config.ActivatedThresholdFactor,
		MinDurationMs:            config.DefaultMinDurationMs,
		MergeThresholdMs:         config.DefaultMergeThresholdMs,
		RefractoryPeriodMs:       config.DefaultRefractoryPeriodMs,
	}
}

// DetectionInput is one muscle's view for detection. Activated is the
// optional pre-thresholded sibling used for timing only; thresholds may be
// nil when the session defines none.
type DetectionInput struct {
	Envelope            []float64
	Activated           []float64
	MVCThreshold        *float64
	DurationThresholdMs *float64
}

// DetectionResult carries the accepted contractions plus how they were found.
type DetectionResult struct {
	Contractions []Contraction     `json:"contractions"`
	Counts       ContractionCounts `json:"counts"`

	TimingSource    string   `json:"timing_source"`
	Threshold       float64  `json:"threshold"`
	ThresholdFactor float64  `json:"threshold_factor"`
	Notes           []string `json:"notes,omitempty"`
}

// Detector finds contractions by thresholding a timing signal and gating the
// regions by duration, merge distance, and refractory spacing. Amplitude is
// always measured on the envelope.
type Detector struct {
	cfg DetectorConfig
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.SamplingRateHz <= 0 {
		return nil, fmt.Errorf("emg: detector sampling rate %.3f Hz is not positive", cfg.SamplingRateHz)
	}
	if cfg.ThresholdFactor <= 0 {
		cfg.ThresholdFactor = config.DefaultThresholdFactor
	}
	if cfg.ActivatedThresholdFactor <= 0 {
		cfg.ActivatedThresholdFactor = config.ActivatedThresholdFactor
	}
	return &Detector{cfg: cfg}, nil
}

// region is a half-open sample interval [start, end).
type region struct {
	start, end int
}

// Detect runs the gating stages in order: threshold regions, drop short
// ones, merge physiologically adjacent pairs, enforce refractory spacing,
// then classify against the clinical thresholds.
func (d *Detector) Detect(in DetectionInput) (DetectionResult, error) {
	if len(in.Envelope) == 0 {
		return DetectionResult{}, ErrNoRawSignal
	}

	timing := in.Envelope
	source := TimingSourceEnvelope
	factor := d.cfg.ThresholdFactor
	if len(in.Activated) > 0 {
		timing = in.Activated
		source = TimingSourceActivated
		factor = d.cfg.ActivatedThresholdFactor
	}

	res := DetectionResult{TimingSource: source, ThresholdFactor: factor}

	peak := 0.0
	for _, v := range timing {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		res.Notes = append(res.Notes, "timing signal has no positive excursion")
		return res, nil
	}
	res.Threshold = factor * peak

	msPerSample := 1000.0 / d.cfg.SamplingRateHz

	regions := aboveThreshold(timing, res.Threshold)
	regions = dropShort(regions, d.cfg.MinDurationMs, msPerSample)
	regions = mergeAdjacent(regions, d.cfg.MergeThresholdMs, msPerSample)
	regions = enforceRefractory(regions, d.cfg.RefractoryPeriodMs, msPerSample)

	for _, r := range regions {
		// Amplitude comes from the envelope even when timing came from the
		// activated sibling; clamp in case lengths disagree.
		lo, hi := r.start, r.end
		if hi > len(in.Envelope) {
			hi = len(in.Envelope)
		}
		if lo >= hi {
			res.Notes = append(res.Notes, fmt.Sprintf(
				"region %.0f..%.0f ms outside envelope, skipped",
				float64(r.start)*msPerSample, float64(r.end)*msPerSample))
			continue
		}

		var sum, max float64
		for _, v := range in.Envelope[lo:hi] {
			sum += v
			if v > max {
				max = v
			}
		}

		c := Contraction{
			StartMs:       float64(r.start) * msPerSample,
			EndMs:         float64(r.end) * msPerSample,
			DurationMs:    float64(r.end-r.start) * msPerSample,
			MeanAmplitude: sum / float64(hi-lo),
			MaxAmplitude:  max,
		}
		Classify(&c, in.MVCThreshold, in.DurationThresholdMs)
		res.Contractions = append(res.Contractions, c)
	}

	res.Counts = CountContractions(res.Contractions)
	return res, nil
}

// Classify sets the compliance flags for one contraction. is_good follows
// whichever thresholds are defined; with neither defined no contraction can
// be good.
func Classify(c *Contraction, mvcThreshold, durationThresholdMs *float64) {
	c.MeetsMVC = mvcThreshold != nil && c.MaxAmplitude >= *mvcThreshold
	c.MeetsDuration = durationThresholdMs != nil && c.DurationMs >= *durationThresholdMs

	switch {
	case mvcThreshold != nil && durationThresholdMs != nil:
		c.IsGood = c.MeetsMVC && c.MeetsDuration
	case mvcThreshold != nil:
		c.IsGood = c.MeetsMVC
	case durationThresholdMs != nil:
		c.IsGood = c.MeetsDuration
	default:
		c.IsGood = false
	}
}

// CountContractions aggregates the classification flags.
func CountContractions(cs []Contraction) ContractionCounts {
	counts := ContractionCounts{Total: len(cs)}
	for _, c := range cs {
		if c.MeetsMVC {
			counts.MVCCompliant++
		}
		if c.MeetsDuration {
			counts.DurationCompliant++
		}
		if c.IsGood {
			counts.Good++
		}
	}
	return counts
}

func aboveThreshold(x []float64, threshold float64) []region {
	var regions []region
	start := -1
	for i, v := range x {
		switch {
		case v >= threshold && start < 0:
			start = i
		case v < threshold && start >= 0:
			regions = append(regions, region{start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		regions = append(regions, region{start: start, end: len(x)})
	}
	return regions
}

func dropShort(regions []region, minDurationMs, msPerSample float64) []region {
	out := regions[:0]
	for _, r := range regions {
		if float64(r.end-r.start)*msPerSample >= minDurationMs {
			out = append(out, r)
		}
	}
	return out
}

func mergeAdjacent(regions []region, mergeThresholdMs, msPerSample float64) []region {
	if len(regions) < 2 {
		return regions
	}
	out := []region{regions[0]}
	for _, r := range regions[1:] {
		last := &out[len(out)-1]
		if float64(r.start-last.end)*msPerSample < mergeThresholdMs {
			last.end = r.end
			continue
		}
		out = append(out, r)
	}
	return out
}

func enforceRefractory(regions []region, refractoryMs, msPerSample float64) []region {
	if len(regions) < 2 {
		return regions
	}
	out := []region{regions[0]}
	for _, r := range regions[1:] {
		last := out[len(out)-1]
		if float64(r.start-last.end)*msPerSample < refractoryMs {
			continue
		}
		out = append(out, r)
	}
	return out
}
