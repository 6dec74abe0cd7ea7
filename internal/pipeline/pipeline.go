package pipeline

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/c3d"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
)

// Options tunes the signal-processing stages for one run. Zero values fall
// back to the clinical defaults.
type Options struct {
	ThresholdFactor        float64 `json:"threshold_factor,omitempty"`
	MinDurationMs          float64 `json:"min_duration_ms,omitempty"`
	SmoothingWindowSamples int     `json:"smoothing_window,omitempty"`
}

// SessionParams carries the clinical intent for one session: MVC references,
// compliance thresholds, and the protocol target. Nil pointers mean the
// clinician supplied no value.
type SessionParams struct {
	// PerMuscleMVC maps muscle base names to explicit MVC values.
	PerMuscleMVC map[string]float64 `json:"per_muscle_mvc,omitempty"`
	// PerMuscleMVCPct maps muscle base names to explicit threshold percentages.
	PerMuscleMVCPct map[string]float64 `json:"per_muscle_mvc_pct,omitempty"`

	GlobalMVC              *float64 `json:"global_mvc,omitempty"`
	MVCThresholdPercentage float64  `json:"mvc_threshold_percentage,omitempty"`

	DurationThresholdMs           *float64 `json:"duration_threshold_ms,omitempty"`
	ExpectedContractionsPerMuscle int      `json:"expected_contractions_per_muscle,omitempty"`
	BFREnabled                    bool     `json:"bfr_enabled,omitempty"`
}

// ThresholdPct returns the effective global threshold percentage.
func (p SessionParams) ThresholdPct() float64 {
	if p.MVCThresholdPercentage > 0 {
		return p.MVCThresholdPercentage
	}
	return config.DefaultMVCThresholdPercentage
}

// SourceMetadata is the technical-data blob persisted on first successful
// parse, plus the game parameters merged into the session record.
type SourceMetadata struct {
	SamplingRateHz  float64  `json:"sampling_rate_hz"`
	DurationSeconds float64  `json:"duration_seconds"`
	FrameCount      int      `json:"frame_count"`
	ChannelNames    []string `json:"channel_names"`
	RateDefaulted   bool     `json:"rate_defaulted,omitempty"`

	Game c3d.GameMetadata `json:"game"`
}

// ProcessingParams snapshots the conditioning configuration a session was
// actually processed with.
type ProcessingParams struct {
	SamplingRateHz         float64 `json:"sampling_rate_hz" db:"sampling_rate_hz"`
	FilterLowCutHz         float64 `json:"filter_low_cut_hz" db:"filter_low_cut_hz"`
	FilterHighCutHz        float64 `json:"filter_high_cut_hz" db:"filter_high_cut_hz"`
	FilterOrder            int     `json:"filter_order" db:"filter_order"`
	RMSWindowMs            float64 `json:"rms_window_ms" db:"rms_window_ms"`
	RMSOverlap             float64 `json:"rms_overlap" db:"rms_overlap"`
	MVCWindowMs            float64 `json:"mvc_window_ms" db:"mvc_window_ms"`
	MVCThresholdPercentage float64 `json:"mvc_threshold_percentage" db:"mvc_threshold_percentage"`
	Version                string  `json:"processing_version" db:"processing_version"`
}

// Result is the full compute output for one file.
type Result struct {
	Metadata SourceMetadata                   `json:"metadata"`
	Channels map[string]*emg.ChannelAnalytics `json:"channels"`
	Params   ProcessingParams                 `json:"processing_parameters"`
}

// MuscleNames returns the analyzed muscles in stable order.
func (r *Result) MuscleNames() []string {
	names := make([]string, 0, len(r.Channels))
	for name := range r.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Processor runs the compute chain. It holds no I/O handles; the orchestrator
// and the synchronous upload surface both drive it.
type Processor struct {
	opts Options
	log  zerolog.Logger
}

func NewProcessor(opts Options) *Processor {
	return &Processor{opts: opts, log: log.With().Str("component", "pipeline").Logger()}
}

// muscleChannels pairs the raw view of a muscle with its optional activated
// sibling.
type muscleChannels struct {
	rawLabel       string
	activatedLabel string
}

// Process decodes one C3D blob and computes per-muscle analytics with the
// processor's configured options. Errors are pre-classified: callers may hand
// them straight to ClassifyError.
func (p *Processor) Process(data []byte, sp SessionParams, filename string) (*Result, error) {
	return p.ProcessWithOptions(data, sp, p.opts, filename)
}

// ProcessWithOptions runs the chain with caller-supplied tuning, used by the
// synchronous upload surface where each request may override the defaults.
func (p *Processor) ProcessWithOptions(data []byte, sp SessionParams, opts Options, filename string) (*Result, error) {
	file, err := c3d.Parse(data)
	if err != nil {
		return nil, err
	}

	fs := file.Header.SamplingRateHz
	rateDefaulted := false
	if fs <= 0 {
		// The reader never fabricates a rate; the pipeline needs one.
		fs = config.DefaultSamplingRateHz
		rateDefaulted = true
		p.log.Warn().Str("file", filename).
			Float64("assumed_rate_hz", fs).
			Msg("C3D header omits analog rate, applying default")
	}

	cCfg := emg.DefaultConditionerConfig(fs)
	if opts.SmoothingWindowSamples > 0 {
		cCfg.SmoothingWindowSamples = opts.SmoothingWindowSamples
	}
	conditioner, err := emg.NewConditioner(cCfg)
	if err != nil {
		return nil, err
	}
	if err := conditioner.ValidateDuration(file.Header.FrameCount); err != nil {
		// The container parsed fine, so the failure document can carry its
		// metadata for the clinician-facing payload.
		f := ClassifyError(err, filename, int64(len(data)))
		f.C3DMetadata = containerMetadata(file, fs)
		return nil, f
	}

	dCfg := emg.DefaultDetectorConfig(fs)
	if opts.ThresholdFactor > 0 {
		dCfg.ThresholdFactor = opts.ThresholdFactor
	}
	if opts.MinDurationMs > 0 {
		dCfg.MinDurationMs = opts.MinDurationMs
	}
	detector, err := emg.NewDetector(dCfg)
	if err != nil {
		return nil, err
	}

	analyzer := emg.NewAnalyzer(emg.DefaultTemporalConfig())
	estimator := emg.NewMVCEstimator()

	muscles := groupByMuscle(file.Header.ChannelLabels)
	if len(muscles) == 0 {
		return nil, NewFailure(FailureProcessing, "no EMG channels in container")
	}

	channels := make(map[string]*emg.ChannelAnalytics, len(muscles))
	for _, name := range sortedMuscles(muscles) {
		mc := muscles[name]
		ca, err := p.processMuscle(file, name, mc, sp, fs, conditioner, detector, analyzer, estimator)
		if err != nil {
			// Per-channel failures degrade to zero counts with a breadcrumb;
			// the session keeps its other muscles.
			p.log.Warn().Str("muscle", name).Err(err).Msg("channel failed, recording breadcrumb")
			channels[name] = &emg.ChannelAnalytics{
				ChannelName:    name,
				SamplingRateHz: fs,
				Notes:          []string{fmt.Sprintf("channel failed: %v", err)},
			}
			continue
		}
		channels[name] = ca
	}

	lowHz, highHz := conditioner.BandHz()
	result := &Result{
		Metadata: SourceMetadata{
			SamplingRateHz:  fs,
			DurationSeconds: float64(file.Header.FrameCount) / fs,
			FrameCount:      file.Header.FrameCount,
			ChannelNames:    file.Header.ChannelLabels,
			RateDefaulted:   rateDefaulted,
			Game:            file.Metadata(),
		},
		Channels: channels,
		Params: ProcessingParams{
			SamplingRateHz:         fs,
			FilterLowCutHz:         lowHz,
			FilterHighCutHz:        highHz,
			FilterOrder:            cCfg.FilterOrder,
			RMSWindowMs:            float64(conditioner.SmoothingWindow()) / fs * 1000,
			RMSOverlap:             config.TemporalWindowOverlap,
			MVCWindowMs:            config.DefaultMVCWindowMs,
			MVCThresholdPercentage: sp.ThresholdPct(),
			Version:                config.ProcessingVersion,
		},
	}
	return result, nil
}

func (p *Processor) processMuscle(
	file *c3d.File,
	name string,
	mc muscleChannels,
	sp SessionParams,
	fs float64,
	conditioner *emg.Conditioner,
	detector *emg.Detector,
	analyzer *emg.Analyzer,
	estimator *emg.MVCEstimator,
) (*emg.ChannelAnalytics, error) {
	raw, ok := file.AnalogByLabel(mc.rawLabel)
	if !ok || len(raw) == 0 {
		return nil, emg.ErrNoRawSignal
	}

	conditioned := conditioner.Condition(raw)

	threshold, mvcValue, method := emg.ResolveMVCThreshold(emg.ThresholdInputs{
		PerMuscleMVC: lookupPtr(sp.PerMuscleMVC, name),
		PerMusclePct: lookupPtr(sp.PerMuscleMVCPct, name),
		GlobalMVC:    sp.GlobalMVC,
		GlobalPct:    sp.ThresholdPct(),
	})
	if threshold == nil {
		est, err := estimator.Estimate(raw, conditioned.Envelope, fs, sp.ThresholdPct())
		if err == nil {
			threshold = &est.ThresholdValue
			mvcValue = &est.MVCValue
			method = est.EstimationMethod
			p.log.Debug().Str("muscle", name).
				Float64("mvc", est.MVCValue).
				Float64("threshold", est.ThresholdValue).
				Msg("backend MVC estimation")
		}
	}

	var activated []float64
	if mc.activatedLabel != "" {
		activated, _ = file.AnalogByLabel(mc.activatedLabel)
	}

	detection, err := detector.Detect(emg.DetectionInput{
		Envelope:            conditioned.Envelope,
		Activated:           activated,
		MVCThreshold:        threshold,
		DurationThresholdMs: sp.DurationThresholdMs,
	})
	if err != nil {
		return nil, err
	}

	ca := analyzer.Analyze(emg.AnalysisInput{
		ChannelName:            name,
		SamplingRateHz:         fs,
		Raw:                    raw,
		Conditioned:            conditioned,
		Detection:              detection,
		MVCThreshold:           threshold,
		MVCValue:               mvcValue,
		EstimationMethod:       method,
		DurationThresholdMs:    sp.DurationThresholdMs,
		SmoothingWindowSamples: conditioner.SmoothingWindow(),
	})
	return &ca, nil
}

// containerMetadata flattens the parsed header into the failure-document blob.
func containerMetadata(file *c3d.File, fs float64) map[string]interface{} {
	md := map[string]interface{}{
		"sampling_rate_hz": fs,
		"frame_count":      file.Header.FrameCount,
		"duration_seconds": float64(file.Header.FrameCount) / fs,
		"channel_names":    file.Header.ChannelLabels,
	}
	if game := file.Metadata(); game.GameName != "" {
		md["game_name"] = game.GameName
	}
	return md
}

// groupByMuscle folds raw and activated channel views into logical muscles.
// A plain label without a " Raw" sibling is its own raw view.
func groupByMuscle(labels []string) map[string]muscleChannels {
	muscles := make(map[string]muscleChannels)
	for _, label := range labels {
		base := c3d.BaseName(label)
		if base == "" {
			continue
		}
		mc := muscles[base]
		if c3d.IsActivatedLabel(label) {
			mc.activatedLabel = label
		} else if mc.rawLabel == "" || label == base+" Raw" {
			mc.rawLabel = label
		}
		muscles[base] = mc
	}
	// Activated-only groups have nothing to measure amplitudes on; detection
	// reports NoRawSignal per channel, so keep them visible.
	return muscles
}

func sortedMuscles(m map[string]muscleChannels) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupPtr(m map[string]float64, key string) *float64 {
	if m == nil {
		return nil
	}
	if v, ok := m[key]; ok {
		return &v
	}
	return nil
}
