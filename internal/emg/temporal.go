package emg

import (
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// TemporalConfig tunes the sliding-window statistics.
type TemporalConfig struct {
	WindowSeconds float64
	Overlap       float64
	MinWindows    int
}

// DefaultTemporalConfig returns the clinical windowing defaults.
func DefaultTemporalConfig() TemporalConfig {
	return TemporalConfig{
		WindowSeconds: config.TemporalWindowSeconds,
		Overlap:       config.TemporalWindowOverlap,
		MinWindows:    config.MinTemporalWindowsRequired,
	}
}

// TemporalAnalysis slides overlapping windows over the raw signal and
// distributes each metric across them. A metric reports nil unless it has at
// least MinWindows valid windows; spectral metrics can lose windows that are
// too degenerate to estimate. Returns nil when the recording cannot fit the
// minimum window count at all.
func TemporalAnalysis(raw []float64, fsHz float64, cfg TemporalConfig) *TemporalStats {
	if fsHz <= 0 || cfg.WindowSeconds <= 0 {
		return nil
	}
	win := int(cfg.WindowSeconds * fsHz)
	if win <= 0 || win > len(raw) {
		return nil
	}
	step := int(float64(win) * (1 - cfg.Overlap))
	if step < 1 {
		step = 1
	}
	count := (len(raw)-win)/step + 1
	if count < cfg.MinWindows {
		return nil
	}

	var rmsVals, mavVals, mpfVals, mdfVals, fiVals []float64
	for w := 0; w < count; w++ {
		seg := raw[w*step : w*step+win]
		rmsVals = append(rmsVals, dsp.RMS(seg))
		mavVals = append(mavVals, dsp.MAV(seg))

		psd, err := dsp.Welch(seg, fsHz, 0)
		if err != nil {
			continue
		}
		sm := SpectralFromPSD(psd)
		mpfVals = append(mpfVals, sm.MPF)
		mdfVals = append(mdfVals, sm.MDF)
		fiVals = append(fiVals, sm.FatigueIndex)
	}

	return &TemporalStats{
		RMS:          newTemporalStat(rmsVals, cfg.MinWindows),
		MAV:          newTemporalStat(mavVals, cfg.MinWindows),
		MPF:          newTemporalStat(mpfVals, cfg.MinWindows),
		MDF:          newTemporalStat(mdfVals, cfg.MinWindows),
		FatigueIndex: newTemporalStat(fiVals, cfg.MinWindows),
	}
}

func newTemporalStat(vals []float64, minWindows int) *TemporalStat {
	if len(vals) < minWindows {
		return nil
	}
	mean, std := dsp.MeanStd(vals)
	min, max := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	cv := 0.0
	if mean != 0 {
		cv = std / mean
	}
	return &TemporalStat{
		Mean:                   mean,
		Std:                    std,
		Min:                    min,
		Max:                    max,
		ValidWindows:           len(vals),
		CoefficientOfVariation: cv,
	}
}
