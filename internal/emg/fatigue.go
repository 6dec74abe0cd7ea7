package emg

import (
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// Spectral computes the full-signal frequency metrics on the raw (unsmoothed)
// signal. Amplitude work uses the envelope; spectral work never does.
func Spectral(raw []float64, fsHz float64) (SpectralMetrics, error) {
	psd, err := dsp.Welch(raw, fsHz, 0)
	if err != nil {
		return SpectralMetrics{}, err
	}
	return SpectralFromPSD(psd), nil
}

// SpectralFromPSD derives the clinical frequency measures from an estimate.
func SpectralFromPSD(psd dsp.PSD) SpectralMetrics {
	return SpectralMetrics{
		MPF:          psd.MeanFrequency(),
		MDF:          psd.MedianFrequency(),
		FatigueIndex: FatigueIndexFINsm5(psd),
	}
}

// FatigueIndexFINsm5 is Dimitrov's normalized spectral-moment ratio
// M(-1)/M(5). Fatigue compresses the spectrum toward low frequencies, which
// grows M(-1) and shrinks M(5), so the index rises with fatigue.
func FatigueIndexFINsm5(psd dsp.PSD) float64 {
	m5 := psd.Moment(5)
	if m5 <= 0 {
		return 0
	}
	return psd.Moment(-1) / m5
}
