package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelchLocatesTone(t *testing.T) {
	psd, err := Welch(sine(50, 1000, 4000), 1000, 0)
	require.NoError(t, err)
	require.NotEmpty(t, psd.Power)

	peak := 0
	for i, p := range psd.Power {
		if p > psd.Power[peak] {
			peak = i
		}
	}
	assert.InDelta(t, 50.0, psd.Freqs[peak], 4.0, "peak bin near the tone")

	// A unit sine carries power 0.5; the density integral preserves it.
	assert.InDelta(t, 0.5, psd.TotalPower(), 0.1)
}

func TestWelchShrinksSegmentToSignal(t *testing.T) {
	psd, err := Welch(sine(10, 100, 100), 100, 0)
	require.NoError(t, err)
	assert.Len(t, psd.Freqs, 51, "nperseg falls back to the signal length")
	assert.InDelta(t, 1.0, psd.BinWidth(), 1e-9)
}

func TestWelchRejectsBadInput(t *testing.T) {
	_, err := Welch([]float64{1, 2}, 1000, 0)
	assert.Error(t, err, "too short")

	_, err = Welch(sine(10, 100, 100), 0, 0)
	assert.Error(t, err, "zero sampling rate")
}

func TestSpectralMoments(t *testing.T) {
	psd := PSD{
		Freqs: []float64{0, 10, 20, 30},
		Power: []float64{0, 1, 1, 0},
	}

	assert.InDelta(t, 20.0, psd.TotalPower(), 1e-9)
	assert.InDelta(t, 20.0, psd.Moment(0), 1e-9)
	assert.InDelta(t, 300.0, psd.Moment(1), 1e-9)
	assert.InDelta(t, 15.0, psd.MeanFrequency(), 1e-9)

	// Negative moments skip the singular DC bin.
	assert.InDelta(t, 1.5, psd.Moment(-1), 1e-9)
}

func TestMedianFrequency(t *testing.T) {
	psd := PSD{
		Freqs: []float64{0, 10, 20, 30},
		Power: []float64{0, 1, 1, 0},
	}
	assert.InDelta(t, 10.0, psd.MedianFrequency(), 1e-9, "cumulative power crosses half at 10 Hz")

	empty := PSD{Freqs: []float64{0, 10}, Power: []float64{0, 0}}
	assert.Zero(t, empty.MedianFrequency())
	assert.Zero(t, empty.MeanFrequency())
}
