package emg

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freqHz, fsHz float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / fsHz)
	}
	return out
}

func TestConditionerBandSelection(t *testing.T) {
	c, err := NewConditioner(DefaultConditionerConfig(1000))
	require.NoError(t, err)
	low, high := c.BandHz()
	assert.Equal(t, 20.0, low)
	assert.Equal(t, 450.0, high, "0.9 x Nyquist clamps below the 500 Hz default")
	assert.False(t, c.Degraded())

	c, err = NewConditioner(DefaultConditionerConfig(2000))
	require.NoError(t, err)
	low, high = c.BandHz()
	assert.Equal(t, 20.0, low)
	assert.Equal(t, 500.0, high, "default cutoff fits under Nyquist")
}

func TestConditionerDegradesWhenBandCollapses(t *testing.T) {
	c, err := NewConditioner(DefaultConditionerConfig(40))
	require.NoError(t, err)
	assert.True(t, c.Degraded())

	low, high := c.BandHz()
	assert.Zero(t, low, "high-pass edge dropped")
	assert.InDelta(t, 18.0, high, 1e-9)

	out := c.Condition(sine(5, 40, 400))
	require.True(t, out.Valid)
	require.NotEmpty(t, out.Steps)
	assert.Equal(t, "lowpass_filter", out.Steps[0].Name)
}

func TestConditionerRejectsUnusableRate(t *testing.T) {
	cfg := DefaultConditionerConfig(2)
	_, err := NewConditioner(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientBandwidth))
}

func TestConditionInvalidInput(t *testing.T) {
	c, err := NewConditioner(DefaultConditionerConfig(1000))
	require.NoError(t, err)

	empty := c.Condition(nil)
	assert.False(t, empty.Valid)
	assert.Equal(t, "empty signal", empty.Reason)
	assert.Empty(t, empty.Steps)

	flat := make([]float64, 100)
	for i := range flat {
		flat[i] = 1.0
	}
	constant := c.Condition(flat)
	assert.False(t, constant.Valid)
	assert.Equal(t, "constant signal", constant.Reason)
}

func TestConditionProducesEnvelope(t *testing.T) {
	c, err := NewConditioner(DefaultConditionerConfig(1000))
	require.NoError(t, err)

	out := c.Condition(sine(100, 1000, 2000))
	require.True(t, out.Valid)
	require.Len(t, out.Steps, 3)
	assert.Equal(t, "bandpass_filter", out.Steps[0].Name)
	assert.Equal(t, "rectification", out.Steps[1].Name)
	assert.Equal(t, "rms_envelope", out.Steps[2].Name)
	assert.Equal(t, 50, out.Steps[2].WindowSamples)

	require.Len(t, out.Envelope, 2000)
	for i, v := range out.Envelope {
		assert.GreaterOrEqual(t, v, 0.0, "envelope sample %d", i)
	}
	// In-band sine passes at unity gain; a full-cycle RMS window reads 1/sqrt(2).
	for i := 300; i < 1700; i++ {
		assert.InDelta(t, math.Sqrt2/2, out.Envelope[i], 0.05, "envelope sample %d", i)
	}

	assert.InDelta(t, 0.0, out.Input.Mean, 0.01)
	assert.InDelta(t, math.Sqrt2/2, out.Input.Std, 0.02)
	assert.Greater(t, out.Output.Mean, 0.5)
}

func TestValidateDuration(t *testing.T) {
	c, err := NewConditioner(DefaultConditionerConfig(990))
	require.NoError(t, err)
	assert.Equal(t, 9900, c.MinSamplesRequired())

	err = c.ValidateDuration(30)
	require.Error(t, err)

	var ide *InsufficientDurationError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 9900, ide.MinSamplesRequired)
	assert.Equal(t, 30, ide.ActualSamples)
	assert.Contains(t, ide.Reason, "clinical minimum")

	assert.NoError(t, c.ValidateDuration(9900))
}
