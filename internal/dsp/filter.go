// Package dsp holds the numeric signal-processing primitives the EMG
// pipeline is built on: IIR filter design and zero-phase application,
// envelope extraction, Welch spectral estimation, and spectral moments.
// Everything operates on plain float64 slices and never mutates its input.
package dsp

import (
	"fmt"
	"math"
)

// Biquad is one second-order IIR section, normalized so a0 = 1.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Chain is a cascade of biquad sections applied in order.
type Chain []Biquad

// butterQs returns the per-section quality factors for an even-order
// Butterworth filter. The pole pair angles theta_k = pi*(2k+1)/(2N) map to
// Q_k = 1/(2*cos(theta_k)); the cascade sits exactly -3dB at the cutoff.
func butterQs(order int) ([]float64, error) {
	if order <= 0 || order%2 != 0 {
		return nil, fmt.Errorf("dsp: butterworth order must be a positive even number, got %d", order)
	}
	qs := make([]float64, order/2)
	for k := range qs {
		theta := math.Pi * float64(2*k+1) / float64(2*order)
		qs[k] = 1 / (2 * math.Cos(theta))
	}
	return qs, nil
}

func checkCutoff(cutoffHz, fsHz float64) error {
	if fsHz <= 0 {
		return fmt.Errorf("dsp: sampling rate %.3f Hz is not positive", fsHz)
	}
	if cutoffHz <= 0 || cutoffHz >= fsHz/2 {
		return fmt.Errorf("dsp: cutoff %.3f Hz outside (0, %.3f) for fs=%.3f Hz", cutoffHz, fsHz/2, fsHz)
	}
	return nil
}

// Lowpass designs an even-order Butterworth lowpass as a biquad cascade via
// the bilinear transform with frequency pre-warping.
func Lowpass(order int, cutoffHz, fsHz float64) (Chain, error) {
	if err := checkCutoff(cutoffHz, fsHz); err != nil {
		return nil, err
	}
	qs, err := butterQs(order)
	if err != nil {
		return nil, err
	}
	w0 := 2 * math.Pi * cutoffHz / fsHz
	cosw, sinw := math.Cos(w0), math.Sin(w0)

	chain := make(Chain, len(qs))
	for i, q := range qs {
		alpha := sinw / (2 * q)
		a0 := 1 + alpha
		chain[i] = Biquad{
			B0: (1 - cosw) / 2 / a0,
			B1: (1 - cosw) / a0,
			B2: (1 - cosw) / 2 / a0,
			A1: -2 * cosw / a0,
			A2: (1 - alpha) / a0,
		}
	}
	return chain, nil
}

// Highpass designs an even-order Butterworth highpass as a biquad cascade.
func Highpass(order int, cutoffHz, fsHz float64) (Chain, error) {
	if err := checkCutoff(cutoffHz, fsHz); err != nil {
		return nil, err
	}
	qs, err := butterQs(order)
	if err != nil {
		return nil, err
	}
	w0 := 2 * math.Pi * cutoffHz / fsHz
	cosw, sinw := math.Cos(w0), math.Sin(w0)

	chain := make(Chain, len(qs))
	for i, q := range qs {
		alpha := sinw / (2 * q)
		a0 := 1 + alpha
		chain[i] = Biquad{
			B0: (1 + cosw) / 2 / a0,
			B1: -(1 + cosw) / a0,
			B2: (1 + cosw) / 2 / a0,
			A1: -2 * cosw / a0,
			A2: (1 - alpha) / a0,
		}
	}
	return chain, nil
}

// Bandpass builds a Butterworth bandpass by cascading an order-N highpass at
// the low edge with an order-N lowpass at the high edge. Each edge keeps the
// full order's rolloff, which is the conditioning EMG work expects.
func Bandpass(order int, lowHz, highHz, fsHz float64) (Chain, error) {
	if lowHz >= highHz {
		return nil, fmt.Errorf("dsp: bandpass edges inverted: %.3f >= %.3f Hz", lowHz, highHz)
	}
	hp, err := Highpass(order, lowHz, fsHz)
	if err != nil {
		return nil, err
	}
	lp, err := Lowpass(order, highHz, fsHz)
	if err != nil {
		return nil, err
	}
	return append(hp, lp...), nil
}

// steadyState returns the direct-form-II-transposed state that makes the
// section start in steady state for a unit constant input. Scaling it by the
// first sample removes the startup transient.
func (b Biquad) steadyState() (z1, z2 float64) {
	den := 1 + b.A1 + b.A2
	g := 0.0
	if den != 0 {
		g = (b.B0 + b.B1 + b.B2) / den
	}
	z1 = g - b.B0
	z2 = b.B2 - b.A2*g
	return z1, z2
}

// apply runs one section over x in place using DF2T with the given initial
// state scale.
func (b Biquad) apply(x []float64, scale float64) {
	z1, z2 := b.steadyState()
	z1 *= scale
	z2 *= scale
	for i, v := range x {
		y := b.B0*v + z1
		z1 = b.B1*v - b.A1*y + z2
		z2 = b.B2*v - b.A2*y
		x[i] = y
	}
}

// Filter applies the cascade forward once, returning a new slice.
func (c Chain) Filter(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) == 0 {
		return out
	}
	for _, sec := range c {
		sec.apply(out, out[0])
	}
	return out
}

// FiltFilt applies the cascade forward then backward for zero phase. The
// signal is extended at both ends with an odd reflection so the filter state
// settles before real samples arrive; the extensions are discarded.
func (c Chain) FiltFilt(x []float64) []float64 {
	n := len(x)
	if n == 0 || len(c) == 0 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	pad := 3 * (2*len(c) + 1)
	if pad >= n {
		pad = n - 1
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	for _, sec := range c {
		sec.apply(ext, ext[0])
	}
	reverse(ext)
	for _, sec := range c {
		sec.apply(ext, ext[0])
	}
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
