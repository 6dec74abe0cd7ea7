package dsp

import "math"

// TotalPower integrates the PSD over its band.
func (p PSD) TotalPower() float64 {
	df := p.BinWidth()
	var total float64
	for _, pw := range p.Power {
		total += pw * df
	}
	return total
}

// Moment returns the order-k spectral moment, the integral of f^k * P(f).
// Negative orders skip the DC bin where f^k is singular.
func (p PSD) Moment(k float64) float64 {
	df := p.BinWidth()
	var m float64
	for i, f := range p.Freqs {
		if k < 0 && f <= 0 {
			continue
		}
		m += math.Pow(f, k) * p.Power[i] * df
	}
	return m
}

// MeanFrequency returns the power-weighted mean frequency, M1/M0.
func (p PSD) MeanFrequency() float64 {
	m0 := p.Moment(0)
	if m0 <= 0 {
		return 0
	}
	return p.Moment(1) / m0
}

// MedianFrequency returns the frequency splitting the spectrum into equal
// power halves: the first bin where cumulative power reaches half the total.
func (p PSD) MedianFrequency() float64 {
	df := p.BinWidth()
	var total float64
	for _, pw := range p.Power {
		total += pw * df
	}
	if total <= 0 {
		return 0
	}
	half := total / 2
	var cum float64
	for i, pw := range p.Power {
		cum += pw * df
		if cum >= half {
			return p.Freqs[i]
		}
	}
	return p.Freqs[len(p.Freqs)-1]
}
