package dsp

import "math"

// MovingRMS computes a centered moving root-mean-square over the given
// window length in samples. Near the edges the window shrinks to the
// available samples instead of zero-padding, so the envelope never dips
// artificially at the boundaries. A window of 1 or less returns |x|.
func MovingRMS(x []float64, window int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if window <= 1 {
		for i, v := range x {
			out[i] = math.Abs(v)
		}
		return out
	}
	// Prefix sums of squares keep the sweep O(n). A window wider than the
	// signal degenerates to whole-signal RMS at every sample via the lo/hi
	// truncation below.
	prefix := make([]float64, n+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v*v
	}

	half := window / 2
	for i := 0; i < n; i++ {
		lo := i - half
		hi := i + (window - half) // exclusive
		if lo < 0 {
			lo = 0
		}
		if hi > n {
			hi = n
		}
		out[i] = math.Sqrt((prefix[hi] - prefix[lo]) / float64(hi-lo))
	}
	return out
}

// Rectify returns the full-wave rectification |x|.
func Rectify(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v)
	}
	return out
}
