package emg

import (
	"math"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/dsp"
)

// QualityScore rates a channel's usable signal content in [0,1]. It blends
// the envelope's dynamic range (active bursts should stand clear of the
// resting baseline) with a saturation penalty for samples pinned at the
// recording rail. Empty or silent channels score zero.
func QualityScore(raw, envelope []float64) float64 {
	if len(raw) == 0 || len(envelope) == 0 {
		return 0
	}

	maxAbs := 0.0
	for _, v := range raw {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return 0
	}

	clipped := 0
	for _, v := range raw {
		if math.Abs(v) >= 0.999*maxAbs {
			clipped++
		}
	}
	clipFrac := float64(clipped) / float64(len(raw))
	// Up to 1% of samples may legitimately touch the peak; past that the
	// channel is saturating.
	clipScore := 1 - clamp01((clipFrac-0.01)*20)

	p95 := dsp.Percentile(envelope, 95)
	p10 := dsp.Percentile(envelope, 10)
	if p10 < 1e-12 {
		p10 = 1e-12
	}
	// Two decades of burst-to-baseline ratio count as full marks.
	snrScore := clamp01(math.Log10(p95/p10) / 2)

	return clamp01(0.7*snrScore + 0.3*clipScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
