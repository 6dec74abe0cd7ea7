package pipeline

import (
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
)

// Recalculate re-derives compliance flags and counters from already-stored
// per-contraction measurements under new thresholds, without touching the
// source file. With unchanged thresholds the result is a fixed point of the
// stored analytics.
//
// Threshold resolution per muscle: the new session parameters win where they
// define a value; where they are silent the stored threshold is kept, so a
// partial recalculation only moves the flags it names.
func Recalculate(channels map[string]*emg.ChannelAnalytics, sp SessionParams) map[string]*emg.ChannelAnalytics {
	out := make(map[string]*emg.ChannelAnalytics, len(channels))
	for name, ca := range channels {
		if ca == nil {
			out[name] = nil
			continue
		}
		updated := *ca
		updated.Contractions = append([]emg.Contraction(nil), ca.Contractions...)

		threshold, mvcValue, method := emg.ResolveMVCThreshold(emg.ThresholdInputs{
			PerMuscleMVC: lookupPtr(sp.PerMuscleMVC, name),
			PerMusclePct: lookupPtr(sp.PerMuscleMVCPct, name),
			GlobalMVC:    sp.GlobalMVC,
			GlobalPct:    sp.ThresholdPct(),
		})
		if threshold == nil {
			threshold = ca.MVCThreshold
			mvcValue = ca.MVCValue
			method = ca.MVCEstimationMethod
		}

		durThreshold := sp.DurationThresholdMs
		if durThreshold == nil {
			durThreshold = ca.DurationThresholdMs
		}

		for i := range updated.Contractions {
			emg.Classify(&updated.Contractions[i], threshold, durThreshold)
		}
		counts := emg.CountContractions(updated.Contractions)
		updated.TotalContractions = counts.Total
		updated.MVCCompliantCount = counts.MVCCompliant
		updated.DurationCompliantCount = counts.DurationCompliant
		updated.GoodContractionCount = counts.Good

		updated.MVCThreshold = threshold
		updated.MVCValue = mvcValue
		updated.MVCEstimationMethod = method
		updated.DurationThresholdMs = durThreshold

		out[name] = &updated
	}
	return out
}
