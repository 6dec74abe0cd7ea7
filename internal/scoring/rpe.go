package scoring

import "fmt"

// RPEMapping is a piecewise-constant map from integer Borg CR10 ratings to
// effort scores. The default bands: optimal [4,6] scores 100, acceptable
// {3,7} scores 80, suboptimal {2,8} scores 60, poor everywhere else 20.
type RPEMapping map[int]float64

// Score looks up the effort score for a rating. The second return is false
// when the rating is outside the scale or the mapping has no band for it;
// callers treat that as an absent effort component, never a default.
func (m RPEMapping) Score(rpe int) (float64, bool) {
	if rpe < 0 || rpe > 10 {
		return 0, false
	}
	score, ok := m[rpe]
	return score, ok
}

// Validate rejects out-of-scale ratings and out-of-range scores.
func (m RPEMapping) Validate() error {
	for rpe, score := range m {
		if rpe < 0 || rpe > 10 {
			return fmt.Errorf("scoring: rpe mapping key %d outside the 0-10 scale", rpe)
		}
		if score < 0 || score > 100 {
			return fmt.Errorf("scoring: rpe %d maps to %f, want [0,100]", rpe, score)
		}
	}
	return nil
}
