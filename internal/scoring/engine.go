package scoring

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
)

// MuscleCounters carries one muscle's contraction tallies into scoring.
type MuscleCounters struct {
	Total             int `json:"total"`
	MVCCompliant      int `json:"mvc_compliant"`
	DurationCompliant int `json:"duration_compliant"`
	Good              int `json:"good"`
}

// SessionMetrics is the scoring input the orchestrator assembles from
// channel analytics and session metadata. Nil pointers mean "no data", which
// is distinct from zero.
type SessionMetrics struct {
	Left  *MuscleCounters `json:"left,omitempty"`
	Right *MuscleCounters `json:"right,omitempty"`

	ExpectedContractionsPerMuscle int `json:"expected_contractions_per_muscle"`

	BFRPressureAOP *float64 `json:"bfr_pressure_aop,omitempty"`
	RPEPostSession *int     `json:"rpe_post_session,omitempty"`

	GamePointsAchieved *float64 `json:"game_points_achieved,omitempty"`
	GamePointsMax      *float64 `json:"game_points_max,omitempty"`
}

// MuscleBreakdown is the per-muscle compliance decomposition.
type MuscleBreakdown struct {
	Score          float64 `json:"score"`
	CompletionRate float64 `json:"completion_rate"`
	IntensityRate  float64 `json:"intensity_rate"`
	DurationRate   float64 `json:"duration_rate"`
	ExceededTarget bool    `json:"exceeded_target"`
}

// PerformanceScores is the persisted scoring result. Effort and game are
// nil when their inputs were absent; their weights redistribute.
type PerformanceScores struct {
	ConfigID string `json:"scoring_config_id,omitempty"`

	OverallScore    float64  `json:"overall_score"`
	ComplianceScore float64  `json:"compliance_score"`
	SymmetryScore   float64  `json:"symmetry_score"`
	EffortScore     *float64 `json:"effort_score,omitempty"`
	GameScore       *float64 `json:"game_score,omitempty"`

	LeftMuscleCompliance  float64 `json:"left_muscle_compliance"`
	RightMuscleCompliance float64 `json:"right_muscle_compliance"`

	CompletionRateLeft  float64 `json:"completion_rate_left"`
	CompletionRateRight float64 `json:"completion_rate_right"`
	IntensityRateLeft   float64 `json:"intensity_rate_left"`
	IntensityRateRight  float64 `json:"intensity_rate_right"`
	DurationRateLeft    float64 `json:"duration_rate_left"`
	DurationRateRight   float64 `json:"duration_rate_right"`

	BFRCompliant   bool     `json:"bfr_compliant"`
	BFRPressureAOP *float64 `json:"bfr_pressure_aop,omitempty"`
	RPEPostSession *int     `json:"rpe_post_session,omitempty"`
}

// Engine scores sessions under one immutable rubric snapshot.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// NewEngine validates the rubric once; a constructed engine never fails.
func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.RPEMapping) == 0 {
		cfg.RPEMapping = RPEMapping(config.DefaultRPEMapping())
	}
	return &Engine{cfg: cfg, log: log.With().Str("component", "scoring").Logger()}, nil
}

// Config returns the rubric snapshot the engine scores with.
func (e *Engine) Config() Config { return e.cfg }

// Score computes the full performance document. All rates are capped at 1.0
// before they leave this method; the store's CHECK constraints are a
// boundary assertion, not a second clamp.
func (e *Engine) Score(m SessionMetrics) PerformanceScores {
	expected := m.ExpectedContractionsPerMuscle
	if expected <= 0 {
		expected = config.ExpectedContractionsPerMuscle
	}

	left := e.muscleCompliance("left", m.Left, expected)
	right := e.muscleCompliance("right", m.Right, expected)

	gate, bfrCompliant := bfrSafetyGate(m.BFRPressureAOP)

	// Averaging operates over muscles that produced contractions; a silent
	// channel does not dilute the active one.
	var sum float64
	var active int
	if m.Left != nil && m.Left.Total > 0 {
		sum += left.Score
		active++
	}
	if m.Right != nil && m.Right.Total > 0 {
		sum += right.Score
		active++
	}
	compliance := 0.0
	if active > 0 {
		compliance = sum / float64(active)
	}
	compliance *= gate

	symmetry := symmetryScore(left.Score, right.Score)

	var effort *float64
	if m.RPEPostSession != nil {
		if s, ok := e.cfg.RPEMapping.Score(*m.RPEPostSession); ok {
			effort = &s
		} else {
			e.log.Warn().Int("rpe", *m.RPEPostSession).Msg("rpe outside mapping, effort component dropped")
		}
	}

	var game *float64
	if m.GamePointsAchieved != nil && m.GamePointsMax != nil && *m.GamePointsMax > 0 {
		g := clampScore(100 * *m.GamePointsAchieved / *m.GamePointsMax)
		game = &g
	}

	overall := e.weightedOverall(compliance, symmetry, effort, game)

	return PerformanceScores{
		OverallScore:    clampScore(overall),
		ComplianceScore: clampScore(compliance),
		SymmetryScore:   clampScore(symmetry),
		EffortScore:     effort,
		GameScore:       game,

		LeftMuscleCompliance:  clampScore(left.Score),
		RightMuscleCompliance: clampScore(right.Score),

		CompletionRateLeft:  left.CompletionRate,
		CompletionRateRight: right.CompletionRate,
		IntensityRateLeft:   left.IntensityRate,
		IntensityRateRight:  right.IntensityRate,
		DurationRateLeft:    left.DurationRate,
		DurationRateRight:   right.DurationRate,

		BFRCompliant:   bfrCompliant,
		BFRPressureAOP: m.BFRPressureAOP,
		RPEPostSession: m.RPEPostSession,
	}
}

// muscleCompliance computes S_comp and its sub-rates for one muscle. The
// completion rate caps at 1.0; exceeding the target is acknowledged in the
// audit log, never in a score above 100.
func (e *Engine) muscleCompliance(side string, c *MuscleCounters, expected int) MuscleBreakdown {
	if c == nil || c.Total == 0 {
		return MuscleBreakdown{}
	}

	raw := float64(c.Total) / float64(expected)
	completion := math.Min(raw, 1.0)
	exceeded := raw > 1.0
	if exceeded {
		e.log.Info().
			Str("muscle", side).
			Int("total", c.Total).
			Int("expected", expected).
			Msg("exceeded target contraction count, completion capped for scoring")
	}

	intensity := float64(c.MVCCompliant) / float64(c.Total)
	duration := float64(c.DurationCompliant) / float64(c.Total)

	score := 100 * (e.cfg.WeightCompletion*completion +
		e.cfg.WeightIntensity*intensity +
		e.cfg.WeightDuration*duration)

	return MuscleBreakdown{
		Score:          score,
		CompletionRate: completion,
		IntensityRate:  intensity,
		DurationRate:   duration,
		ExceededTarget: exceeded,
	}
}

// weightedOverall combines the components, redistributing the weights of
// absent ones proportionally so the effective sum stays 1.0.
func (e *Engine) weightedOverall(compliance, symmetry float64, effort, game *float64) float64 {
	weighted := e.cfg.WeightCompliance*compliance + e.cfg.WeightSymmetry*symmetry
	total := e.cfg.WeightCompliance + e.cfg.WeightSymmetry

	if effort != nil {
		weighted += e.cfg.WeightEffort * *effort
		total += e.cfg.WeightEffort
	}
	if game != nil {
		weighted += e.cfg.WeightGame * *game
		total += e.cfg.WeightGame
	}
	if total <= 0 {
		return 0
	}
	return weighted / total
}

// symmetryScore measures bilateral balance of the ungated muscle scores.
func symmetryScore(left, right float64) float64 {
	if left+right == 0 {
		return 0
	}
	return (1 - math.Abs(left-right)/(left+right)) * 100
}

// bfrSafetyGate returns the multiplicative gate and the compliance flag.
// Absent pressure data means a non-BFR session: gate open, compliant.
func bfrSafetyGate(pressureAOP *float64) (gate float64, compliant bool) {
	if pressureAOP == nil {
		return 1.0, true
	}
	p := *pressureAOP
	if p >= config.BFRPressureMinAOP && p <= config.BFRPressureMaxAOP {
		return 1.0, true
	}
	return 0.0, false
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
