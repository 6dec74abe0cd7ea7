package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// scoresRepo implements persistence.ScoresRepo for PostgreSQL.
type scoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoresRepo creates the PostgreSQL performance-scores repository.
func NewScoresRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoresRepo {
	return &scoresRepo{db: db, timeout: timeout}
}

func (r *scoresRepo) Upsert(ctx context.Context, row persistence.PerformanceScoresRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO performance_scores
			(session_id, overall_score, compliance_score, symmetry_score,
			 effort_score, game_score, left_muscle_compliance,
			 right_muscle_compliance, completion_rate_left, completion_rate_right,
			 intensity_rate_left, intensity_rate_right, duration_rate_left,
			 duration_rate_right, bfr_compliant, bfr_pressure_aop,
			 rpe_post_session, scoring_config_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18)
		ON CONFLICT (session_id) DO UPDATE SET
			overall_score = EXCLUDED.overall_score,
			compliance_score = EXCLUDED.compliance_score,
			symmetry_score = EXCLUDED.symmetry_score,
			effort_score = EXCLUDED.effort_score,
			game_score = EXCLUDED.game_score,
			left_muscle_compliance = EXCLUDED.left_muscle_compliance,
			right_muscle_compliance = EXCLUDED.right_muscle_compliance,
			completion_rate_left = EXCLUDED.completion_rate_left,
			completion_rate_right = EXCLUDED.completion_rate_right,
			intensity_rate_left = EXCLUDED.intensity_rate_left,
			intensity_rate_right = EXCLUDED.intensity_rate_right,
			duration_rate_left = EXCLUDED.duration_rate_left,
			duration_rate_right = EXCLUDED.duration_rate_right,
			bfr_compliant = EXCLUDED.bfr_compliant,
			bfr_pressure_aop = EXCLUDED.bfr_pressure_aop,
			rpe_post_session = EXCLUDED.rpe_post_session,
			scoring_config_id = EXCLUDED.scoring_config_id`

	_, err := r.db.ExecContext(ctx, query,
		row.SessionID, row.OverallScore, row.ComplianceScore, row.SymmetryScore,
		row.EffortScore, row.GameScore, row.LeftMuscleCompliance,
		row.RightMuscleCompliance, row.CompletionRateLeft, row.CompletionRateRight,
		row.IntensityRateLeft, row.IntensityRateRight, row.DurationRateLeft,
		row.DurationRateRight, row.BFRCompliant, row.BFRPressureAOP,
		row.RPEPostSession, row.ScoringConfigID)
	if err != nil {
		return fmt.Errorf("failed to upsert performance scores: %w", err)
	}
	return nil
}

func (r *scoresRepo) GetBySession(ctx context.Context, sessionID string) (*persistence.PerformanceScoresRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.PerformanceScoresRow
	err := r.db.GetContext(ctx, &row, `
		SELECT session_id, overall_score, compliance_score, symmetry_score,
		       effort_score, game_score, left_muscle_compliance,
		       right_muscle_compliance, completion_rate_left,
		       completion_rate_right, intensity_rate_left, intensity_rate_right,
		       duration_rate_left, duration_rate_right, bfr_compliant,
		       bfr_pressure_aop, rpe_post_session, scoring_config_id, created_at
		FROM performance_scores WHERE session_id = $1`, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get performance scores: %w", err)
	}
	return &row, nil
}
