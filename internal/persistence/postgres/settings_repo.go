package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// settingsRepo implements persistence.SettingsRepo for PostgreSQL.
type settingsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSettingsRepo creates the PostgreSQL session-settings repository.
func NewSettingsRepo(db *sqlx.DB, timeout time.Duration) persistence.SettingsRepo {
	return &settingsRepo{db: db, timeout: timeout}
}

func (r *settingsRepo) Upsert(ctx context.Context, s persistence.SessionSettings) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO session_settings
			(session_id, mvc_threshold_percentage, duration_threshold_ms,
			 target_contractions_per_muscle, bfr_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			mvc_threshold_percentage = EXCLUDED.mvc_threshold_percentage,
			duration_threshold_ms = EXCLUDED.duration_threshold_ms,
			target_contractions_per_muscle = EXCLUDED.target_contractions_per_muscle,
			bfr_enabled = EXCLUDED.bfr_enabled`

	_, err := r.db.ExecContext(ctx, query,
		s.SessionID, s.MVCThresholdPercentage, s.DurationThresholdMs,
		s.TargetContractionsPerMuscle, s.BFREnabled)
	if err != nil {
		return fmt.Errorf("failed to upsert session settings: %w", err)
	}
	return nil
}

func (r *settingsRepo) GetBySession(ctx context.Context, sessionID string) (*persistence.SessionSettings, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var s persistence.SessionSettings
	err := r.db.GetContext(ctx, &s, `
		SELECT session_id, mvc_threshold_percentage, duration_threshold_ms,
		       target_contractions_per_muscle, bfr_enabled
		FROM session_settings WHERE session_id = $1`, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session settings: %w", err)
	}
	return &s, nil
}
