package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// paramsRepo implements persistence.ParamsRepo for PostgreSQL.
type paramsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewParamsRepo creates the PostgreSQL processing-parameters repository.
func NewParamsRepo(db *sqlx.DB, timeout time.Duration) persistence.ParamsRepo {
	return &paramsRepo{db: db, timeout: timeout}
}

func (r *paramsRepo) Upsert(ctx context.Context, sessionID string, p persistence.ProcessingParamsRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO processing_parameters
			(session_id, sampling_rate_hz, filter_low_cut_hz, filter_high_cut_hz,
			 filter_order, rms_window_ms, rms_overlap, mvc_window_ms,
			 mvc_threshold_percentage, processing_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			sampling_rate_hz = EXCLUDED.sampling_rate_hz,
			filter_low_cut_hz = EXCLUDED.filter_low_cut_hz,
			filter_high_cut_hz = EXCLUDED.filter_high_cut_hz,
			filter_order = EXCLUDED.filter_order,
			rms_window_ms = EXCLUDED.rms_window_ms,
			rms_overlap = EXCLUDED.rms_overlap,
			mvc_window_ms = EXCLUDED.mvc_window_ms,
			mvc_threshold_percentage = EXCLUDED.mvc_threshold_percentage,
			processing_version = EXCLUDED.processing_version`

	_, err := r.db.ExecContext(ctx, query,
		sessionID, p.SamplingRateHz, p.FilterLowCutHz, p.FilterHighCutHz,
		p.FilterOrder, p.RMSWindowMs, p.RMSOverlap, p.MVCWindowMs,
		p.MVCThresholdPercentage, p.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert processing parameters: %w", err)
	}
	return nil
}

func (r *paramsRepo) GetBySession(ctx context.Context, sessionID string) (*persistence.ProcessingParamsRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var p persistence.ProcessingParamsRow
	err := r.db.GetContext(ctx, &p, `
		SELECT session_id, sampling_rate_hz, filter_low_cut_hz,
		       filter_high_cut_hz, filter_order, rms_window_ms, rms_overlap,
		       mvc_window_ms, mvc_threshold_percentage, processing_version
		FROM processing_parameters WHERE session_id = $1`, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get processing parameters: %w", err)
	}
	return &p, nil
}
