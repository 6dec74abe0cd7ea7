package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// analyticsRepo implements persistence.AnalyticsRepo for PostgreSQL.
type analyticsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAnalyticsRepo creates the PostgreSQL channel-analytics repository.
func NewAnalyticsRepo(db *sqlx.DB, timeout time.Duration) persistence.AnalyticsRepo {
	return &analyticsRepo{db: db, timeout: timeout}
}

const analyticsColumns = `
	session_id, channel_name, total_contractions, mvc_compliant_count,
	duration_compliant_count, good_contraction_count, max_amplitude,
	avg_amplitude, avg_peak_amplitude, min_duration_ms, max_duration_ms,
	avg_duration_ms, total_time_under_tension_ms, rms, mav, mpf, mdf,
	fatigue_index, signal_quality_score, mvc_threshold, mvc_value,
	mvc_estimation_method, duration_threshold_ms, contractions,
	temporal_stats, created_at`

func (r *analyticsRepo) UpsertBatch(ctx context.Context, rows []persistence.ChannelAnalyticsRow) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_analytics
			(session_id, channel_name, total_contractions, mvc_compliant_count,
			 duration_compliant_count, good_contraction_count, max_amplitude,
			 avg_amplitude, avg_peak_amplitude, min_duration_ms, max_duration_ms,
			 avg_duration_ms, total_time_under_tension_ms, rms, mav, mpf, mdf,
			 fatigue_index, signal_quality_score, mvc_threshold, mvc_value,
			 mvc_estimation_method, duration_threshold_ms, contractions, temporal_stats)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (session_id, channel_name) DO UPDATE SET
			total_contractions = EXCLUDED.total_contractions,
			mvc_compliant_count = EXCLUDED.mvc_compliant_count,
			duration_compliant_count = EXCLUDED.duration_compliant_count,
			good_contraction_count = EXCLUDED.good_contraction_count,
			max_amplitude = EXCLUDED.max_amplitude,
			avg_amplitude = EXCLUDED.avg_amplitude,
			avg_peak_amplitude = EXCLUDED.avg_peak_amplitude,
			min_duration_ms = EXCLUDED.min_duration_ms,
			max_duration_ms = EXCLUDED.max_duration_ms,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			total_time_under_tension_ms = EXCLUDED.total_time_under_tension_ms,
			rms = EXCLUDED.rms,
			mav = EXCLUDED.mav,
			mpf = EXCLUDED.mpf,
			mdf = EXCLUDED.mdf,
			fatigue_index = EXCLUDED.fatigue_index,
			signal_quality_score = EXCLUDED.signal_quality_score,
			mvc_threshold = EXCLUDED.mvc_threshold,
			mvc_value = EXCLUDED.mvc_value,
			mvc_estimation_method = EXCLUDED.mvc_estimation_method,
			duration_threshold_ms = EXCLUDED.duration_threshold_ms,
			contractions = EXCLUDED.contractions,
			temporal_stats = EXCLUDED.temporal_stats`)
	if err != nil {
		return fmt.Errorf("failed to prepare analytics upsert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err := stmt.ExecContext(ctx,
			row.SessionID, row.ChannelName, row.TotalContractions,
			row.MVCCompliantCount, row.DurationCompliantCount,
			row.GoodContractionCount, row.MaxAmplitude, row.AvgAmplitude,
			row.AvgPeakAmplitude, row.MinDurationMs, row.MaxDurationMs,
			row.AvgDurationMs, row.TotalTimeUnderTensionMs, row.RMS, row.MAV,
			row.MPF, row.MDF, row.FatigueIndex, row.SignalQualityScore,
			row.MVCThreshold, row.MVCValue, row.MVCEstimationMethod,
			row.DurationThresholdMs, nullableJSON(row.Contractions),
			nullableJSON(row.TemporalStats))
		if err != nil {
			return fmt.Errorf("failed to upsert analytics for channel %s: %w", row.ChannelName, err)
		}
	}

	return tx.Commit()
}

func (r *analyticsRepo) ListBySession(ctx context.Context, sessionID string) ([]persistence.ChannelAnalyticsRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+analyticsColumns+` FROM channel_analytics
		 WHERE session_id = $1 ORDER BY channel_name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel analytics: %w", err)
	}
	defer rows.Close()

	var out []persistence.ChannelAnalyticsRow
	for rows.Next() {
		var row persistence.ChannelAnalyticsRow
		err := rows.Scan(
			&row.SessionID, &row.ChannelName, &row.TotalContractions,
			&row.MVCCompliantCount, &row.DurationCompliantCount,
			&row.GoodContractionCount, &row.MaxAmplitude, &row.AvgAmplitude,
			&row.AvgPeakAmplitude, &row.MinDurationMs, &row.MaxDurationMs,
			&row.AvgDurationMs, &row.TotalTimeUnderTensionMs, &row.RMS,
			&row.MAV, &row.MPF, &row.MDF, &row.FatigueIndex,
			&row.SignalQualityScore, &row.MVCThreshold, &row.MVCValue,
			&row.MVCEstimationMethod, &row.DurationThresholdMs,
			&row.Contractions, &row.TemporalStats, &row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel analytics: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel analytics: %w", err)
	}
	return out, nil
}
