package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// bfrRepo implements persistence.BFRRepo for PostgreSQL.
type bfrRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBFRRepo creates the PostgreSQL pressure-monitoring repository.
func NewBFRRepo(db *sqlx.DB, timeout time.Duration) persistence.BFRRepo {
	return &bfrRepo{db: db, timeout: timeout}
}

func (r *bfrRepo) Upsert(ctx context.Context, row persistence.BFRMonitoring) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO bfr_monitoring
			(session_id, channel, target_pressure_aop, actual_pressure_aop,
			 cuff_pressure_mmhg, systolic_bp, diastolic_bp, manual_compliance,
			 safety_compliant, measurement_method, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, channel) DO UPDATE SET
			target_pressure_aop = EXCLUDED.target_pressure_aop,
			actual_pressure_aop = EXCLUDED.actual_pressure_aop,
			cuff_pressure_mmhg = EXCLUDED.cuff_pressure_mmhg,
			systolic_bp = EXCLUDED.systolic_bp,
			diastolic_bp = EXCLUDED.diastolic_bp,
			manual_compliance = EXCLUDED.manual_compliance,
			safety_compliant = EXCLUDED.safety_compliant,
			measurement_method = EXCLUDED.measurement_method,
			measured_at = EXCLUDED.measured_at`

	_, err := r.db.ExecContext(ctx, query,
		row.SessionID, row.Channel, row.TargetPressureAOP, row.ActualPressureAOP,
		row.CuffPressureMmHg, row.SystolicBP, row.DiastolicBP,
		row.ManualCompliance, row.SafetyCompliant, row.MeasurementMethod,
		row.MeasuredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert bfr monitoring for channel %s: %w", row.Channel, err)
	}
	return nil
}

func (r *bfrRepo) ListBySession(ctx context.Context, sessionID string) ([]persistence.BFRMonitoring, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []persistence.BFRMonitoring
	err := r.db.SelectContext(ctx, &rows, `
		SELECT session_id, channel, target_pressure_aop, actual_pressure_aop,
		       cuff_pressure_mmhg, systolic_bp, diastolic_bp, manual_compliance,
		       safety_compliant, measurement_method, measured_at
		FROM bfr_monitoring WHERE session_id = $1 ORDER BY channel`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bfr monitoring: %w", err)
	}
	return rows, nil
}
