package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

// configRepo implements persistence.ConfigRepo for PostgreSQL.
type configRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewConfigRepo creates the PostgreSQL scoring-configuration repository.
func NewConfigRepo(db *sqlx.DB, timeout time.Duration) persistence.ConfigRepo {
	return &configRepo{db: db, timeout: timeout}
}

const configColumns = `
	id, version, name, active, weight_compliance, weight_symmetry,
	weight_effort, weight_game, weight_completion, weight_intensity,
	weight_duration, rpe_mapping, created_at`

func (r *configRepo) GetByID(ctx context.Context, id string) (*persistence.ScoringConfigRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.get(ctx, `SELECT `+configColumns+` FROM scoring_configurations WHERE id = $1`, id)
}

func (r *configRepo) Active(ctx context.Context) (*persistence.ScoringConfigRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.get(ctx, `
		SELECT `+configColumns+` FROM scoring_configurations
		WHERE active = true ORDER BY version DESC LIMIT 1`)
}

func (r *configRepo) PreferredForPatient(ctx context.Context, patientID string) (*persistence.ScoringConfigRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.get(ctx, `
		SELECT `+configColumnsPrefixed+`
		FROM scoring_configurations c
		JOIN patient_scoring_preferences p ON p.config_id = c.id
		WHERE p.patient_id = $1`, patientID)
}

const configColumnsPrefixed = `
	c.id, c.version, c.name, c.active, c.weight_compliance, c.weight_symmetry,
	c.weight_effort, c.weight_game, c.weight_completion, c.weight_intensity,
	c.weight_duration, c.rpe_mapping, c.created_at`

func (r *configRepo) Insert(ctx context.Context, row *persistence.ScoringConfigRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO scoring_configurations
			(version, name, active, weight_compliance, weight_symmetry,
			 weight_effort, weight_game, weight_completion, weight_intensity,
			 weight_duration, rpe_mapping)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := r.db.QueryRowxContext(ctx, query,
		row.Version, row.Name, row.Active, row.WeightCompliance,
		row.WeightSymmetry, row.WeightEffort, row.WeightGame,
		row.WeightCompletion, row.WeightIntensity, row.WeightDuration,
		nullableJSON(row.RPEMapping)).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("version %d: %w", row.Version, persistence.ErrDuplicateVersion)
		}
		return fmt.Errorf("failed to insert scoring configuration: %w", err)
	}
	return nil
}

// EnsureSeed installs the default rubric when no active configuration exists.
// The version unique index makes concurrent seeding converge on one row.
func (r *configRepo) EnsureSeed(ctx context.Context, seed persistence.ScoringConfigRow) (*persistence.ScoringConfigRow, error) {
	active, err := r.Active(ctx)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	seed.Active = true
	if insErr := r.Insert(ctx, &seed); insErr != nil {
		if !errors.Is(insErr, persistence.ErrDuplicateVersion) {
			return nil, insErr
		}
		// Lost the race to a concurrent seeder; fall through to re-read.
	} else {
		return &seed, nil
	}
	return r.Active(ctx)
}

func (r *configRepo) get(ctx context.Context, query string, args ...interface{}) (*persistence.ScoringConfigRow, error) {
	var row persistence.ScoringConfigRow
	err := r.db.QueryRowxContext(ctx, query, args...).Scan(
		&row.ID, &row.Version, &row.Name, &row.Active,
		&row.WeightCompliance, &row.WeightSymmetry, &row.WeightEffort,
		&row.WeightGame, &row.WeightCompletion, &row.WeightIntensity,
		&row.WeightDuration, &row.RPEMapping, &row.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scoring configuration: %w", err)
	}
	return &row, nil
}
