package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

const uniqueViolation = "23505"

// sessionRepo implements persistence.SessionRepo for PostgreSQL.
type sessionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSessionRepo creates the PostgreSQL session repository.
func NewSessionRepo(db *sqlx.DB, timeout time.Duration) persistence.SessionRepo {
	return &sessionRepo{db: db, timeout: timeout}
}

const sessionColumns = `
	id, code, patient_id, therapist_id, file_hash, file_name, bucket,
	object_name, file_size_bytes, status, processing_error_message,
	processing_error, scoring_config_id, technical_data, game_metadata,
	performance_analysis, session_date, created_at, updated_at, processed_at`

func (r *sessionRepo) Insert(ctx context.Context, s *persistence.Session) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO therapy_sessions
			(id, code, patient_id, therapist_id, file_hash, file_name,
			 bucket, object_name, file_size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		s.ID, s.Code, s.PatientID, s.TherapistID, s.FileHash, s.FileName,
		s.Bucket, s.ObjectName, s.FileSizeBytes, persistence.StatusPending).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("hash %s: %w", s.FileHash, persistence.ErrDuplicateHash)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	s.Status = persistence.StatusPending
	return nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*persistence.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx,
		`SELECT `+sessionColumns+` FROM therapy_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *sessionRepo) GetByHash(ctx context.Context, hash string) (*persistence.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx,
		`SELECT `+sessionColumns+` FROM therapy_sessions WHERE file_hash = $1`, hash)
	return scanSession(row)
}

func (r *sessionRepo) List(ctx context.Context, patientID string, limit int) ([]persistence.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var rows *sqlx.Rows
	var err error
	if patientID == "" {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+sessionColumns+` FROM therapy_sessions ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx,
			`SELECT `+sessionColumns+` FROM therapy_sessions
			 WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`, patientID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []persistence.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, id, status string, errorMessage *string, structured []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Terminal rows never transition again; the WHERE clause makes the
	// monotonic rule atomic instead of read-then-write.
	query := `
		UPDATE therapy_sessions
		SET status = $2,
		    processing_error_message = $3,
		    processing_error = $4,
		    processed_at = CASE WHEN $2 IN ('completed', 'failed') THEN now() ELSE processed_at END,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`

	res, err := r.db.ExecContext(ctx, query, id, status, errorMessage, nullableJSON(structured))
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.Terminal() {
			return fmt.Errorf("session %s in %s: %w", id, existing.Status, persistence.ErrTerminalStatus)
		}
		return fmt.Errorf("session %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *sessionRepo) SetTechnicalData(ctx context.Context, id string, td persistence.TechnicalData) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(td)
	if err != nil {
		return fmt.Errorf("failed to marshal technical data: %w", err)
	}
	return r.exec(ctx,
		`UPDATE therapy_sessions SET technical_data = $2, updated_at = now() WHERE id = $1`,
		id, data)
}

func (r *sessionRepo) MergeGameMetadata(ctx context.Context, id string, md map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal game metadata: %w", err)
	}
	return r.exec(ctx,
		`UPDATE therapy_sessions
		 SET game_metadata = COALESCE(game_metadata, '{}'::jsonb) || $2::jsonb,
		     updated_at = now()
		 WHERE id = $1`,
		id, data)
}

func (r *sessionRepo) SetSessionDate(ctx context.Context, id string, date time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return r.exec(ctx,
		`UPDATE therapy_sessions SET session_date = $2, updated_at = now() WHERE id = $1`,
		id, date.UTC())
}

func (r *sessionRepo) SetPerformanceAnalysis(ctx context.Context, id string, pa map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := json.Marshal(pa)
	if err != nil {
		return fmt.Errorf("failed to marshal performance analysis: %w", err)
	}
	return r.exec(ctx,
		`UPDATE therapy_sessions SET performance_analysis = $2, updated_at = now() WHERE id = $1`,
		id, data)
}

func (r *sessionRepo) AssignScoringConfig(ctx context.Context, id, configID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET scoring_config_id = $2, updated_at = now()
		 WHERE id = $1 AND scoring_config_id IS NULL`,
		id, configID)
	if err != nil {
		return fmt.Errorf("failed to assign scoring config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		existing, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing.ScoringConfigID != nil {
			if *existing.ScoringConfigID == configID {
				return nil // idempotent re-assignment of the same snapshot
			}
			return fmt.Errorf("session %s: %w", id, persistence.ErrConfigAssigned)
		}
		return fmt.Errorf("session %s: %w", id, persistence.ErrNotFound)
	}
	return nil
}

func (r *sessionRepo) NextSessionCode(ctx context.Context, patientID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Single-statement counter bump: concurrent creations for one patient
	// serialize on the row and never hand out the same suffix.
	query := `
		INSERT INTO patient_codes (patient_id, next_session)
		VALUES ($1, 1)
		ON CONFLICT (patient_id)
		DO UPDATE SET next_session = patient_codes.next_session + 1
		RETURNING ordinal, next_session`

	var ordinal, seq int
	if err := r.db.QueryRowxContext(ctx, query, patientID).Scan(&ordinal, &seq); err != nil {
		return "", fmt.Errorf("failed to reserve session code: %w", err)
	}
	return fmt.Sprintf("P%03dS%03d", ordinal, seq), nil
}

func (r *sessionRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// rowScanner covers sqlx.Row and sqlx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*persistence.Session, error) {
	var s persistence.Session
	var technicalJSON, gameJSON, perfJSON []byte

	err := row.Scan(
		&s.ID, &s.Code, &s.PatientID, &s.TherapistID, &s.FileHash, &s.FileName,
		&s.Bucket, &s.ObjectName, &s.FileSizeBytes, &s.Status,
		&s.ProcessingErrorMessage, &s.ProcessingError, &s.ScoringConfigID,
		&technicalJSON, &gameJSON, &perfJSON,
		&s.SessionDate, &s.CreatedAt, &s.UpdatedAt, &s.ProcessedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if len(technicalJSON) > 0 {
		var td persistence.TechnicalData
		if err := json.Unmarshal(technicalJSON, &td); err != nil {
			return nil, fmt.Errorf("failed to unmarshal technical data: %w", err)
		}
		s.TechnicalData = &td
	}
	if len(gameJSON) > 0 {
		if err := json.Unmarshal(gameJSON, &s.GameMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal game metadata: %w", err)
		}
	}
	if len(perfJSON) > 0 {
		if err := json.Unmarshal(perfJSON, &s.PerformanceAnalysis); err != nil {
			return nil, fmt.Errorf("failed to unmarshal performance analysis: %w", err)
		}
	}
	return &s, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
