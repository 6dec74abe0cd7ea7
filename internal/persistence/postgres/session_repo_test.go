package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "postgres"), mock
}

func TestSessionInsert_DuplicateHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectQuery("INSERT INTO therapy_sessions").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	s := &persistence.Session{
		ID:       "5f9a2c1e-0000-0000-0000-000000000001",
		Code:     "P001S001",
		FileHash: "abc123",
	}
	err := repo.Insert(context.Background(), s)
	assert.ErrorIs(t, err, persistence.ErrDuplicateHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionInsert_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	now := time.Now()
	mock.ExpectQuery("INSERT INTO therapy_sessions").
		WithArgs("id-1", "P001S001", "P001", "", "hash-1", "session.c3d",
			"c3d-examples", "P001/session.c3d", int64(1024), persistence.StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	s := &persistence.Session{
		ID:            "id-1",
		Code:          "P001S001",
		PatientID:     "P001",
		FileHash:      "hash-1",
		FileName:      "session.c3d",
		Bucket:        "c3d-examples",
		ObjectName:    "P001/session.c3d",
		FileSizeBytes: 1024,
	}
	err := repo.Insert(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, persistence.StatusPending, s.Status)
	assert.Equal(t, now, s.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_TerminalRowRejected(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	// Zero rows affected, then the re-read finds a completed session.
	mock.ExpectExec("UPDATE therapy_sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM therapy_sessions WHERE id").
		WillReturnRows(completedSessionRows())

	err := repo.UpdateStatus(context.Background(), "id-1", persistence.StatusProcessing, nil, nil)
	assert.ErrorIs(t, err, persistence.ErrTerminalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectExec("UPDATE therapy_sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM therapy_sessions WHERE id").
		WillReturnRows(sessionRowColumns())

	err := repo.UpdateStatus(context.Background(), "missing", persistence.StatusProcessing, nil, nil)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Transition(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectExec("UPDATE therapy_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "id-1", persistence.StatusProcessing, nil, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignScoringConfig_AlreadyAssigned(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectExec("UPDATE therapy_sessions SET scoring_config_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM therapy_sessions WHERE id").
		WillReturnRows(assignedSessionRows("cfg-other"))

	err := repo.AssignScoringConfig(context.Background(), "id-1", "cfg-new")
	assert.ErrorIs(t, err, persistence.ErrConfigAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignScoringConfig_IdempotentSameID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectExec("UPDATE therapy_sessions SET scoring_config_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM therapy_sessions WHERE id").
		WillReturnRows(assignedSessionRows("cfg-1"))

	err := repo.AssignScoringConfig(context.Background(), "id-1", "cfg-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSessionCode_Format(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectQuery("INSERT INTO patient_codes").
		WithArgs("patient-42").
		WillReturnRows(sqlmock.NewRows([]string{"ordinal", "next_session"}).AddRow(3, 7))

	code, err := repo.NextSessionCode(context.Background(), "patient-42")
	require.NoError(t, err)
	assert.Equal(t, "P003S007", code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByHash_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT (.+) FROM therapy_sessions WHERE file_hash").
		WillReturnRows(sessionRowColumns())

	_, err := repo.GetByHash(context.Background(), "nope")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoresUpsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewScoresRepo(db, 5*time.Second)

	mock.ExpectExec("INSERT INTO performance_scores").
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := persistence.PerformanceScoresRow{
		SessionID:       "id-1",
		OverallScore:    82.5,
		ComplianceScore: 90,
		SymmetryScore:   88,
		ScoringConfigID: "cfg-1",
	}
	assert.NoError(t, repo.Upsert(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigEnsureSeed_ActiveExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConfigRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT (.+) FROM scoring_configurations").
		WillReturnRows(configRows("cfg-1", 1, true))

	got, err := repo.EnsureSeed(context.Background(), persistence.ScoringConfigRow{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "cfg-1", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigEnsureSeed_EmptyTableInstallsDefault(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConfigRepo(db, 5*time.Second)

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM scoring_configurations").
		WillReturnRows(configRowColumns())
	mock.ExpectQuery("INSERT INTO scoring_configurations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("cfg-seed", now))

	got, err := repo.EnsureSeed(context.Background(), persistence.ScoringConfigRow{
		Version:          1,
		Name:             "GHOSTLY-TRIAL-DEFAULT",
		WeightCompliance: 0.40,
		WeightSymmetry:   0.25,
		WeightEffort:     0.20,
		WeightGame:       0.15,
		WeightCompletion: 0.50,
		WeightIntensity:  0.30,
		WeightDuration:   0.20,
	})
	require.NoError(t, err)
	assert.Equal(t, "cfg-seed", got.ID)
	assert.True(t, got.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigEnsureSeed_LosesRaceRereads(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConfigRepo(db, 5*time.Second)

	mock.ExpectQuery("SELECT (.+) FROM scoring_configurations").
		WillReturnRows(configRowColumns())
	mock.ExpectQuery("INSERT INTO scoring_configurations").
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectQuery("SELECT (.+) FROM scoring_configurations").
		WillReturnRows(configRows("cfg-winner", 1, true))

	got, err := repo.EnsureSeed(context.Background(), persistence.ScoringConfigRow{Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "cfg-winner", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func sessionRowColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "code", "patient_id", "therapist_id", "file_hash", "file_name",
		"bucket", "object_name", "file_size_bytes", "status",
		"processing_error_message", "processing_error", "scoring_config_id",
		"technical_data", "game_metadata", "performance_analysis",
		"session_date", "created_at", "updated_at", "processed_at",
	})
}

func completedSessionRows() *sqlmock.Rows {
	now := time.Now()
	return sessionRowColumns().AddRow(
		"id-1", "P001S001", "P001", "", "hash-1", "session.c3d",
		"", "", int64(0), persistence.StatusCompleted,
		nil, nil, nil, nil, nil, nil, nil, now, now, now)
}

func assignedSessionRows(configID string) *sqlmock.Rows {
	now := time.Now()
	return sessionRowColumns().AddRow(
		"id-1", "P001S001", "P001", "", "hash-1", "session.c3d",
		"", "", int64(0), persistence.StatusProcessing,
		nil, nil, configID, nil, nil, nil, nil, now, now, nil)
}

func configRowColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "version", "name", "active", "weight_compliance",
		"weight_symmetry", "weight_effort", "weight_game", "weight_completion",
		"weight_intensity", "weight_duration", "rpe_mapping", "created_at",
	})
}

func configRows(id string, version int, active bool) *sqlmock.Rows {
	return configRowColumns().AddRow(
		id, version, "GHOSTLY-TRIAL-DEFAULT", active,
		0.40, 0.25, 0.20, 0.15, 0.50, 0.30, 0.20, nil, time.Now())
}
