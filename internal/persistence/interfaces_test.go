package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTerminal(t *testing.T) {
	tests := []struct {
		status   string
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			s := Session{Status: tt.status}
			assert.Equal(t, tt.terminal, s.Terminal())
		})
	}
}

func TestSessionModel(t *testing.T) {
	msg := "parse failed"
	s := Session{
		ID:                     "8b6c2e9a-1f7d-4c3a-9e5b-2d8f4a6c1e3b",
		Code:                   "P003S012",
		PatientID:              "P003",
		FileHash:               "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		FileName:               "Ghostly_Game_Level_1.c3d",
		FileSizeBytes:          1_234_567,
		Status:                 StatusFailed,
		ProcessingErrorMessage: &msg,
		CreatedAt:              time.Now(),
	}

	assert.Len(t, s.FileHash, 64, "content hash is hex SHA-256")
	assert.Regexp(t, `^P\d{3}S\d{3}$`, s.Code)
	require.NotNil(t, s.ProcessingErrorMessage)
	assert.True(t, s.Terminal())
}

func TestBFRMeasurementMethods(t *testing.T) {
	manual := true
	row := BFRMonitoring{
		SessionID:         "s1",
		Channel:           "CH1",
		ManualCompliance:  &manual,
		MeasurementMethod: MeasurementManual,
		MeasuredAt:        time.Now().UTC(),
	}
	assert.Contains(t, []string{MeasurementSensor, MeasurementManual}, row.MeasurementMethod)
	require.NotNil(t, row.ManualCompliance)
}

func TestHealthCheckStructure(t *testing.T) {
	healthCheck := HealthCheck{
		Healthy: true,
		Errors:  []string{},
		ConnectionPool: map[string]int{
			"open":   5,
			"idle":   10,
			"in_use": 2,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: 45,
	}

	assert.True(t, healthCheck.Healthy)
	assert.Empty(t, healthCheck.Errors)
	assert.Contains(t, healthCheck.ConnectionPool, "open")
	assert.Greater(t, healthCheck.ResponseTimeMS, int64(0))
}

func TestTypedErrorsAreDistinct(t *testing.T) {
	errs := []error{ErrDuplicateHash, ErrNotFound, ErrTerminalStatus, ErrConfigAssigned, ErrDuplicateVersion}
	seen := make(map[string]bool)
	for _, err := range errs {
		require.Error(t, err)
		assert.False(t, seen[err.Error()], "error messages must be distinguishable: %v", err)
		seen[err.Error()] = true
	}
}
