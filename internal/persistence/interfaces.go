// Package persistence defines the artifact-store models and repository
// interfaces. The session orchestrator is the only writer; every other
// component produces data and hands it over.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Session lifecycle states. Transitions are monotonic; completed and failed
// are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// BFR measurement methods.
const (
	MeasurementSensor = "sensor"
	MeasurementManual = "manual"
)

var (
	// ErrDuplicateHash marks an insert that collided with an existing
	// session's content hash. Callers re-read by hash and return that row.
	ErrDuplicateHash = errors.New("persistence: session with identical content hash exists")

	// ErrNotFound marks lookups that matched no row.
	ErrNotFound = errors.New("persistence: not found")

	// ErrTerminalStatus marks a status transition attempted on a session
	// already in a terminal state.
	ErrTerminalStatus = errors.New("persistence: session status is terminal")

	// ErrConfigAssigned marks an attempt to overwrite a session's
	// scoring-config snapshot, which is immutable once set.
	ErrConfigAssigned = errors.New("persistence: scoring config already assigned")

	// ErrDuplicateVersion marks a scoring-configuration insert that collided
	// with an existing version number.
	ErrDuplicateVersion = errors.New("persistence: scoring config version exists")
)

// TechnicalData is the blob recorded on first successful parse.
type TechnicalData struct {
	SamplingRateHz  float64  `json:"sampling_rate_hz"`
	DurationSeconds float64  `json:"duration_seconds"`
	FrameCount      int      `json:"frame_count"`
	ChannelNames    []string `json:"channel_names"`
}

// Session is the root entity. FileHash is the true dedup key; ID is the
// surrogate.
type Session struct {
	ID   string `json:"id" db:"id"`
	Code string `json:"code" db:"code"`

	PatientID   string `json:"patient_id,omitempty" db:"patient_id"`
	TherapistID string `json:"therapist_id,omitempty" db:"therapist_id"`

	FileHash      string `json:"file_hash" db:"file_hash"`
	FileName      string `json:"file_name" db:"file_name"`
	Bucket        string `json:"bucket,omitempty" db:"bucket"`
	ObjectName    string `json:"object_name,omitempty" db:"object_name"`
	FileSizeBytes int64  `json:"file_size_bytes" db:"file_size_bytes"`

	Status                 string  `json:"status" db:"status"`
	ProcessingErrorMessage *string `json:"processing_error_message,omitempty" db:"processing_error_message"`
	ProcessingError        []byte  `json:"-" db:"processing_error"`

	ScoringConfigID *string `json:"scoring_config_id,omitempty" db:"scoring_config_id"`

	TechnicalData       *TechnicalData         `json:"technical_data,omitempty"`
	GameMetadata        map[string]interface{} `json:"game_metadata,omitempty"`
	PerformanceAnalysis map[string]interface{} `json:"performance_analysis,omitempty"`

	SessionDate *time.Time `json:"session_date,omitempty" db:"session_date"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// Terminal reports whether no further status transition is allowed.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// ChannelAnalyticsRow is the persisted per-muscle analytics record, keyed by
// (session, channel_name). Contractions and temporal statistics ride along as
// JSONB documents.
type ChannelAnalyticsRow struct {
	SessionID   string `json:"session_id" db:"session_id"`
	ChannelName string `json:"channel_name" db:"channel_name"`

	TotalContractions      int `json:"total_contractions" db:"total_contractions"`
	MVCCompliantCount      int `json:"mvc_compliant_count" db:"mvc_compliant_count"`
	DurationCompliantCount int `json:"duration_compliant_count" db:"duration_compliant_count"`
	GoodContractionCount   int `json:"good_contraction_count" db:"good_contraction_count"`

	MaxAmplitude     float64 `json:"max_amplitude" db:"max_amplitude"`
	AvgAmplitude     float64 `json:"avg_amplitude" db:"avg_amplitude"`
	AvgPeakAmplitude float64 `json:"avg_peak_amplitude" db:"avg_peak_amplitude"`

	MinDurationMs           float64 `json:"min_duration_ms" db:"min_duration_ms"`
	MaxDurationMs           float64 `json:"max_duration_ms" db:"max_duration_ms"`
	AvgDurationMs           float64 `json:"avg_duration_ms" db:"avg_duration_ms"`
	TotalTimeUnderTensionMs float64 `json:"total_time_under_tension_ms" db:"total_time_under_tension_ms"`

	RMS          float64 `json:"rms" db:"rms"`
	MAV          float64 `json:"mav" db:"mav"`
	MPF          float64 `json:"mpf" db:"mpf"`
	MDF          float64 `json:"mdf" db:"mdf"`
	FatigueIndex float64 `json:"fatigue_index" db:"fatigue_index"`

	SignalQualityScore float64 `json:"signal_quality_score" db:"signal_quality_score"`

	MVCThreshold        *float64 `json:"mvc_threshold,omitempty" db:"mvc_threshold"`
	MVCValue            *float64 `json:"mvc_value,omitempty" db:"mvc_value"`
	MVCEstimationMethod string   `json:"mvc_estimation_method,omitempty" db:"mvc_estimation_method"`
	DurationThresholdMs *float64 `json:"duration_threshold_ms,omitempty" db:"duration_threshold_ms"`

	Contractions  []byte `json:"-" db:"contractions"`
	TemporalStats []byte `json:"-" db:"temporal_stats"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SessionSettings records the clinical intent for a session.
type SessionSettings struct {
	SessionID                   string   `json:"session_id" db:"session_id"`
	MVCThresholdPercentage      float64  `json:"mvc_threshold_percentage" db:"mvc_threshold_percentage"`
	DurationThresholdMs         *float64 `json:"duration_threshold_ms,omitempty" db:"duration_threshold_ms"`
	TargetContractionsPerMuscle int      `json:"target_contractions_per_muscle" db:"target_contractions_per_muscle"`
	BFREnabled                  bool     `json:"bfr_enabled" db:"bfr_enabled"`
}

// BFRMonitoring is one channel's pressure record, keyed by (session, channel).
type BFRMonitoring struct {
	SessionID string `json:"session_id" db:"session_id"`
	Channel   string `json:"channel" db:"channel"`

	TargetPressureAOP *float64 `json:"target_pressure_aop,omitempty" db:"target_pressure_aop"`
	ActualPressureAOP *float64 `json:"actual_pressure_aop,omitempty" db:"actual_pressure_aop"`
	CuffPressureMmHg  *float64 `json:"cuff_pressure_mmhg,omitempty" db:"cuff_pressure_mmhg"`

	SystolicBP  *float64 `json:"systolic_bp,omitempty" db:"systolic_bp"`
	DiastolicBP *float64 `json:"diastolic_bp,omitempty" db:"diastolic_bp"`

	ManualCompliance  *bool  `json:"manual_compliance,omitempty" db:"manual_compliance"`
	SafetyCompliant   bool   `json:"safety_compliant" db:"safety_compliant"`
	MeasurementMethod string `json:"measurement_method" db:"measurement_method"`

	MeasuredAt time.Time `json:"measured_at" db:"measured_at"`
}

// PerformanceScoresRow is the persisted scoring result for a session.
type PerformanceScoresRow struct {
	SessionID string `json:"session_id" db:"session_id"`

	OverallScore    float64  `json:"overall_score" db:"overall_score"`
	ComplianceScore float64  `json:"compliance_score" db:"compliance_score"`
	SymmetryScore   float64  `json:"symmetry_score" db:"symmetry_score"`
	EffortScore     *float64 `json:"effort_score,omitempty" db:"effort_score"`
	GameScore       *float64 `json:"game_score,omitempty" db:"game_score"`

	LeftMuscleCompliance  float64 `json:"left_muscle_compliance" db:"left_muscle_compliance"`
	RightMuscleCompliance float64 `json:"right_muscle_compliance" db:"right_muscle_compliance"`

	CompletionRateLeft  float64 `json:"completion_rate_left" db:"completion_rate_left"`
	CompletionRateRight float64 `json:"completion_rate_right" db:"completion_rate_right"`
	IntensityRateLeft   float64 `json:"intensity_rate_left" db:"intensity_rate_left"`
	IntensityRateRight  float64 `json:"intensity_rate_right" db:"intensity_rate_right"`
	DurationRateLeft    float64 `json:"duration_rate_left" db:"duration_rate_left"`
	DurationRateRight   float64 `json:"duration_rate_right" db:"duration_rate_right"`

	BFRCompliant   bool     `json:"bfr_compliant" db:"bfr_compliant"`
	BFRPressureAOP *float64 `json:"bfr_pressure_aop,omitempty" db:"bfr_pressure_aop"`
	RPEPostSession *int     `json:"rpe_post_session,omitempty" db:"rpe_post_session"`

	ScoringConfigID string    `json:"scoring_config_id" db:"scoring_config_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// ScoringConfigRow is one versioned scoring rubric. Immutable by convention
// once a session references it.
type ScoringConfigRow struct {
	ID      string `json:"id" db:"id"`
	Version int    `json:"version" db:"version"`
	Name    string `json:"name" db:"name"`
	Active  bool   `json:"active" db:"active"`

	WeightCompliance float64 `json:"weight_compliance" db:"weight_compliance"`
	WeightSymmetry   float64 `json:"weight_symmetry" db:"weight_symmetry"`
	WeightEffort     float64 `json:"weight_effort" db:"weight_effort"`
	WeightGame       float64 `json:"weight_game" db:"weight_game"`

	WeightCompletion float64 `json:"weight_completion" db:"weight_completion"`
	WeightIntensity  float64 `json:"weight_intensity" db:"weight_intensity"`
	WeightDuration   float64 `json:"weight_duration" db:"weight_duration"`

	RPEMapping []byte `json:"-" db:"rpe_mapping"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SessionRepo persists the root entity and its lifecycle.
type SessionRepo interface {
	// Insert creates a pending session. ErrDuplicateHash signals a content
	// collision; the caller re-reads by hash.
	Insert(ctx context.Context, s *Session) error

	GetByID(ctx context.Context, id string) (*Session, error)
	GetByHash(ctx context.Context, hash string) (*Session, error)
	List(ctx context.Context, patientID string, limit int) ([]Session, error)

	// UpdateStatus applies a monotonic transition. Terminal rows are never
	// rewritten; such attempts return ErrTerminalStatus.
	UpdateStatus(ctx context.Context, id, status string, errorMessage *string, structured []byte) error

	SetTechnicalData(ctx context.Context, id string, td TechnicalData) error
	MergeGameMetadata(ctx context.Context, id string, md map[string]interface{}) error
	SetSessionDate(ctx context.Context, id string, date time.Time) error
	SetPerformanceAnalysis(ctx context.Context, id string, pa map[string]interface{}) error

	// AssignScoringConfig sets the snapshot id if and only if none is
	// assigned yet; ErrConfigAssigned otherwise.
	AssignScoringConfig(ctx context.Context, id, configID string) error

	// NextSessionCode reserves the next P###S### code for a patient,
	// atomically with respect to concurrent creations.
	NextSessionCode(ctx context.Context, patientID string) (string, error)
}

// AnalyticsRepo persists per-channel analytics.
type AnalyticsRepo interface {
	// UpsertBatch writes all channels of a session in one transaction,
	// idempotent on (session, channel_name).
	UpsertBatch(ctx context.Context, rows []ChannelAnalyticsRow) error
	ListBySession(ctx context.Context, sessionID string) ([]ChannelAnalyticsRow, error)
}

// ScoresRepo persists performance scores (one row per session).
type ScoresRepo interface {
	Upsert(ctx context.Context, row PerformanceScoresRow) error
	GetBySession(ctx context.Context, sessionID string) (*PerformanceScoresRow, error)
}

// BFRRepo persists per-channel pressure monitoring with composite-key upsert.
type BFRRepo interface {
	Upsert(ctx context.Context, row BFRMonitoring) error
	ListBySession(ctx context.Context, sessionID string) ([]BFRMonitoring, error)
}

// SettingsRepo persists session settings (one row per session).
type SettingsRepo interface {
	Upsert(ctx context.Context, s SessionSettings) error
	GetBySession(ctx context.Context, sessionID string) (*SessionSettings, error)
}

// ParamsRepo persists the processing-parameters snapshot.
type ParamsRepo interface {
	Upsert(ctx context.Context, sessionID string, params ProcessingParamsRow) error
	GetBySession(ctx context.Context, sessionID string) (*ProcessingParamsRow, error)
}

// ProcessingParamsRow snapshots the conditioning configuration used.
type ProcessingParamsRow struct {
	SessionID              string  `json:"session_id" db:"session_id"`
	SamplingRateHz         float64 `json:"sampling_rate_hz" db:"sampling_rate_hz"`
	FilterLowCutHz         float64 `json:"filter_low_cut_hz" db:"filter_low_cut_hz"`
	FilterHighCutHz        float64 `json:"filter_high_cut_hz" db:"filter_high_cut_hz"`
	FilterOrder            int     `json:"filter_order" db:"filter_order"`
	RMSWindowMs            float64 `json:"rms_window_ms" db:"rms_window_ms"`
	RMSOverlap             float64 `json:"rms_overlap" db:"rms_overlap"`
	MVCWindowMs            float64 `json:"mvc_window_ms" db:"mvc_window_ms"`
	MVCThresholdPercentage float64 `json:"mvc_threshold_percentage" db:"mvc_threshold_percentage"`
	Version                string  `json:"processing_version" db:"processing_version"`
}

// ConfigRepo persists versioned scoring configurations.
type ConfigRepo interface {
	GetByID(ctx context.Context, id string) (*ScoringConfigRow, error)
	Active(ctx context.Context) (*ScoringConfigRow, error)

	// PreferredForPatient returns the patient's preferred rubric, or
	// ErrNotFound when no preference is recorded.
	PreferredForPatient(ctx context.Context, patientID string) (*ScoringConfigRow, error)

	Insert(ctx context.Context, row *ScoringConfigRow) error

	// EnsureSeed installs the default rubric when the table is empty and
	// returns the active seed row.
	EnsureSeed(ctx context.Context, seed ScoringConfigRow) (*ScoringConfigRow, error)
}

// Repository aggregates the artifact-store interfaces.
type Repository struct {
	Sessions  SessionRepo
	Analytics AnalyticsRepo
	Scores    ScoresRepo
	BFR       BFRRepo
	Settings  SettingsRepo
	Params    ParamsRepo
	Configs   ConfigRepo
}

// HealthCheck reports store health for the health endpoint.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth monitors the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
