// Package session orchestrates the lifecycle of a therapy session: creation
// with content-hash deduplication, the processing state machine, derived-data
// fan-out, and recalculation from stored analytics. The orchestrator is the
// only writer to the artifact store; every other component produces data.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/cache"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/scoring"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/storage"
)

// CreateRequest describes an incoming recording. Data may be nil for
// webhook-triggered sessions; the orchestrator then fetches the object to
// compute the content hash.
type CreateRequest struct {
	PatientID   string
	TherapistID string
	FileName    string
	Bucket      string
	ObjectName  string
	Data        []byte
}

// BFRInput is one cuff-pressure observation handed in with processing.
type BFRInput struct {
	Channel           string
	TargetPressureAOP *float64
	ActualPressureAOP *float64
	CuffPressureMmHg  *float64
	SystolicBP        *float64
	DiastolicBP       *float64
	ManualCompliance  *bool
	MeasurementMethod string
}

// ProcessOptions carries the clinical context for one processing run beyond
// the signal parameters.
type ProcessOptions struct {
	Params pipeline.SessionParams

	RPEPostSession     *int
	GamePointsAchieved *float64
	GamePointsMax      *float64

	BFR []BFRInput
}

// Orchestrator drives sessions through pending → processing → terminal.
type Orchestrator struct {
	repos     *persistence.Repository
	store     storage.BlobStore
	cache     *cache.AnalyticsCache
	processor *pipeline.Processor
	hub       *Hub
	log       zerolog.Logger
}

// New wires the orchestrator. Cache and hub may be nil; both are optional
// observers of the workflow.
func New(repos *persistence.Repository, store storage.BlobStore, analyticsCache *cache.AnalyticsCache, processor *pipeline.Processor, hub *Hub, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		repos:     repos,
		store:     store,
		cache:     analyticsCache,
		processor: processor,
		hub:       hub,
		log:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// CreateSession registers a recording, deduplicating by content hash. It
// returns the session and whether this call created it. A hash collision
// returns the existing row without re-processing.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateRequest) (*persistence.Session, bool, error) {
	data := req.Data
	if data == nil {
		var err error
		data, err = o.store.Fetch(ctx, req.Bucket, req.ObjectName)
		if err != nil {
			return nil, false, err
		}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if existing, err := o.repos.Sessions.GetByHash(ctx, hash); err == nil {
		o.log.Info().Str("session_id", existing.ID).Str("hash", hash[:12]).
			Msg("duplicate upload, returning existing session")
		return existing, false, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, false, err
	}

	patientKey := req.PatientID
	if patientKey == "" {
		patientKey = "unassigned"
	}
	code, err := o.repos.Sessions.NextSessionCode(ctx, patientKey)
	if err != nil {
		return nil, false, err
	}

	s := &persistence.Session{
		ID:            uuid.New().String(),
		Code:          code,
		PatientID:     req.PatientID,
		TherapistID:   req.TherapistID,
		FileHash:      hash,
		FileName:      req.FileName,
		Bucket:        req.Bucket,
		ObjectName:    req.ObjectName,
		FileSizeBytes: int64(len(data)),
	}
	if err := o.repos.Sessions.Insert(ctx, s); err != nil {
		if errors.Is(err, persistence.ErrDuplicateHash) {
			// Lost the race to a concurrent creation with the same bytes.
			existing, getErr := o.repos.Sessions.GetByHash(ctx, hash)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	o.publish(s.ID, persistence.StatusPending, nil)
	o.log.Info().Str("session_id", s.ID).Str("code", code).
		Int64("size_bytes", s.FileSizeBytes).Msg("session created")
	return s, true, nil
}

// ProcessSession runs the full compute-and-persist workflow. The completed
// transition is deferred until every derived write has landed, so no reader
// observes scores without analytics.
func (o *Orchestrator) ProcessSession(ctx context.Context, sessionID string, opts ProcessOptions) error {
	s, err := o.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Terminal() {
		return fmt.Errorf("session %s: %w", sessionID, persistence.ErrTerminalStatus)
	}

	if err := o.repos.Sessions.UpdateStatus(ctx, sessionID, persistence.StatusProcessing, nil, nil); err != nil {
		return err
	}
	o.publish(sessionID, persistence.StatusProcessing, nil)

	data, err := o.store.Fetch(ctx, s.Bucket, s.ObjectName)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) || ctx.Err() != nil {
			// Backend outage or cancellation: leave the session in
			// processing so a retry can pick it up.
			o.log.Warn().Str("session_id", sessionID).Err(err).
				Msg("transient fetch failure, session left retryable")
			return err
		}
		return o.fail(ctx, sessionID, pipeline.ClassifyError(err, s.FileName, s.FileSizeBytes))
	}

	result, err := o.processor.Process(data, opts.Params, s.FileName)
	if err != nil {
		return o.fail(ctx, sessionID, pipeline.ClassifyError(err, s.FileName, s.FileSizeBytes))
	}

	if err := o.persistDerived(ctx, s, result, opts); err != nil {
		return o.fail(ctx, sessionID, pipeline.ClassifyError(err, s.FileName, s.FileSizeBytes))
	}

	if err := o.repos.Sessions.UpdateStatus(ctx, sessionID, persistence.StatusCompleted, nil, nil); err != nil {
		return err
	}
	o.publish(sessionID, persistence.StatusCompleted, nil)
	o.log.Info().Str("session_id", sessionID).
		Int("channels", len(result.Channels)).Msg("session completed")
	return nil
}

// persistDerived fans the pipeline result into the artifact store and the
// cache. Scoring failures do not abort: analytics stand, the session
// completes, and performance_analysis records the fallback.
func (o *Orchestrator) persistDerived(ctx context.Context, s *persistence.Session, result *pipeline.Result, opts ProcessOptions) error {
	sessionID := s.ID

	if err := o.repos.Sessions.SetTechnicalData(ctx, sessionID, persistence.TechnicalData{
		SamplingRateHz:  result.Metadata.SamplingRateHz,
		DurationSeconds: result.Metadata.DurationSeconds,
		FrameCount:      result.Metadata.FrameCount,
		ChannelNames:    result.Metadata.ChannelNames,
	}); err != nil {
		return err
	}

	if md := gameMetadataMap(result); len(md) > 0 {
		if err := o.repos.Sessions.MergeGameMetadata(ctx, sessionID, md); err != nil {
			return err
		}
	}
	if result.Metadata.Game.TimeKnown {
		if err := o.repos.Sessions.SetSessionDate(ctx, sessionID, result.Metadata.Game.SessionTime); err != nil {
			return err
		}
	}

	if err := o.repos.Params.Upsert(ctx, sessionID, persistence.ProcessingParamsRow{
		SessionID:              sessionID,
		SamplingRateHz:         result.Params.SamplingRateHz,
		FilterLowCutHz:         result.Params.FilterLowCutHz,
		FilterHighCutHz:        result.Params.FilterHighCutHz,
		FilterOrder:            result.Params.FilterOrder,
		RMSWindowMs:            result.Params.RMSWindowMs,
		RMSOverlap:             result.Params.RMSOverlap,
		MVCWindowMs:            result.Params.MVCWindowMs,
		MVCThresholdPercentage: result.Params.MVCThresholdPercentage,
		Version:                result.Params.Version,
	}); err != nil {
		return err
	}

	rows, err := analyticsRows(sessionID, result.Channels)
	if err != nil {
		return err
	}
	if err := o.repos.Analytics.UpsertBatch(ctx, rows); err != nil {
		return err
	}

	expected := opts.Params.ExpectedContractionsPerMuscle
	if expected <= 0 {
		expected = config.ExpectedContractionsPerMuscle
	}
	if err := o.repos.Settings.Upsert(ctx, persistence.SessionSettings{
		SessionID:                   sessionID,
		MVCThresholdPercentage:      opts.Params.ThresholdPct(),
		DurationThresholdMs:         opts.Params.DurationThresholdMs,
		TargetContractionsPerMuscle: expected,
		BFREnabled:                  opts.Params.BFREnabled,
	}); err != nil {
		return err
	}

	bfrPressure, err := o.persistBFR(ctx, sessionID, opts.BFR)
	if err != nil {
		return err
	}

	if scoreErr := o.scoreAndPersist(ctx, s, result, opts, expected, bfrPressure); scoreErr != nil {
		o.log.Error().Str("session_id", sessionID).Err(scoreErr).
			Msg("scoring failed, completing session in fallback mode")
		if err := o.repos.Sessions.SetPerformanceAnalysis(ctx, sessionID, map[string]interface{}{
			"error":         scoreErr.Error(),
			"fallback_mode": true,
		}); err != nil {
			return err
		}
	}

	o.cacheAnalytics(ctx, sessionID, result, expected)
	return nil
}

// persistBFR upserts per-channel pressure rows and returns the mean actual
// pressure for the scoring gate, or nil when no observations carry one.
func (o *Orchestrator) persistBFR(ctx context.Context, sessionID string, inputs []BFRInput) (*float64, error) {
	var sum float64
	var n int
	for _, in := range inputs {
		method := in.MeasurementMethod
		if method == "" {
			method = persistence.MeasurementSensor
		}
		compliant := bfrCompliant(in, method)
		if err := o.repos.BFR.Upsert(ctx, persistence.BFRMonitoring{
			SessionID:         sessionID,
			Channel:           in.Channel,
			TargetPressureAOP: in.TargetPressureAOP,
			ActualPressureAOP: in.ActualPressureAOP,
			CuffPressureMmHg:  in.CuffPressureMmHg,
			SystolicBP:        in.SystolicBP,
			DiastolicBP:       in.DiastolicBP,
			ManualCompliance:  in.ManualCompliance,
			SafetyCompliant:   compliant,
			MeasurementMethod: method,
			MeasuredAt:        time.Now().UTC(),
		}); err != nil {
			return nil, err
		}
		if in.ActualPressureAOP != nil {
			sum += *in.ActualPressureAOP
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	mean := sum / float64(n)
	return &mean, nil
}

// bfrCompliant evaluates one observation. Sensor readings are judged against
// the outer safety window; the tighter therapeutic window only gates scoring.
// Manual entries trust the clinician's flag.
func bfrCompliant(in BFRInput, method string) bool {
	if method == persistence.MeasurementManual {
		return in.ManualCompliance != nil && *in.ManualCompliance
	}
	if in.ActualPressureAOP == nil {
		return false
	}
	p := *in.ActualPressureAOP
	return p >= config.BFRSafetyOuterMinAOP && p <= config.BFRSafetyOuterMaxAOP
}

// scoreAndPersist resolves the rubric, assigns the immutable snapshot, and
// writes the performance document.
func (o *Orchestrator) scoreAndPersist(ctx context.Context, s *persistence.Session, result *pipeline.Result, opts ProcessOptions, expected int, bfrPressure *float64) error {
	cfgRow, err := o.resolveScoringConfig(ctx, s)
	if err != nil {
		return err
	}
	if s.ScoringConfigID == nil {
		if err := o.repos.Sessions.AssignScoringConfig(ctx, s.ID, cfgRow.ID); err != nil {
			return err
		}
	}

	engineCfg, err := engineConfig(cfgRow)
	if err != nil {
		return err
	}
	engine, err := scoring.NewEngine(engineCfg, o.log)
	if err != nil {
		return err
	}

	metrics := buildMetrics(result, expected, opts)
	metrics.BFRPressureAOP = bfrPressure
	scores := engine.Score(metrics)

	return o.repos.Scores.Upsert(ctx, persistence.PerformanceScoresRow{
		SessionID:             s.ID,
		OverallScore:          scores.OverallScore,
		ComplianceScore:       scores.ComplianceScore,
		SymmetryScore:         scores.SymmetryScore,
		EffortScore:           scores.EffortScore,
		GameScore:             scores.GameScore,
		LeftMuscleCompliance:  scores.LeftMuscleCompliance,
		RightMuscleCompliance: scores.RightMuscleCompliance,
		CompletionRateLeft:    scores.CompletionRateLeft,
		CompletionRateRight:   scores.CompletionRateRight,
		IntensityRateLeft:     scores.IntensityRateLeft,
		IntensityRateRight:    scores.IntensityRateRight,
		DurationRateLeft:      scores.DurationRateLeft,
		DurationRateRight:     scores.DurationRateRight,
		BFRCompliant:          scores.BFRCompliant,
		BFRPressureAOP:        scores.BFRPressureAOP,
		RPEPostSession:        scores.RPEPostSession,
		ScoringConfigID:       cfgRow.ID,
	})
}

// resolveScoringConfig walks the priority chain: session snapshot, patient
// preference, active rubric, seeded default.
func (o *Orchestrator) resolveScoringConfig(ctx context.Context, s *persistence.Session) (*persistence.ScoringConfigRow, error) {
	if s.ScoringConfigID != nil {
		return o.repos.Configs.GetByID(ctx, *s.ScoringConfigID)
	}
	if s.PatientID != "" {
		if row, err := o.repos.Configs.PreferredForPatient(ctx, s.PatientID); err == nil {
			return row, nil
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return nil, err
		}
	}
	if row, err := o.repos.Configs.Active(ctx); err == nil {
		return row, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	return o.repos.Configs.EnsureSeed(ctx, SeedConfigRow())
}

// SeedConfigRow is the system default rubric as a persistable row.
func SeedConfigRow() persistence.ScoringConfigRow {
	def := scoring.DefaultConfig()
	rpe, _ := json.Marshal(def.RPEMapping)
	return persistence.ScoringConfigRow{
		Version:          1,
		Name:             def.Name,
		Active:           true,
		WeightCompliance: def.WeightCompliance,
		WeightSymmetry:   def.WeightSymmetry,
		WeightEffort:     def.WeightEffort,
		WeightGame:       def.WeightGame,
		WeightCompletion: def.WeightCompletion,
		WeightIntensity:  def.WeightIntensity,
		WeightDuration:   def.WeightDuration,
		RPEMapping:       rpe,
	}
}

func engineConfig(row *persistence.ScoringConfigRow) (scoring.Config, error) {
	cfg := scoring.Config{
		ID:               row.ID,
		Name:             row.Name,
		Active:           row.Active,
		WeightCompliance: row.WeightCompliance,
		WeightSymmetry:   row.WeightSymmetry,
		WeightEffort:     row.WeightEffort,
		WeightGame:       row.WeightGame,
		WeightCompletion: row.WeightCompletion,
		WeightIntensity:  row.WeightIntensity,
		WeightDuration:   row.WeightDuration,
	}
	if len(row.RPEMapping) > 0 {
		if err := json.Unmarshal(row.RPEMapping, &cfg.RPEMapping); err != nil {
			return scoring.Config{}, fmt.Errorf("malformed rpe mapping on config %s: %w", row.ID, err)
		}
	}
	return cfg, nil
}

// buildMetrics maps the first analyzed muscle to left and the second to
// right, following the CH1/CH2 convention of the acquisition device. Game
// points fall back to the C3D game score when the caller supplied none.
func buildMetrics(result *pipeline.Result, expected int, opts ProcessOptions) scoring.SessionMetrics {
	m := scoring.SessionMetrics{
		ExpectedContractionsPerMuscle: expected,
		RPEPostSession:                opts.RPEPostSession,
		GamePointsAchieved:            opts.GamePointsAchieved,
		GamePointsMax:                 opts.GamePointsMax,
	}

	names := result.MuscleNames()
	if len(names) > 0 {
		m.Left = counters(result.Channels[names[0]])
	}
	if len(names) > 1 {
		m.Right = counters(result.Channels[names[1]])
	}
	return m
}

func counters(a *emg.ChannelAnalytics) *scoring.MuscleCounters {
	if a == nil {
		return nil
	}
	return &scoring.MuscleCounters{
		Total:             a.TotalContractions,
		MVCCompliant:      a.MVCCompliantCount,
		DurationCompliant: a.DurationCompliantCount,
		Good:              a.GoodContractionCount,
	}
}

func analyticsRows(sessionID string, channels map[string]*emg.ChannelAnalytics) ([]persistence.ChannelAnalyticsRow, error) {
	rows := make([]persistence.ChannelAnalyticsRow, 0, len(channels))
	for name, a := range channels {
		contractions, err := json.Marshal(a.Contractions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal contractions for %s: %w", name, err)
		}
		var temporal []byte
		if a.Temporal != nil {
			temporal, err = json.Marshal(a.Temporal)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal temporal stats for %s: %w", name, err)
			}
		}
		rows = append(rows, persistence.ChannelAnalyticsRow{
			SessionID:               sessionID,
			ChannelName:             name,
			TotalContractions:       a.TotalContractions,
			MVCCompliantCount:       a.MVCCompliantCount,
			DurationCompliantCount:  a.DurationCompliantCount,
			GoodContractionCount:    a.GoodContractionCount,
			MaxAmplitude:            a.MaxAmplitude,
			AvgAmplitude:            a.AvgAmplitude,
			AvgPeakAmplitude:        a.AvgPeakAmplitude,
			MinDurationMs:           a.MinDurationMs,
			MaxDurationMs:           a.MaxDurationMs,
			AvgDurationMs:           a.AvgDurationMs,
			TotalTimeUnderTensionMs: a.TotalTimeUnderTensionMs,
			RMS:                     a.RMS,
			MAV:                     a.MAV,
			MPF:                     a.MPF,
			MDF:                     a.MDF,
			FatigueIndex:            a.FatigueIndex,
			SignalQualityScore:      a.SignalQualityScore,
			MVCThreshold:            a.MVCThreshold,
			MVCValue:                a.MVCValue,
			MVCEstimationMethod:     a.MVCEstimationMethod,
			DurationThresholdMs:     a.DurationThresholdMs,
			Contractions:            contractions,
			TemporalStats:           temporal,
		})
	}
	return rows, nil
}

// gameMetadataMap flattens the C3D game parameters into the JSONB merge
// payload. Only known values are written; merging preserves anything a
// previous run or an operator recorded.
func gameMetadataMap(result *pipeline.Result) map[string]interface{} {
	g := result.Metadata.Game
	md := make(map[string]interface{})
	if g.GameName != "" {
		md["game_name"] = g.GameName
	}
	if g.Level != "" {
		md["level"] = g.Level
	}
	if g.TherapistID != "" {
		md["therapist_id"] = g.TherapistID
	}
	if g.PlayerName != "" {
		md["player_name"] = g.PlayerName
	}
	if g.GroupID != "" {
		md["group_id"] = g.GroupID
	}
	if g.HasGameScore {
		md["game_score"] = g.GameScore
	}
	if g.DurationSeconds > 0 {
		md["duration_seconds"] = g.DurationSeconds
	}
	if result.Metadata.RateDefaulted {
		md["sampling_rate_assumed"] = true
	}
	return md
}

// fail records a structured failure and transitions the session to failed.
// The classified error is returned so workers can log the kind.
func (o *Orchestrator) fail(ctx context.Context, sessionID string, f *pipeline.Failure) error {
	structured, err := json.Marshal(f)
	if err != nil {
		structured = nil
	}
	msg := f.Message
	if updErr := o.repos.Sessions.UpdateStatus(ctx, sessionID, persistence.StatusFailed, &msg, structured); updErr != nil {
		o.log.Error().Str("session_id", sessionID).Err(updErr).Msg("failed to record failure status")
	}
	o.publish(sessionID, persistence.StatusFailed, &msg)
	o.log.Warn().Str("session_id", sessionID).
		Str("kind", string(f.Kind)).Str("message", f.Message).Msg("session failed")
	return f
}

// cacheAnalytics stores the hot payload. Best-effort by contract.
func (o *Orchestrator) cacheAnalytics(ctx context.Context, sessionID string, result *pipeline.Result, expected int) {
	if o.cache == nil {
		return
	}
	o.cache.Set(ctx, &cache.Payload{
		SessionID: sessionID,
		Analytics: result.Channels,
		Summary:   cache.BuildSummary(result.Channels, expected, time.Now().UTC()),
		Metadata: &persistence.TechnicalData{
			SamplingRateHz:  result.Metadata.SamplingRateHz,
			DurationSeconds: result.Metadata.DurationSeconds,
			FrameCount:      result.Metadata.FrameCount,
			ChannelNames:    result.Metadata.ChannelNames,
		},
	})
}

func (o *Orchestrator) publish(sessionID, status string, message *string) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(StatusEvent{
		SessionID: sessionID,
		Status:    status,
		Message:   message,
		At:        time.Now().UTC(),
	})
}

// RecalculateFromExisting re-derives compliance flags and counters from
// stored per-contraction measurements under new thresholds, without touching
// the source file. Scores are recomputed from the updated counters and the
// analytics cache entry is dropped.
func (o *Orchestrator) RecalculateFromExisting(ctx context.Context, sessionID string, sp pipeline.SessionParams) (map[string]*emg.ChannelAnalytics, error) {
	s, err := o.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	stored, err := o.repos.Analytics.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("session %s has no analytics: %w", sessionID, persistence.ErrNotFound)
	}

	channels := make(map[string]*emg.ChannelAnalytics, len(stored))
	for _, row := range stored {
		ca, err := AnalyticsFromRow(row)
		if err != nil {
			return nil, err
		}
		channels[row.ChannelName] = ca
	}

	updated := pipeline.Recalculate(channels, sp)

	rows, err := analyticsRows(sessionID, updated)
	if err != nil {
		return nil, err
	}
	if err := o.repos.Analytics.UpsertBatch(ctx, rows); err != nil {
		return nil, err
	}

	expected := sp.ExpectedContractionsPerMuscle
	if expected <= 0 {
		expected = config.ExpectedContractionsPerMuscle
	}
	if scoreErr := o.rescore(ctx, s, updated, expected); scoreErr != nil {
		o.log.Warn().Str("session_id", sessionID).Err(scoreErr).
			Msg("rescore after recalculation failed, analytics stand")
	}

	if o.cache != nil {
		o.cache.Invalidate(ctx, sessionID)
	}
	return updated, nil
}

// rescore rebuilds the performance document after a recalculation, keeping
// the session's original scoring-config snapshot and subjective inputs.
func (o *Orchestrator) rescore(ctx context.Context, s *persistence.Session, channels map[string]*emg.ChannelAnalytics, expected int) error {
	prev, err := o.repos.Scores.GetBySession(ctx, s.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil // never scored; nothing to refresh
		}
		return err
	}

	cfgRow, err := o.repos.Configs.GetByID(ctx, prev.ScoringConfigID)
	if err != nil {
		return err
	}
	engineCfg, err := engineConfig(cfgRow)
	if err != nil {
		return err
	}
	engine, err := scoring.NewEngine(engineCfg, o.log)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(channels))
	for n := range channels {
		names = append(names, n)
	}
	sort.Strings(names)

	m := scoring.SessionMetrics{
		ExpectedContractionsPerMuscle: expected,
		BFRPressureAOP:                prev.BFRPressureAOP,
		RPEPostSession:                prev.RPEPostSession,
	}
	if len(names) > 0 {
		m.Left = counters(channels[names[0]])
	}
	if len(names) > 1 {
		m.Right = counters(channels[names[1]])
	}

	scores := engine.Score(m)
	return o.repos.Scores.Upsert(ctx, persistence.PerformanceScoresRow{
		SessionID:             s.ID,
		OverallScore:          scores.OverallScore,
		ComplianceScore:       scores.ComplianceScore,
		SymmetryScore:         scores.SymmetryScore,
		EffortScore:           scores.EffortScore,
		GameScore:             prev.GameScore,
		LeftMuscleCompliance:  scores.LeftMuscleCompliance,
		RightMuscleCompliance: scores.RightMuscleCompliance,
		CompletionRateLeft:    scores.CompletionRateLeft,
		CompletionRateRight:   scores.CompletionRateRight,
		IntensityRateLeft:     scores.IntensityRateLeft,
		IntensityRateRight:    scores.IntensityRateRight,
		DurationRateLeft:      scores.DurationRateLeft,
		DurationRateRight:     scores.DurationRateRight,
		BFRCompliant:          scores.BFRCompliant,
		BFRPressureAOP:        scores.BFRPressureAOP,
		RPEPostSession:        scores.RPEPostSession,
		ScoringConfigID:       prev.ScoringConfigID,
	})
}

// AnalyticsFromRow rebuilds the in-memory analytics from a persisted row,
// including the JSONB contraction and temporal documents.
func AnalyticsFromRow(row persistence.ChannelAnalyticsRow) (*emg.ChannelAnalytics, error) {
	ca := &emg.ChannelAnalytics{
		ChannelName:            row.ChannelName,
		TotalContractions:      row.TotalContractions,
		MVCCompliantCount:      row.MVCCompliantCount,
		DurationCompliantCount: row.DurationCompliantCount,
		GoodContractionCount:   row.GoodContractionCount,
		MaxAmplitude:           row.MaxAmplitude,
		AvgAmplitude:           row.AvgAmplitude,
		AvgPeakAmplitude:       row.AvgPeakAmplitude,
		MinDurationMs:          row.MinDurationMs,
		MaxDurationMs:          row.MaxDurationMs,
		AvgDurationMs:          row.AvgDurationMs,
		TotalTimeUnderTensionMs: row.TotalTimeUnderTensionMs,
		RMS:                     row.RMS,
		MAV:                     row.MAV,
		MPF:                     row.MPF,
		MDF:                     row.MDF,
		FatigueIndex:            row.FatigueIndex,
		SignalQualityScore:      row.SignalQualityScore,
		MVCThreshold:            row.MVCThreshold,
		MVCValue:                row.MVCValue,
		MVCEstimationMethod:     row.MVCEstimationMethod,
		DurationThresholdMs:     row.DurationThresholdMs,
	}
	if len(row.Contractions) > 0 {
		if err := json.Unmarshal(row.Contractions, &ca.Contractions); err != nil {
			return nil, fmt.Errorf("malformed contractions for %s: %w", row.ChannelName, err)
		}
	}
	if len(row.TemporalStats) > 0 {
		var ts emg.TemporalStats
		if err := json.Unmarshal(row.TemporalStats, &ts); err != nil {
			return nil, fmt.Errorf("malformed temporal stats for %s: %w", row.ChannelName, err)
		}
		ca.Temporal = &ts
	}
	return ca, nil
}
