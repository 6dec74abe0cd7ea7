package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/c3d"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/cache"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/persistence"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/pipeline"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
)

// SessionService is the orchestrator surface the handlers need.
type SessionService interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (*persistence.Session, bool, error)
	RecalculateFromExisting(ctx context.Context, sessionID string, sp pipeline.SessionParams) (map[string]*emg.ChannelAnalytics, error)
}

// Enqueuer is the worker-pool surface the handlers need.
type Enqueuer interface {
	Enqueue(req session.ProcessRequest) error
	Depth() int
}

// Handlers binds the HTTP surface to the services behind it. Cache, hub, and
// health are optional; nil disables the corresponding behavior.
type Handlers struct {
	svc       SessionService
	queue     Enqueuer
	repos     *persistence.Repository
	health    persistence.RepositoryHealth
	cache     *cache.AnalyticsCache
	hub       *session.Hub
	processor *pipeline.Processor
	metrics   *MetricsRegistry
	ingest    config.IngestConfig
	log       zerolog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(
	svc SessionService,
	queue Enqueuer,
	repos *persistence.Repository,
	health persistence.RepositoryHealth,
	analyticsCache *cache.AnalyticsCache,
	hub *session.Hub,
	processor *pipeline.Processor,
	metrics *MetricsRegistry,
	ingest config.IngestConfig,
	logger zerolog.Logger,
) *Handlers {
	if metrics == nil {
		metrics = NewMetricsRegistry()
	}
	return &Handlers{
		svc:       svc,
		queue:     queue,
		repos:     repos,
		health:    health,
		cache:     analyticsCache,
		hub:       hub,
		processor: processor,
		metrics:   metrics,
		ingest:    ingest,
		log:       logger.With().Str("component", "handlers").Logger(),
	}
}

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// NotFound is the router fallback.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "route not found")
}

// Upload runs a synchronous analysis of a posted C3D file without persisting
// anything. It exists for ad-hoc clinical review of a recording.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	timer := h.metrics.StartStepTimer("upload_analysis")

	data, filename, ok := h.readMultipartFile(w, r)
	if !ok {
		timer.Stop("rejected")
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".c3d") {
		timer.Stop("rejected")
		writeError(w, http.StatusBadRequest, "only .c3d files are accepted")
		return
	}

	sp := sessionParamsFromForm(r)
	opts := processingOptionsFromForm(r)
	result, err := h.processor.ProcessWithOptions(data, sp, opts, filename)
	if err != nil {
		timer.Stop("error")
		f := pipeline.ClassifyError(err, filename, int64(len(data)))
		writeError(w, failureStatus(f), f.Message)
		return
	}
	timer.Stop("success")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_name": filename,
		"metadata":  result.Metadata,
		"analytics": result.Channels,
		"params":    result.Params,
	})
}

// ListSessions returns recent sessions, optionally filtered by patient.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	sessions, err := h.repos.Sessions.List(r.Context(), patientID, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("session list failed")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// SessionStatus reports the lifecycle state of one session.
func (h *Handlers) SessionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.repos.Sessions.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("status lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	resp := map[string]interface{}{
		"session_id": s.ID,
		"code":       s.Code,
		"status":     s.Status,
		"created_at": s.CreatedAt,
		"updated_at": s.UpdatedAt,
	}
	if s.ProcessedAt != nil {
		resp["processed_at"] = s.ProcessedAt
	}
	if s.ProcessingErrorMessage != nil {
		resp["error_message"] = *s.ProcessingErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// SessionAnalytics serves the analytics payload, cache-first with a database
// fallback that repopulates the cache.
func (h *Handlers) SessionAnalytics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	if h.cache != nil {
		if payload, ok := h.cache.Get(ctx, id); ok {
			h.metrics.RecordCacheHit("analytics")
			writeJSON(w, http.StatusOK, payload)
			return
		}
		h.metrics.RecordCacheMiss("analytics")
	}

	s, err := h.repos.Sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	rows, err := h.repos.Analytics.ListBySession(ctx, id)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("analytics read failed")
		writeError(w, http.StatusInternalServerError, "failed to read analytics")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no analytics for session")
		return
	}

	analytics := make(map[string]*emg.ChannelAnalytics, len(rows))
	for _, row := range rows {
		ca, convErr := session.AnalyticsFromRow(row)
		if convErr != nil {
			h.log.Error().Err(convErr).Str("session_id", id).Msg("stored analytics corrupt")
			writeError(w, http.StatusInternalServerError, "stored analytics corrupt")
			return
		}
		analytics[row.ChannelName] = ca
	}

	payload := &cache.Payload{
		SessionID: id,
		Analytics: analytics,
		Summary:   cache.BuildSummary(analytics, h.expectedPerMuscle(ctx, id), rows[0].CreatedAt),
		Metadata:  s.TechnicalData,
	}
	if h.cache != nil {
		h.cache.Set(ctx, payload)
	}
	writeJSON(w, http.StatusOK, payload)
}

// expectedPerMuscle reads the session's prescribed target, falling back to the
// protocol default when no settings row exists.
func (h *Handlers) expectedPerMuscle(ctx context.Context, sessionID string) int {
	if settings, err := h.repos.Settings.GetBySession(ctx, sessionID); err == nil && settings.TargetContractionsPerMuscle > 0 {
		return settings.TargetContractionsPerMuscle
	}
	return config.ExpectedContractionsPerMuscle
}

// recalcRequest is the body for POST /sessions/{id}/recalc.
type recalcRequest struct {
	GlobalMVC                     *float64           `json:"global_mvc,omitempty"`
	MVCThresholdPercentage        float64            `json:"mvc_threshold_percentage,omitempty"`
	PerMuscleMVC                  map[string]float64 `json:"per_muscle_mvc,omitempty"`
	PerMuscleMVCPct               map[string]float64 `json:"per_muscle_mvc_pct,omitempty"`
	DurationThresholdMs           *float64           `json:"duration_threshold_ms,omitempty"`
	ExpectedContractionsPerMuscle int                `json:"expected_contractions_per_muscle,omitempty"`
}

// Recalculate re-derives compliance from stored analytics under new
// thresholds.
func (h *Handlers) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req recalcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sp := pipeline.SessionParams{
		GlobalMVC:                     req.GlobalMVC,
		MVCThresholdPercentage:        req.MVCThresholdPercentage,
		PerMuscleMVC:                  req.PerMuscleMVC,
		PerMuscleMVCPct:               req.PerMuscleMVCPct,
		DurationThresholdMs:           req.DurationThresholdMs,
		ExpectedContractionsPerMuscle: req.ExpectedContractionsPerMuscle,
	}

	timer := h.metrics.StartStepTimer("recalculation")
	updated, err := h.svc.RecalculateFromExisting(r.Context(), id, sp)
	if err != nil {
		timer.Stop("error")
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session or analytics not found")
			return
		}
		h.log.Error().Err(err).Str("session_id", id).Msg("recalculation failed")
		writeError(w, http.StatusInternalServerError, "recalculation failed")
		return
	}
	timer.Stop("success")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"analytics":  updated,
	})
}

// CalibrateMVC estimates per-channel MVC references. With a file it analyzes
// the posted recording; with a session_id it reports the stored estimates.
func (h *Handlers) CalibrateMVC(w http.ResponseWriter, r *http.Request) {
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		h.storedMVC(w, r, sessionID)
		return
	}

	data, filename, ok := h.readMultipartFile(w, r)
	if !ok {
		return
	}

	thresholdPct := config.DefaultMVCThresholdPercentage
	if raw := r.FormValue("threshold_percentage"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 && v <= 100 {
			thresholdPct = v
		}
	}

	file, err := c3d.Parse(data)
	if err != nil {
		f := pipeline.ClassifyError(err, filename, int64(len(data)))
		writeError(w, failureStatus(f), f.Message)
		return
	}

	estimator := emg.NewMVCEstimator()
	estimations := make(map[string]emg.MVCEstimation)
	for _, label := range file.Header.ChannelLabels {
		if c3d.IsActivatedLabel(label) {
			continue
		}
		raw, ok := file.AnalogByLabel(label)
		if !ok || len(raw) == 0 {
			continue
		}
		est, estErr := estimator.Estimate(raw, nil, file.Header.SamplingRateHz, thresholdPct)
		if estErr != nil {
			continue
		}
		estimations[label] = est
	}
	if len(estimations) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no usable EMG channels in recording")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_name":   filename,
		"estimations": estimations,
	})
}

// storedMVC reports the MVC values recorded with a session's analytics.
func (h *Handlers) storedMVC(w http.ResponseWriter, r *http.Request, sessionID string) {
	rows, err := h.repos.Analytics.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("analytics read failed")
		writeError(w, http.StatusInternalServerError, "failed to read analytics")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no analytics for session")
		return
	}

	values := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		values[row.ChannelName] = map[string]interface{}{
			"mvc_value":         row.MVCValue,
			"mvc_threshold":     row.MVCThreshold,
			"estimation_method": row.MVCEstimationMethod,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"channels":   values,
	})
}

// Health reports store health and queue backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	status := http.StatusOK

	if h.health != nil {
		check := h.health.Health(r.Context())
		resp["database"] = check
		if !check.Healthy {
			resp["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			// A dead cache degrades performance, not correctness.
			resp["cache"] = "unreachable"
		} else {
			resp["cache"] = "ok"
		}
	}
	if h.queue != nil {
		depth := h.queue.Depth()
		resp["queue_depth"] = depth
		h.metrics.SetQueueDepth(depth)
	}
	writeJSON(w, status, resp)
}

// readMultipartFile extracts the posted file, enforcing the size limit before
// reading the body into memory.
func (h *Handlers) readMultipartFile(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	limit := h.ingest.MaxFileSizeBytes
	if limit <= 0 {
		limit = config.DefaultMaxFileSizeBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1)

	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit or malformed form")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return nil, "", false
	}
	defer file.Close()

	data := make([]byte, 0, header.Size)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := file.Read(buf)
		data = append(data, buf[:n]...)
		if readErr != nil {
			break
		}
		if int64(len(data)) > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds size limit")
			return nil, "", false
		}
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return nil, "", false
	}
	return data, header.Filename, true
}

// sessionParamsFromForm reads optional tuning values posted with an upload.
func sessionParamsFromForm(r *http.Request) pipeline.SessionParams {
	var sp pipeline.SessionParams
	if raw := r.FormValue("mvc_threshold_percentage"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 && v <= 100 {
			sp.MVCThresholdPercentage = v
		}
	}
	if raw := r.FormValue("global_mvc"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			sp.GlobalMVC = &v
		}
	}
	if raw := r.FormValue("duration_threshold_ms"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			sp.DurationThresholdMs = &v
		}
	}
	if raw := r.FormValue("expected_contractions_per_muscle"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			sp.ExpectedContractionsPerMuscle = v
		}
	}
	return sp
}

// processingOptionsFromForm reads per-request signal-processing overrides.
// Out-of-range values fall back to the pipeline defaults rather than erroring.
func processingOptionsFromForm(r *http.Request) pipeline.Options {
	var opts pipeline.Options
	if raw := r.FormValue("threshold_factor"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 && v <= 1 {
			opts.ThresholdFactor = v
		}
	}
	if raw := r.FormValue("min_duration_ms"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			opts.MinDurationMs = v
		}
	}
	if raw := r.FormValue("smoothing_window"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			opts.SmoothingWindowSamples = v
		}
	}
	return opts
}

// failureStatus maps a classified failure to an HTTP status.
func failureStatus(f *pipeline.Failure) int {
	switch f.Kind {
	case pipeline.FailureValidation, pipeline.FailureSignature:
		return http.StatusBadRequest
	case pipeline.FailureNotFound:
		return http.StatusNotFound
	case pipeline.FailureCorruptFile, pipeline.FailureEMGValidation:
		return http.StatusUnprocessableEntity
	case pipeline.FailureTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
