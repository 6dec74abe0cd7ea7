package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema is the embedded DDL for the artifact store. Idempotent: every
// statement tolerates re-execution so Migrate can run at each startup.
const Schema = `
CREATE SEQUENCE IF NOT EXISTS patient_ordinal_seq;

CREATE TABLE IF NOT EXISTS patient_codes (
    patient_id   text PRIMARY KEY,
    ordinal      integer NOT NULL DEFAULT nextval('patient_ordinal_seq'),
    next_session integer NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS scoring_configurations (
    id                uuid PRIMARY KEY DEFAULT gen_random_uuid(),
    version           integer NOT NULL,
    name              text NOT NULL,
    active            boolean NOT NULL DEFAULT false,
    weight_compliance double precision NOT NULL CHECK (weight_compliance >= 0),
    weight_symmetry   double precision NOT NULL CHECK (weight_symmetry >= 0),
    weight_effort     double precision NOT NULL CHECK (weight_effort >= 0),
    weight_game       double precision NOT NULL CHECK (weight_game >= 0),
    weight_completion double precision NOT NULL CHECK (weight_completion >= 0),
    weight_intensity  double precision NOT NULL CHECK (weight_intensity >= 0),
    weight_duration   double precision NOT NULL CHECK (weight_duration >= 0),
    rpe_mapping       jsonb,
    created_at        timestamptz NOT NULL DEFAULT now(),
    CHECK (abs(weight_compliance + weight_symmetry + weight_effort + weight_game - 1.0) <= 0.01),
    CHECK (abs(weight_completion + weight_intensity + weight_duration - 1.0) <= 0.01)
);

CREATE UNIQUE INDEX IF NOT EXISTS scoring_configurations_version_idx
    ON scoring_configurations (version);

CREATE TABLE IF NOT EXISTS patient_scoring_preferences (
    patient_id text PRIMARY KEY,
    config_id  uuid NOT NULL REFERENCES scoring_configurations (id),
    updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS therapy_sessions (
    id                        uuid PRIMARY KEY,
    code                      text NOT NULL UNIQUE,
    patient_id                text NOT NULL DEFAULT '',
    therapist_id              text NOT NULL DEFAULT '',
    file_hash                 text NOT NULL,
    file_name                 text NOT NULL DEFAULT '',
    bucket                    text NOT NULL DEFAULT '',
    object_name               text NOT NULL DEFAULT '',
    file_size_bytes           bigint NOT NULL DEFAULT 0,
    status                    text NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
    processing_error_message  text,
    processing_error          jsonb,
    scoring_config_id         uuid REFERENCES scoring_configurations (id),
    technical_data            jsonb,
    game_metadata             jsonb,
    performance_analysis      jsonb,
    session_date              timestamptz,
    created_at                timestamptz NOT NULL DEFAULT now(),
    updated_at                timestamptz NOT NULL DEFAULT now(),
    processed_at              timestamptz
);

-- The hash is the true dedup key; the btree index keeps lookups O(log n).
CREATE UNIQUE INDEX IF NOT EXISTS therapy_sessions_file_hash_idx
    ON therapy_sessions (file_hash);
CREATE INDEX IF NOT EXISTS therapy_sessions_patient_idx
    ON therapy_sessions (patient_id, created_at DESC);

CREATE OR REPLACE FUNCTION enforce_scoring_config_immutable() RETURNS trigger AS $$
BEGIN
    IF OLD.scoring_config_id IS NOT NULL
       AND NEW.scoring_config_id IS DISTINCT FROM OLD.scoring_config_id THEN
        RAISE EXCEPTION 'scoring_config_id is immutable once assigned';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS therapy_sessions_scoring_config_guard ON therapy_sessions;
CREATE TRIGGER therapy_sessions_scoring_config_guard
    BEFORE UPDATE ON therapy_sessions
    FOR EACH ROW EXECUTE FUNCTION enforce_scoring_config_immutable();

CREATE TABLE IF NOT EXISTS channel_analytics (
    session_id                  uuid NOT NULL REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    channel_name                text NOT NULL,
    total_contractions          integer NOT NULL DEFAULT 0 CHECK (total_contractions >= 0),
    mvc_compliant_count         integer NOT NULL DEFAULT 0 CHECK (mvc_compliant_count >= 0),
    duration_compliant_count    integer NOT NULL DEFAULT 0 CHECK (duration_compliant_count >= 0),
    good_contraction_count      integer NOT NULL DEFAULT 0 CHECK (good_contraction_count >= 0),
    max_amplitude               double precision NOT NULL DEFAULT 0,
    avg_amplitude               double precision NOT NULL DEFAULT 0,
    avg_peak_amplitude          double precision NOT NULL DEFAULT 0,
    min_duration_ms             double precision NOT NULL DEFAULT 0,
    max_duration_ms             double precision NOT NULL DEFAULT 0,
    avg_duration_ms             double precision NOT NULL DEFAULT 0,
    total_time_under_tension_ms double precision NOT NULL DEFAULT 0,
    rms                         double precision NOT NULL DEFAULT 0,
    mav                         double precision NOT NULL DEFAULT 0,
    mpf                         double precision NOT NULL DEFAULT 0,
    mdf                         double precision NOT NULL DEFAULT 0,
    fatigue_index               double precision NOT NULL DEFAULT 0,
    signal_quality_score        double precision NOT NULL DEFAULT 0
        CHECK (signal_quality_score >= 0 AND signal_quality_score <= 1),
    mvc_threshold               double precision,
    mvc_value                   double precision,
    mvc_estimation_method       text NOT NULL DEFAULT '',
    duration_threshold_ms       double precision,
    contractions                jsonb,
    temporal_stats              jsonb,
    created_at                  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, channel_name)
);

CREATE TABLE IF NOT EXISTS processing_parameters (
    session_id               uuid PRIMARY KEY REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    sampling_rate_hz         double precision NOT NULL,
    filter_low_cut_hz        double precision NOT NULL,
    filter_high_cut_hz       double precision NOT NULL,
    filter_order             integer NOT NULL,
    rms_window_ms            double precision NOT NULL,
    rms_overlap              double precision NOT NULL,
    mvc_window_ms            double precision NOT NULL,
    mvc_threshold_percentage double precision NOT NULL,
    processing_version       text NOT NULL
);

CREATE TABLE IF NOT EXISTS session_settings (
    session_id                     uuid PRIMARY KEY REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    mvc_threshold_percentage       double precision NOT NULL,
    duration_threshold_ms          double precision,
    target_contractions_per_muscle integer NOT NULL,
    bfr_enabled                    boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS bfr_monitoring (
    session_id          uuid NOT NULL REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    channel             text NOT NULL CHECK (channel IN ('CH1', 'CH2')),
    target_pressure_aop double precision,
    actual_pressure_aop double precision,
    cuff_pressure_mmhg  double precision,
    systolic_bp         double precision,
    diastolic_bp        double precision,
    manual_compliance   boolean,
    safety_compliant    boolean NOT NULL DEFAULT false,
    measurement_method  text NOT NULL CHECK (measurement_method IN ('sensor', 'manual')),
    measured_at         timestamptz NOT NULL,
    PRIMARY KEY (session_id, channel)
);

CREATE TABLE IF NOT EXISTS performance_scores (
    session_id              uuid PRIMARY KEY REFERENCES therapy_sessions (id) ON DELETE CASCADE,
    overall_score           double precision NOT NULL CHECK (overall_score >= 0 AND overall_score <= 100),
    compliance_score        double precision NOT NULL CHECK (compliance_score >= 0 AND compliance_score <= 100),
    symmetry_score          double precision NOT NULL CHECK (symmetry_score >= 0 AND symmetry_score <= 100),
    effort_score            double precision CHECK (effort_score IS NULL OR (effort_score >= 0 AND effort_score <= 100)),
    game_score              double precision CHECK (game_score IS NULL OR (game_score >= 0 AND game_score <= 100)),
    left_muscle_compliance  double precision NOT NULL CHECK (left_muscle_compliance >= 0 AND left_muscle_compliance <= 100),
    right_muscle_compliance double precision NOT NULL CHECK (right_muscle_compliance >= 0 AND right_muscle_compliance <= 100),
    completion_rate_left    double precision NOT NULL CHECK (completion_rate_left >= 0 AND completion_rate_left <= 1),
    completion_rate_right   double precision NOT NULL CHECK (completion_rate_right >= 0 AND completion_rate_right <= 1),
    intensity_rate_left     double precision NOT NULL CHECK (intensity_rate_left >= 0 AND intensity_rate_left <= 1),
    intensity_rate_right    double precision NOT NULL CHECK (intensity_rate_right >= 0 AND intensity_rate_right <= 1),
    duration_rate_left      double precision NOT NULL CHECK (duration_rate_left >= 0 AND duration_rate_left <= 1),
    duration_rate_right     double precision NOT NULL CHECK (duration_rate_right >= 0 AND duration_rate_right <= 1),
    bfr_compliant           boolean NOT NULL DEFAULT true,
    bfr_pressure_aop        double precision,
    rpe_post_session        integer CHECK (rpe_post_session IS NULL OR (rpe_post_session >= 0 AND rpe_post_session <= 10)),
    scoring_config_id       uuid NOT NULL REFERENCES scoring_configurations (id),
    created_at              timestamptz NOT NULL DEFAULT now()
);
`

// Migrate executes the embedded DDL.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
