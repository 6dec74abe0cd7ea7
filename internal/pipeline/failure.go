// Package pipeline drives the per-file compute chain: decode the C3D
// container, condition each EMG channel, detect contractions, and assemble
// channel analytics. It owns the failure taxonomy the orchestrator maps to
// session state and the ingest surface maps to wire responses.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/c3d"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/emg"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/storage"
)

// FailureKind classifies a processing failure for callers that translate it
// to session state or HTTP status.
type FailureKind string

const (
	FailureValidation    FailureKind = "validation"
	FailureSignature     FailureKind = "signature"
	FailureNotFound      FailureKind = "not_found"
	FailureCorruptFile   FailureKind = "file_corruption"
	FailureEMGValidation FailureKind = "emg_validation_failure"
	FailureProcessing    FailureKind = "processing_failure"

	// FailureTransient marks infrastructure trouble (storage circuit open,
	// download timeout) where the session should stay retryable instead of
	// transitioning to failed.
	FailureTransient FailureKind = "transient"
)

// ClinicalRequirements explains why a recording fails the clinical gate.
type ClinicalRequirements struct {
	MinSamplesRequired int    `json:"min_samples_required"`
	ActualSamples      int    `json:"actual_samples"`
	Reason             string `json:"reason"`
}

// FileInfo describes the offending file in failure payloads.
type FileInfo struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	SamplingRateHz  float64 `json:"sampling_rate_hz,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ChannelCount    int     `json:"channel_count,omitempty"`
}

// UserGuidance carries clinician-facing recommendations.
type UserGuidance struct {
	PrimaryRecommendation string   `json:"primary_recommendation"`
	Recommendations       []string `json:"recommendations,omitempty"`
}

// Failure is the structured error the pipeline raises and the orchestrator
// catches exactly once. It satisfies error and unwraps to its cause.
type Failure struct {
	Kind          FailureKind `json:"kind"`
	Message       string      `json:"message"`
	TechnicalNote string      `json:"technical_note,omitempty"`

	ClinicalRequirements *ClinicalRequirements  `json:"clinical_requirements,omitempty"`
	C3DMetadata          map[string]interface{} `json:"c3d_metadata,omitempty"`
	FileInfo             *FileInfo              `json:"file_info,omitempty"`
	UserGuidance         *UserGuidance          `json:"user_guidance,omitempty"`

	cause error
}

func (f *Failure) Error() string {
	if f.TechnicalNote != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Message, f.TechnicalNote)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// AsFailure extracts a Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// NewFailure builds a bare failure of a kind.
func NewFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Message: msg}
}

// ClassifyError maps a pipeline error to the taxonomy. Already-classified
// failures pass through; decoder and clinical-gate errors get their
// structured payloads; anything else is a generic processing failure that
// preserves the original message.
func ClassifyError(err error, filename string, sizeBytes int64) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}

	if errors.Is(err, storage.ErrObjectNotFound) {
		return &Failure{
			Kind:          FailureNotFound,
			Message:       "the uploaded recording is no longer present in storage",
			TechnicalNote: err.Error(),
			FileInfo:      &FileInfo{Filename: filename, SizeBytes: sizeBytes},
			UserGuidance: &UserGuidance{
				PrimaryRecommendation: "upload the recording again",
			},
			cause: err,
		}
	}

	if errors.Is(err, c3d.ErrCorruptFile) || errors.Is(err, c3d.ErrUnsupportedFormat) {
		return &Failure{
			Kind:          FailureCorruptFile,
			Message:       "the C3D file could not be read",
			TechnicalNote: err.Error(),
			FileInfo:      &FileInfo{Filename: filename, SizeBytes: sizeBytes},
			UserGuidance: &UserGuidance{
				PrimaryRecommendation: "re-export the recording from the game platform and upload it again",
				Recommendations: []string{
					"verify the file was not truncated during transfer",
					"confirm the export used the C3D format, not a renamed container",
				},
			},
			cause: err,
		}
	}

	var short *emg.InsufficientDurationError
	if errors.As(err, &short) {
		durationS := 0.0
		if short.SamplingRateHz > 0 {
			durationS = float64(short.ActualSamples) / short.SamplingRateHz
		}
		return &Failure{
			Kind:          FailureEMGValidation,
			Message:       "the EMG recording is shorter than the clinical minimum",
			TechnicalNote: err.Error(),
			ClinicalRequirements: &ClinicalRequirements{
				MinSamplesRequired: short.MinSamplesRequired,
				ActualSamples:      short.ActualSamples,
				Reason:             short.Reason,
			},
			FileInfo: &FileInfo{
				Filename:        filename,
				SizeBytes:       sizeBytes,
				SamplingRateHz:  short.SamplingRateHz,
				DurationSeconds: durationS,
			},
			UserGuidance: &UserGuidance{
				PrimaryRecommendation: fmt.Sprintf(
					"record at least %.0f seconds of EMG; this session holds %.1f seconds",
					float64(short.MinSamplesRequired)/nonZero(short.SamplingRateHz), durationS),
				Recommendations: []string{
					"have the patient complete the full game level before stopping the recording",
				},
			},
			cause: err,
		}
	}

	return &Failure{
		Kind:          FailureProcessing,
		Message:       "processing failed",
		TechnicalNote: err.Error(),
		FileInfo:      &FileInfo{Filename: filename, SizeBytes: sizeBytes},
		cause:         err,
	}
}

func nonZero(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}
