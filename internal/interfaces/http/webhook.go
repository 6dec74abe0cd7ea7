package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/config"
	"github.com/ggustin93/emg-c3d-analyzer-sub000/internal/session"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "X-Webhook-Signature"

// webhookEvent is the normalized upload notification. Two wire shapes feed
// it: the legacy storage callback and the database-trigger payload.
type webhookEvent struct {
	EventType   string
	Bucket      string
	ObjectName  string
	ObjectSize  int64
	ContentType string
}

// legacyWebhookPayload is the flat storage-callback shape.
type legacyWebhookPayload struct {
	EventType   string `json:"eventType"`
	Bucket      string `json:"bucket"`
	ObjectName  string `json:"objectName"`
	ObjectSize  int64  `json:"objectSize"`
	ContentType string `json:"contentType"`
	Timestamp   string `json:"timestamp"`
}

// triggerWebhookPayload is the database-trigger shape, nesting the object row.
type triggerWebhookPayload struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Schema string `json:"schema"`
	Record struct {
		Name     string `json:"name"`
		BucketID string `json:"bucket_id"`
		Metadata struct {
			Size     int64  `json:"size"`
			MimeType string `json:"mimetype"`
		} `json:"metadata"`
	} `json:"record"`
}

// acceptedEventTypes are the upload notifications worth processing.
var acceptedEventTypes = map[string]bool{
	"ObjectCreated:Post":      true,
	"storage-object-uploaded": true,
	"storage-object-created":  true,
	"INSERT_storage.objects":  true,
}

// webhookResponse mirrors the acknowledgment contract of the uploader.
type webhookResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ProcessingID string `json:"processing_id,omitempty"`
}

// Webhook handles storage upload notifications: verify the signature,
// validate the object, create the session, and queue processing.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.ingest.WebhookSecret != "" {
		if !verifySignature(body, r.Header.Get(signatureHeader), h.ingest.WebhookSecret) {
			h.metrics.RecordWebhookRejection("signature")
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	event, err := normalizeWebhook(body)
	if err != nil {
		h.metrics.RecordWebhookRejection("malformed")
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	if reason, ok := h.validateEvent(event); !ok {
		h.metrics.RecordWebhookRejection(reason)
		// Non-C3D uploads and foreign buckets are expected traffic; a 200
		// keeps the storage service from retrying them forever.
		writeJSON(w, http.StatusOK, webhookResponse{
			Success: false,
			Message: "ignored: " + reason,
		})
		return
	}

	s, created, err := h.svc.CreateSession(r.Context(), session.CreateRequest{
		FileName:   path.Base(event.ObjectName),
		Bucket:     event.Bucket,
		ObjectName: event.ObjectName,
	})
	if err != nil {
		h.log.Error().Err(err).Str("object", event.ObjectName).Msg("webhook session creation failed")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, webhookResponse{
			Success:      true,
			Message:      "duplicate upload, session already exists",
			ProcessingID: s.ID,
		})
		return
	}

	if err := h.queue.Enqueue(session.ProcessRequest{SessionID: s.ID}); err != nil {
		if errors.Is(err, session.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "processing queue full, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue processing")
		return
	}
	h.metrics.SetQueueDepth(h.queue.Depth())

	h.log.Info().Str("session_id", s.ID).Str("object", event.ObjectName).
		Int64("size", event.ObjectSize).Msg("webhook accepted")
	writeJSON(w, http.StatusOK, webhookResponse{
		Success:      true,
		Message:      "processing queued",
		ProcessingID: s.ID,
	})
}

// normalizeWebhook maps either wire shape onto the internal event.
func normalizeWebhook(body []byte) (webhookEvent, error) {
	var trigger triggerWebhookPayload
	if err := json.Unmarshal(body, &trigger); err == nil && trigger.Type != "" && trigger.Record.Name != "" {
		return webhookEvent{
			EventType:   trigger.Type + "_" + trigger.Schema + "." + trigger.Table,
			Bucket:      trigger.Record.BucketID,
			ObjectName:  trigger.Record.Name,
			ObjectSize:  trigger.Record.Metadata.Size,
			ContentType: trigger.Record.Metadata.MimeType,
		}, nil
	}

	var legacy legacyWebhookPayload
	if err := json.Unmarshal(body, &legacy); err != nil {
		return webhookEvent{}, err
	}
	if legacy.EventType == "" || legacy.ObjectName == "" {
		return webhookEvent{}, errors.New("missing event type or object name")
	}
	return webhookEvent{
		EventType:   legacy.EventType,
		Bucket:      legacy.Bucket,
		ObjectName:  legacy.ObjectName,
		ObjectSize:  legacy.ObjectSize,
		ContentType: legacy.ContentType,
	}, nil
}

// validateEvent applies the ingest gates in order: event type, extension,
// bucket, size. The reason string feeds the rejection metric.
func (h *Handlers) validateEvent(e webhookEvent) (string, bool) {
	if !acceptedEventTypes[e.EventType] {
		return "event_type", false
	}
	if !strings.EqualFold(path.Ext(e.ObjectName), ".c3d") {
		return "extension", false
	}
	if h.ingest.Bucket != "" && e.Bucket != h.ingest.Bucket {
		return "bucket", false
	}
	limit := h.ingest.MaxFileSizeBytes
	if limit <= 0 {
		limit = config.DefaultMaxFileSizeBytes
	}
	if e.ObjectSize <= 0 || e.ObjectSize > limit {
		return "size", false
	}
	return "", true
}

// verifySignature checks the hex HMAC-SHA256 of the body in constant time.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}
