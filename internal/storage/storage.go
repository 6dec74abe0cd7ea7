// Package storage abstracts where uploaded recordings live. The orchestrator
// only needs byte retrieval; writes happen out-of-band through the upload
// pipeline that triggers the webhook.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrObjectNotFound marks a bucket/object pair with no stored blob.
	ErrObjectNotFound = errors.New("storage: object not found")

	// ErrUnavailable marks a backend outage. Sessions failing on it stay
	// retryable instead of being marked terminally failed.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// BlobStore fetches uploaded recordings by bucket and object name.
type BlobStore interface {
	Fetch(ctx context.Context, bucket, objectName string) ([]byte, error)
}
