package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore serves blobs from a local directory tree laid out as
// <root>/<bucket>/<objectName>.
type FSStore struct {
	root string
}

// NewFSStore validates the root directory and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", root)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Fetch(ctx context.Context, bucket, objectName string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve(bucket, objectName)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, objectName, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// resolve joins and confines the path under root. Object names arrive from
// webhook payloads, so traversal must be rejected, not cleaned away.
func (s *FSStore) resolve(bucket, objectName string) (string, error) {
	if bucket == "" || objectName == "" {
		return "", fmt.Errorf("%w: empty bucket or object name", ErrObjectNotFound)
	}
	path := filepath.Join(s.root, bucket, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object name escapes storage root", ErrObjectNotFound)
	}
	return path, nil
}
