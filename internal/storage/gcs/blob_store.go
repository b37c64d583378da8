// Package gcs uploads archive snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// SourceMetadataKey is the object metadata key naming the process that
// produced a snapshot.
const SourceMetadataKey = "ocsync-source"

// ErrObjectExists is returned when a snapshot with the same key was already
// uploaded. Snapshot keys are timestamped, so a collision means a second
// exporter raced this one.
var ErrObjectExists = errors.New("snapshot object already exists")

// Config selects the destination bucket and how snapshots are written.
type Config struct {
	Bucket string
	// Source is stored under SourceMetadataKey on every object.
	Source string
	// ChunkSize overrides the resumable upload chunk size; zero keeps the
	// client default.
	ChunkSize int
}

// BlobStore writes archive snapshots and their digests to one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
}

// New validates cfg and binds the store to its bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot bucket is required")
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be >= 0")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// CheckBucket fails fast when the snapshot bucket is missing or not accessible.
func (s *BlobStore) CheckBucket(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("snapshot bucket %q: %w", s.cfg.Bucket, err)
	}
	return nil
}

// PutObject uploads r under key, refusing to replace an existing object, and
// returns the gs:// URI of the new snapshot.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("snapshot key is required")
	}
	w := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if s.cfg.ChunkSize > 0 {
		w.ChunkSize = s.cfg.ChunkSize
	}
	if s.cfg.Source != "" {
		w.Metadata = map[string]string{SourceMetadataKey: s.cfg.Source}
	}

	if _, err := io.Copy(w, r); err != nil {
		return "", errors.Join(fmt.Errorf("upload snapshot %s: %w", key, err), closeErr(w.Close()))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish snapshot %s: %w", key, classify(err))
	}
	return s.URI(key), nil
}

// URI renders the gs:// location of key.
func (s *BlobStore) URI(key string) string {
	return "gs://" + s.cfg.Bucket + "/" + strings.TrimLeft(key, "/")
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %w", ErrObjectExists, err)
	}
	return err
}

func closeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close writer: %w", err)
}
