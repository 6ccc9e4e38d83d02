package archive

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSStore writes snapshots to a Cloud Storage bucket keyed by content hash.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a GCS-backed snapshot store using application
// default credentials.
func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Store uploads data unless an object with the same hash already exists.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	ref, key := ContentRef(s.prefix, data)

	obj := s.client.Bucket(s.bucket).Object(key)
	if _, err := obj.Attrs(ctx); err == nil {
		return ref, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return ref, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
