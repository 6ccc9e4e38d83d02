// Package archive keeps content-addressed snapshots of raw source documents
// so that every alert can be traced back to the bytes it was parsed from.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Backend names accepted by New.
const (
	BackendNone = "none"
	BackendS3   = "s3"
	BackendGCS  = "gcs"
)

// Config selects and configures a snapshot backend.
type Config struct {
	Backend  string
	Bucket   string
	Prefix   string // optional key prefix, e.g. "snapshots/"
	Region   string // S3 only
	Endpoint string // S3 only; MinIO, LocalStack
}

// Store persists snapshots. Store is idempotent on content.
type Store interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// New builds the configured backend. It returns a nil Store for BackendNone.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, nil
	case BackendS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: s3 backend requires a bucket")
		}
		s, err := NewS3Store(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("archive: gcs backend requires a bucket")
		}
		s, err := NewGCSStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("archive: unknown backend %q", cfg.Backend)
	}
}

// ContentRef returns the "sha256:<hex>" reference and object key for data.
func ContentRef(prefix string, data []byte) (ref, key string) {
	sum := sha256.Sum256(data)
	h := hex.EncodeToString(sum[:])
	return "sha256:" + h, prefix + h + ".blob"
}
