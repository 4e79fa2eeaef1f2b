// Package storage writes opaque objects to a local directory or an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Backend names accepted in Config.Backend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// ErrNotFound is returned by Read for a missing key.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the object store used for relay transcripts.
type Storage interface {
	// Write stores r under key. size is -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Read opens key. The caller closes the reader.
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string      `mapstructure:"backend"`
	Local   LocalConfig `mapstructure:"local"`
	S3      S3Config    `mapstructure:"s3"`
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocalStorage(cfg.Local)
	case BackendS3:
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
