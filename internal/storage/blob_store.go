package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"imagedrop/internal/config"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrInvalidKey   = errors.New("invalid blob key")

	// ErrBlobLeftBehind means Put failed after the blob became visible and
	// could not take it back. The key must be treated as an orphan.
	ErrBlobLeftBehind = errors.New("blob left behind by failed put")
)

// BlobStore holds image bytes addressed by key. Put must publish atomically:
// a key is either absent or holds the complete content.
type BlobStore interface {
	Ensure(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (PutResult, error)
	Open(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Walk(ctx context.Context, fn func(ObjectInfo) error) error
	Ping(ctx context.Context) error
}

// StagingReaper is implemented by stores that stage writes in files of their
// own. ReapStaging removes staging files last modified before cutoff.
type StagingReaper interface {
	ReapStaging(ctx context.Context, cutoff time.Time) (int, error)
}

type PutResult struct {
	Key       string
	SizeBytes int64
}

// Object is an open blob. The caller must close Body.
type Object struct {
	Body      io.ReadCloser
	SizeBytes int64
}

type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// New returns the blob store selected by cfg.Backend.
func New(cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendDisk, "":
		return NewDiskStore(cfg.Root)
	case config.StorageBackendS3:
		return NewObjectStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Key builds the blob key for a record id and extension.
func Key(id, extension string) string {
	return id + "." + extension
}

// SplitKey returns the id and extension encoded in a key built by Key.
func SplitKey(key string) (id, extension string, ok bool) {
	idx := strings.LastIndexByte(key, '.')
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// keys are flat file names; anything that could escape the namespace is refused.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
