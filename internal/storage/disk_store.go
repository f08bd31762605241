package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tmpDirName    = ".tmp"
	tmpFilePrefix = "put-"
)

// DiskStore keeps one file per blob directly under root. Writes land in
// root/.tmp first and are renamed into place once complete and synced.
type DiskStore struct {
	root   string
	tmpDir string
}

func NewDiskStore(root string) (*DiskStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("disk store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	return &DiskStore{root: abs, tmpDir: filepath.Join(abs, tmpDirName)}, nil
}

func (s *DiskStore) Root() string {
	return s.root
}

// Ensure creates the root and staging directories.
func (s *DiskStore) Ensure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.tmpDir, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}
	return nil
}

func (s *DiskStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}

func (s *DiskStore) Put(ctx context.Context, key string, r io.Reader, size int64, _ string) (PutResult, error) {
	var zero PutResult
	if r == nil {
		return zero, errors.New("reader is required")
	}
	dst, err := s.path(key)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if _, err := os.Stat(dst); err == nil {
		return zero, fmt.Errorf("%w: %s", ErrBlobExists, key)
	}

	tmp, err := os.CreateTemp(s.tmpDir, tmpFilePrefix+"*")
	if err != nil {
		return zero, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return zero, fmt.Errorf("write temp: %w", err)
	}
	if size >= 0 && n != size {
		cleanup()
		return zero, fmt.Errorf("short write: wrote %d of %d bytes", n, size)
	}
	if err := tmp.Chmod(0o644); err != nil {
		cleanup()
		return zero, fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return zero, fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return zero, fmt.Errorf("close temp: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return zero, fmt.Errorf("publish blob: %w", err)
	}
	if err := syncDir(s.root); err != nil {
		// The rename may not be durable; a failed Put must leave nothing readable.
		if rmErr := os.Remove(dst); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return zero, fmt.Errorf("%w: %s: sync root: %w (remove: %v)", ErrBlobLeftBehind, key, err, rmErr)
		}
		return zero, fmt.Errorf("sync root: %w", err)
	}

	return PutResult{Key: key, SizeBytes: n}, nil
}

func (s *DiskStore) Open(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	path, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return Object{}, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Object{}, err
	}
	return Object{Body: f, SizeBytes: info.Size()}, nil
}

// Delete removes a blob. Missing files are ignored.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Walk visits every published blob. The staging directory is skipped.
func (s *DiskStore) Walk(ctx context.Context, fn func(ObjectInfo) error) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("read storage root: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		if err := fn(ObjectInfo{
			Key:          entry.Name(),
			SizeBytes:    info.Size(),
			LastModified: info.ModTime(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReapStaging removes staging files left behind by interrupted writes.
func (s *DiskStore) ReapStaging(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.tmpDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), tmpFilePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, err
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tmpDir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove staging file: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *DiskStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, key), nil
}

var syncDir = fsyncDir

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
