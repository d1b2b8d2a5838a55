// Package cache provides an optional shared tarball cache (local
// filesystem or S3-compatible object storage) and a local incremental
// build cache recording which dependency directories are already
// up to date, so a repeat install can skip re-extracting and
// re-running lifecycle scripts for a node that has not changed.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Storage abstracts a tarball cache backend keyed by filename (typically
// "<name>/<version>.tgz").
type Storage interface {
	// Stat reports a cached entry's size and whether it exists.
	Stat(ctx context.Context, filename string) (size int64, exists bool, err error)
	// Get opens a cached entry for reading. exists is false if absent.
	Get(ctx context.Context, filename string) (r io.ReadCloser, exists bool, err error)
	// Put returns a writer that stores filename's content as it is written.
	Put(ctx context.Context, filename string) (w io.WriteCloser, err error)
}

var _ Storage = (*FileSystem)(nil)

// FileSystem implements Storage on the local filesystem.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a filesystem-backed cache rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

func (fs *FileSystem) Stat(ctx context.Context, filename string) (int64, bool, error) {
	info, err := os.Stat(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size(), true, nil
}

func (fs *FileSystem) Get(ctx context.Context, filename string) (io.ReadCloser, bool, error) {
	f, err := os.Open(filepath.Join(fs.basePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("cache miss", slog.String("filename", filename))
			return nil, false, nil
		}
		return nil, false, err
	}
	slog.Debug("cache hit", slog.String("filename", filename))
	return f, true, nil
}

func (fs *FileSystem) Put(ctx context.Context, filename string) (io.WriteCloser, error) {
	fullPath := filepath.Join(fs.basePath, filename)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %q: %w", filename, err)
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", filename, err)
	}
	slog.Debug("cache write", slog.String("filename", filename))
	return f, nil
}
