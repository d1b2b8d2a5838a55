package cache

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestFileSystemPutGetStat(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	w, err := fs.Put(ctx, "a/1.0.0.tgz")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := w.Write([]byte("tarball-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	size, exists, err := fs.Stat(ctx, "a/1.0.0.tgz")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !exists || size != int64(len("tarball-bytes")) {
		t.Fatalf("Stat() = (%d, %v), want (%d, true)", size, exists, len("tarball-bytes"))
	}

	r, exists, err := fs.Get(ctx, "a/1.0.0.tgz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !exists {
		t.Fatal("expected entry to exist")
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, []byte("tarball-bytes")) {
		t.Errorf("got %q", data)
	}
}

func TestFileSystemMissingEntry(t *testing.T) {
	fs := NewFileSystem(t.TempDir())
	ctx := context.Background()

	_, exists, err := fs.Get(ctx, "missing.tgz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exists {
		t.Error("expected exists = false")
	}

	_, exists, err = fs.Stat(ctx, "missing.tgz")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if exists {
		t.Error("expected exists = false")
	}
}
