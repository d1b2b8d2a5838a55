package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type tarEntry struct {
	name string
	body string
}

func buildTarball(t *testing.T, gzipped bool, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	var tw *tar.Writer
	var gw *gzip.Writer
	if gzipped {
		gw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(gw)
	} else {
		tw = tar.NewWriter(&buf)
	}
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if gzipped {
		if err := gw.Close(); err != nil {
			t.Fatalf("gzip Close: %v", err)
		}
	}
	return buf.Bytes()
}

func TestReadOneFile(t *testing.T) {
	tb := buildTarball(t, true, []tarEntry{
		{"package/package.json", `{"name":"a"}`},
		{"package/index.js", "console.log(1)"},
	})

	got, err := ReadOneFile(tb, "package.json", 1)
	if err != nil {
		t.Fatalf("ReadOneFile: %v", err)
	}
	if string(got) != `{"name":"a"}` {
		t.Errorf("got %q", got)
	}
}

func TestReadOneFileUncompressedPassthrough(t *testing.T) {
	tb := buildTarball(t, false, []tarEntry{{"file.txt", "hello"}})
	got, err := ReadOneFile(tb, "file.txt", 0)
	if err != nil {
		t.Fatalf("ReadOneFile: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestReadOneFileNotFound(t *testing.T) {
	tb := buildTarball(t, true, []tarEntry{{"package/index.js", "x"}})
	_, err := ReadOneFile(tb, "package.json", 1)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestExtractAllSkipsEntryWithExactlyStripNComponents(t *testing.T) {
	// An entry header name with exactly stripN components strips to the
	// empty string and must be skipped silently, not written as a file
	// or directory named "".
	tb := buildTarball(t, true, []tarEntry{{"package", "x"}, {"package/kept.txt", "y"}})
	dir := t.TempDir()
	if err := ExtractAll(tb, dir, 1); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "kept.txt")); err != nil {
		t.Fatalf("expected kept.txt to be extracted: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one extracted entry, got %v", entries)
	}
}

func TestExtractAll(t *testing.T) {
	tb := buildTarball(t, true, []tarEntry{
		{"package/package.json", `{"name":"a"}`},
		{"package/lib/index.js", "x"},
	})
	dir := t.TempDir()
	if err := ExtractAll(tb, dir, 1); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"name":"a"}` {
		t.Errorf("got %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "index.js")); err != nil {
		t.Errorf("lib/index.js missing: %v", err)
	}
}

func TestExtractAllRejectsPathTraversal(t *testing.T) {
	tb := buildTarball(t, true, []tarEntry{{"../escape.txt", "x"}})
	dir := t.TempDir()
	if err := ExtractAll(tb, dir, 0); err == nil {
		t.Fatal("expected error for path traversal entry, got nil")
	}
}

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tb := buildTarball(t, true, []tarEntry{{"a.txt", "payload"}})
	got, err := ReadOneFile(tb, "a.txt", 0)
	if err != nil {
		t.Fatalf("ReadOneFile: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q", got)
	}
}
