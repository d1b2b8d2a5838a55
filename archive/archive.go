// Package archive streams tar(.gz) package tarballs: extracting either a
// single named file or the whole tree, with leading path components
// stripped the way a registry wraps a package in a top-level directory.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NotFoundError reports that ReadOneFile reached the end of the archive
// without finding the requested entry.
type NotFoundError struct {
	Filename string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("file %q not found in archive", e.Filename)
}

// decompress wraps buf in a gzip reader if it looks gzip-compressed
// (magic bytes 0x1f 0x8b), otherwise passes it through unchanged so local,
// already-uncompressed tarballs work the same way.
func decompress(buf []byte) (io.Reader, error) {
	if len(buf) >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		gr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gr, nil
	}
	return bytes.NewReader(buf), nil
}

// stripPath removes leading slashes from name, then removes exactly the
// first n '/'-delimited components. It reports false if name has fewer
// than n components (an unmatched/skippable entry).
func stripPath(name string, n int) (stripped string, ok bool) {
	name = strings.TrimLeft(name, "/")
	if n == 0 {
		return name, true
	}
	parts := strings.Split(name, "/")
	if len(parts) < n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

// ReadOneFile streams the tar entries in buf and returns the bytes of the
// entry whose stripped path equals filename. Every entry is fully read
// (even when skipped) so the tar stream advances correctly.
func ReadOneFile(buf []byte, filename string, stripN int) ([]byte, error) {
	r, err := decompress(buf)
	if err != nil {
		return nil, err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, &NotFoundError{Filename: filename}
		}
		if err != nil {
			return nil, fmt.Errorf("read tar entry: %w", err)
		}
		stripped, ok := stripPath(hdr.Name, stripN)
		if !ok || stripped != filename {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", filename, err)
		}
		return data, nil
	}
}

// ExtractAll streams the tar entries in buf and writes each to targetDir,
// applying the same path-stripping transform to the entry name. Entries
// whose stripped name is empty are skipped silently.
func ExtractAll(buf []byte, targetDir string, stripN int) error {
	r, err := decompress(buf)
	if err != nil {
		return err
	}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		stripped, ok := stripPath(hdr.Name, stripN)
		if !ok || stripped == "" {
			continue
		}
		dest, err := safeJoin(targetDir, stripped)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", dest, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdrMode(hdr))
			if err != nil {
				return fmt.Errorf("create %q: %w", dest, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("write %q: %w", dest, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %q: %w", dest, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("symlink %q: %w", dest, err)
			}
		default:
			// Skip device files, fifos, and other entry kinds a package
			// tarball has no business containing.
			slog.Debug("skipping tar entry", slog.String("name", hdr.Name), slog.Any("typeflag", hdr.Typeflag))
		}
	}
}

func hdrMode(hdr *tar.Header) os.FileMode {
	mode := os.FileMode(hdr.Mode) & 0o777
	if mode == 0 {
		return 0o644
	}
	return mode
}

// safeJoin joins targetDir and name, rejecting any entry whose resolved
// path would escape targetDir (a "zip-slip" tar entry using ../).
func safeJoin(targetDir, name string) (string, error) {
	dest := filepath.Join(targetDir, name)
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry %q escapes target directory", name)
	}
	return dest, nil
}
