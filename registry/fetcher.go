// Package registry retrieves package tarballs and version lists from an
// npm-compatible registry, or from a local path/absolute URL reference.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/a-h/spm/reference"
)

// DefaultHost is the registry queried when no override is configured.
const DefaultHost = "https://registry.yarnpkg.com"

// Metrics receives a count of tarball/metadata bytes read from the
// registry. Optional.
type Metrics interface {
	AddBytesFetched(ctx context.Context, n int64)
}

// Fetcher retrieves tarballs and version metadata over HTTP, or from the
// local filesystem for Path references.
type Fetcher struct {
	Host       string
	HTTPClient *http.Client
	Auth       *TokenAuth
	// Metrics, if set, is notified of every successful HTTP response body
	// read.
	Metrics Metrics
}

// New constructs a Fetcher against host, defaulting the HTTP client's
// timeout the way a well-behaved CLI tool should: bounded, but generous
// enough for a large tarball over a slow link.
func New(host string, auth *TokenAuth) *Fetcher {
	if host == "" {
		host = DefaultHost
	}
	return &Fetcher{
		Host:       host,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Auth:       auth,
	}
}

// FetchError reports an unsuccessful fetch, naming what was being fetched.
type FetchError struct {
	Reference string
	Status    int
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %q: %v", e.Reference, e.Err)
	}
	return fmt.Sprintf("fetch %q: unexpected status %d", e.Reference, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchTarball retrieves a package's tarball bytes. ref must already be
// pinned to an exact version, a URL, or a local path — never a range.
func (f *Fetcher) FetchTarball(name string, ref reference.Reference) ([]byte, error) {
	switch ref.Kind {
	case reference.Path:
		data, err := os.ReadFile(ref.Raw)
		if err != nil {
			return nil, &FetchError{Reference: ref.Raw, Err: err}
		}
		return data, nil
	case reference.Exact:
		tarballURL := fmt.Sprintf("%s/%s/-/%s-%s.tgz", f.Host, url.PathEscape(name), tarballBaseName(name), ref.Raw)
		return f.get(tarballURL)
	case reference.URL:
		return f.get(ref.Raw)
	default:
		return nil, fmt.Errorf("fetch tarball for %s: reference %q is not pinned", name, ref)
	}
}

// tarballBaseName strips a scope prefix ("@scope/name" -> "name") since
// npm's tarball filename uses only the unscoped name, even though the URL
// path segment keeps the scope.
func tarballBaseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// versionList is the subset of the registry's abbreviated package
// metadata document this installer reads.
type versionList struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// FetchVersions returns the published version strings for name.
func (f *Fetcher) FetchVersions(name string) ([]string, error) {
	body, err := f.get(fmt.Sprintf("%s/%s", f.Host, url.PathEscape(name)))
	if err != nil {
		return nil, err
	}
	var vl versionList
	if err := json.Unmarshal(body, &vl); err != nil {
		return nil, fmt.Errorf("parse version list for %q: %w", name, err)
	}
	versions := make([]string, 0, len(vl.Versions))
	for v := range vl.Versions {
		versions = append(versions, v)
	}
	return versions, nil
}

func (f *Fetcher) get(rawURL string) ([]byte, error) {
	slog.Debug("fetching", slog.String("url", rawURL))
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Reference: rawURL, Err: err}
	}
	if f.Auth != nil {
		token, err := f.Auth.BearerToken()
		if err != nil {
			return nil, &FetchError{Reference: rawURL, Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		slog.Warn("fetch failed", slog.String("url", rawURL), slog.String("error", err.Error()))
		return nil, &FetchError{Reference: rawURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("fetch returned non-2xx status", slog.String("url", rawURL), slog.Int("status", resp.StatusCode))
		return nil, &FetchError{Reference: rawURL, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Reference: rawURL, Err: err}
	}
	if f.Metrics != nil {
		f.Metrics.AddBytesFetched(context.Background(), int64(len(data)))
	}
	return data, nil
}
