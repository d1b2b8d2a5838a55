package registry

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/a-h/spm/reference"
)

func TestFetchTarballFromPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.tgz")
	if err := os.WriteFile(p, []byte("tarball-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f := New("", nil)
	got, err := f.FetchTarball("a", reference.Reference{Kind: reference.Path, Raw: p})
	if err != nil {
		t.Fatalf("FetchTarball: %v", err)
	}
	if string(got) != "tarball-bytes" {
		t.Errorf("got %q", got)
	}
}

func TestFetchTarballExactVersion(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("tgz-bytes"))
	}))
	defer srv.Close()

	f := New(srv.URL, nil)
	got, err := f.FetchTarball("a", reference.Reference{Kind: reference.Exact, Raw: "1.2.3"})
	if err != nil {
		t.Fatalf("FetchTarball: %v", err)
	}
	if string(got) != "tgz-bytes" {
		t.Errorf("got %q", got)
	}
	if want := "/a/-/a-1.2.3.tgz"; gotPath != want {
		t.Errorf("requested path = %q, want %q", gotPath, want)
	}
}

func TestFetchTarballScopedPackage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte("tgz-bytes"))
	}))
	defer srv.Close()

	f := New(srv.URL, nil)
	if _, err := f.FetchTarball("@scope/a", reference.Reference{Kind: reference.Exact, Raw: "1.0.0"}); err != nil {
		t.Fatalf("FetchTarball: %v", err)
	}
	if want := "/@scope%2Fa/-/a-1.0.0.tgz"; gotPath != want {
		t.Errorf("requested path = %q, want %q", gotPath, want)
	}
}

func TestFetchTarballNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(srv.URL, nil)
	_, err := f.FetchTarball("a", reference.Reference{Kind: reference.Exact, Raw: "1.2.3"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"versions":{"1.2.0":{},"1.2.5":{},"2.0.0":{}}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, nil)
	versions, err := f.FetchVersions("a")
	if err != nil {
		t.Fatalf("FetchVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d versions, want 3: %v", len(versions), versions)
	}
}

func TestFetchAttachesBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"versions":{}}`))
	}))
	defer srv.Close()

	f := New(srv.URL, NewTokenAuth("opaque-token"))
	if _, err := f.FetchVersions("a"); err != nil {
		t.Fatalf("FetchVersions: %v", err)
	}
	if want := "Bearer opaque-token"; gotAuth != want {
		t.Errorf("Authorization header = %q, want %q", gotAuth, want)
	}
}
