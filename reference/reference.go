// Package reference implements the tagged reference variant described in
// spm-package.json dependency entries: a version range, an exact version, a
// URL, or a filesystem path. Parsing happens once, at manifest ingestion,
// so the rest of the pipeline never re-inspects the raw string.
package reference

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind identifies which shape a Reference takes.
type Kind int

const (
	// Range is a semver range such as "^1.2.0" that has not yet been pinned.
	Range Kind = iota
	// Exact is a concrete semver version such as "1.2.3".
	Exact
	// URL is an absolute http(s) tarball URL.
	URL
	// Path is a filesystem path, relative or absolute.
	Path
	// Root is the sentinel reference held by the resolved tree's root node:
	// it is not fetched or extracted, it represents the project itself.
	Root
)

// Reference is an immutable pointer to the source of a package.
type Reference struct {
	Kind Kind
	Raw  string
}

// RootReference is the sentinel reference for the project root node.
func RootReference() Reference {
	return Reference{Kind: Root}
}

// Parse classifies a raw dependency-descriptor string into a Reference.
// It never performs network I/O: ranges are recognised syntactically and
// left unpinned until resolve.PinReference fetches a version list for them.
func Parse(raw string) Reference {
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Reference{Kind: URL, Raw: raw}
	case strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "./"), strings.HasPrefix(raw, "../"):
		return Reference{Kind: Path, Raw: raw}
	default:
		if _, err := semver.NewVersion(raw); err == nil && looksExact(raw) {
			return Reference{Kind: Exact, Raw: raw}
		}
		return Reference{Kind: Range, Raw: raw}
	}
}

// looksExact rejects inputs that semver.NewVersion accepts loosely (such as
// "1" or "1.2" with implied zero components, or ranges it can coerce) but
// that npm would treat as a range. A reference is only Exact when it parses
// as a fully-specified three-component version, optionally with a
// pre-release or build tag.
func looksExact(raw string) bool {
	raw = strings.TrimPrefix(raw, "v")
	core := strings.SplitN(strings.SplitN(raw, "+", 2)[0], "-", 2)[0]
	dot := strings.Count(core, ".")
	return dot >= 2 && !strings.ContainsAny(core, "<>~^ |*x X")
}

// Equal reports whether two references denote the same pin.
func (r Reference) Equal(other Reference) bool {
	return r.Kind == other.Kind && r.Raw == other.Raw
}

// String implements fmt.Stringer for log messages and error text.
func (r Reference) String() string {
	switch r.Kind {
	case Root:
		return "<root>"
	case Exact:
		return r.Raw
	case Range:
		return r.Raw
	case URL:
		return r.Raw
	case Path:
		return r.Raw
	default:
		return r.Raw
	}
}
