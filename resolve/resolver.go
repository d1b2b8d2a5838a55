// Package resolve walks a project's dependency graph, pinning version
// ranges to concrete versions and producing a deduplicated tree of
// resolved nodes ready for the optimizer.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/a-h/spm/archive"
	"github.com/a-h/spm/manifest"
	"github.com/a-h/spm/reference"
	"github.com/a-h/spm/registry"
)

// Descriptor is a (name, reference) pair as declared in a manifest's
// dependencies map.
type Descriptor struct {
	Name      string
	Reference reference.Reference
}

// Node is a descriptor plus its resolved children. The root node carries
// reference.RootReference() and is never fetched.
type Node struct {
	Descriptor Descriptor
	Children   []*Node
}

// UnsatisfiedRangeError reports that no published version satisfies a
// declared range.
type UnsatisfiedRangeError struct {
	Name  string
	Range string
}

func (e *UnsatisfiedRangeError) Error() string {
	return fmt.Sprintf("no version of %q satisfies range %q", e.Name, e.Range)
}

// VersionFetcher is the subset of registry.Fetcher the resolver needs,
// narrowed so tests can supply a fake without spinning up an HTTP server.
type VersionFetcher interface {
	FetchVersions(name string) ([]string, error)
	FetchTarball(name string, ref reference.Reference) ([]byte, error)
}

// Tracker receives notice of resolution progress. Both methods must be
// safe for concurrent use.
type Tracker interface {
	Add(n int)
	Tick()
}

// Metrics receives a count of dependency nodes resolved. Optional.
type Metrics interface {
	IncrementResolved(ctx context.Context, n int64)
}

// Resolver builds the raw resolved tree for a project.
type Resolver struct {
	Fetcher  VersionFetcher
	Progress Tracker
	// Metrics, if set, is notified each time a descriptor is pinned and
	// its dependencies read.
	Metrics Metrics
}

// New constructs a Resolver. progress may be nil to disable tracking.
func New(fetcher VersionFetcher, progress Tracker) *Resolver {
	return &Resolver{Fetcher: fetcher, Progress: progress}
}

// PinReference resolves a version range to the highest satisfying
// published version. Exact versions, URLs, and paths pass through
// unchanged without any network call.
func (r *Resolver) PinReference(name string, ref reference.Reference) (reference.Reference, error) {
	if ref.Kind != reference.Range {
		return ref, nil
	}
	constraint, err := semver.NewConstraint(ref.Raw)
	if err != nil {
		return reference.Reference{}, fmt.Errorf("pin %s: invalid range %q: %w", name, ref.Raw, err)
	}
	versions, err := r.Fetcher.FetchVersions(name)
	if err != nil {
		return reference.Reference{}, fmt.Errorf("pin %s: %w", name, err)
	}
	var candidates semver.Collection
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if constraint.Check(sv) {
			candidates = append(candidates, sv)
		}
	}
	if len(candidates) == 0 {
		return reference.Reference{}, &UnsatisfiedRangeError{Name: name, Range: ref.Raw}
	}
	sort.Sort(candidates)
	best := candidates[len(candidates)-1]
	return reference.Reference{Kind: reference.Exact, Raw: best.Original()}, nil
}

// stripNFor reports the ArchiveReader stripN a reference's tarball needs:
// registry/URL tarballs wrap contents in a top-level "package/" directory,
// local tarballs do not.
func stripNFor(ref reference.Reference) int {
	if ref.Kind == reference.Path {
		return 0
	}
	return 1
}

// ReadDependencies fetches name's tarball and returns the dependency
// descriptors declared in its package.json. A package with no
// "dependencies" key yields an empty slice.
func (r *Resolver) ReadDependencies(name string, ref reference.Reference) ([]Descriptor, error) {
	data, err := r.Fetcher.FetchTarball(name, ref)
	if err != nil {
		return nil, err
	}
	pkgJSON, err := archive.ReadOneFile(data, "package.json", stripNFor(ref))
	if err != nil {
		return nil, fmt.Errorf("read dependencies of %s: %w", name, err)
	}
	pkg, err := manifest.ParsePackage(pkgJSON)
	if err != nil {
		return nil, fmt.Errorf("read dependencies of %s: %w", name, err)
	}
	names := make([]string, 0, len(pkg.Dependencies))
	for depName := range pkg.Dependencies {
		names = append(names, depName)
	}
	sort.Strings(names)
	descriptors := make([]Descriptor, 0, len(names))
	for _, depName := range names {
		descriptors = append(descriptors, Descriptor{Name: depName, Reference: reference.Parse(pkg.Dependencies[depName])})
	}
	return descriptors, nil
}

// satisfied reports whether descriptor d is already satisfied by a
// reference bound in scope, meaning its subtree does not need to be
// resolved afresh.
func satisfied(d Descriptor, scope *Scope) bool {
	bound, ok := scope.Lookup(d.Name)
	if !ok {
		return false
	}
	if bound.Equal(d.Reference) {
		return true
	}
	if d.Reference.Kind == reference.Range {
		constraint, err := semver.NewConstraint(d.Reference.Raw)
		if err != nil {
			return false
		}
		sv, err := semver.NewVersion(bound.Raw)
		if err != nil {
			return false
		}
		return constraint.Check(sv)
	}
	return false
}

// Resolve builds the resolved tree rooted at a synthetic root node whose
// children are the project's direct dependencies.
func (r *Resolver) Resolve(ctx context.Context, root []Descriptor) (*Node, error) {
	node := &Node{Descriptor: Descriptor{Reference: reference.RootReference()}}
	children, err := r.buildChildren(ctx, root, NewScope())
	if err != nil {
		return nil, err
	}
	node.Children = children
	return node, nil
}

// buildChildren resolves each not-already-satisfied descriptor in
// descriptors concurrently, carrying scope down to each branch so that
// siblings do not observe each other's pins during their own descent.
// A descriptor already satisfied by an ancestor's pin is dropped from the
// result: its subtree is assumed reachable via that ancestor.
func (r *Resolver) buildChildren(ctx context.Context, descriptors []Descriptor, scope *Scope) ([]*Node, error) {
	nodes := make([]*Node, len(descriptors))
	g, ctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		i, d := i, d
		if satisfied(d, scope) {
			continue
		}
		g.Go(func() error {
			n, err := r.resolveDescriptor(ctx, d, scope)
			if err != nil {
				return err
			}
			nodes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			result = append(result, n)
		}
	}
	return result, nil
}

func (r *Resolver) resolveDescriptor(ctx context.Context, d Descriptor, scope *Scope) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pinned, err := r.PinReference(d.Name, d.Reference)
	if err != nil {
		return nil, err
	}
	slog.Debug("pinned dependency", slog.String("name", d.Name), slog.String("reference", pinned.Raw))
	deps, err := r.ReadDependencies(d.Name, pinned)
	if err != nil {
		return nil, err
	}
	if r.Progress != nil {
		r.Progress.Add(1)
		defer r.Progress.Tick()
	}
	if r.Metrics != nil {
		r.Metrics.IncrementResolved(ctx, 1)
	}
	childScope := scope.Extend(d.Name, pinned)
	children, err := r.buildChildren(ctx, deps, childScope)
	if err != nil {
		return nil, err
	}
	return &Node{
		Descriptor: Descriptor{Name: d.Name, Reference: pinned},
		Children:   children,
	}, nil
}

var _ VersionFetcher = (*registry.Fetcher)(nil)
