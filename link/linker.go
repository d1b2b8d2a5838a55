// Package link extracts a resolved, optimized tree onto disk: fetching
// and unpacking each node, wiring executable shims into .bin directories,
// and running lifecycle scripts with a dependency-aware PATH.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/a-h/spm/archive"
	"github.com/a-h/spm/cache"
	"github.com/a-h/spm/manifest"
	"github.com/a-h/spm/reference"
	"github.com/a-h/spm/resolve"
)

// TarballFetcher is the subset of registry.Fetcher the Linker needs.
type TarballFetcher interface {
	FetchTarball(name string, ref reference.Reference) ([]byte, error)
}

// Tracker receives notice of linking progress, mirroring resolve.Tracker.
type Tracker interface {
	Add(n int)
	Tick()
}

// ScriptError reports that a lifecycle script exited non-zero.
type ScriptError struct {
	Package string
	Phase   string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s script for %s failed: %v", e.Phase, e.Package, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Metrics receives counts of packages linked and lifecycle scripts
// executed. Optional.
type Metrics interface {
	IncrementLinked(ctx context.Context, n int64)
	IncrementScriptsRun(ctx context.Context, n int64)
}

// Linker installs an optimized tree onto disk.
type Linker struct {
	Fetcher  TarballFetcher
	Progress Tracker
	// State, if set, lets Install skip re-extracting and re-running
	// lifecycle scripts for a dependency directory already recorded as
	// installed at its current pinned reference.
	State *cache.StateCache
	// Metrics, if set, is notified of every dependency linked and every
	// lifecycle script executed.
	Metrics Metrics
}

// New constructs a Linker. progress may be nil to disable tracking.
func New(fetcher TarballFetcher, progress Tracker) *Linker {
	return &Linker{Fetcher: fetcher, Progress: progress}
}

const nodeModulesDir = "spm_node_modules"
const binDir = ".bin"

// Install extracts root into cwd (unless root is the sentinel project
// root, which is assumed to already exist there) and recursively installs
// every dependency.
func (l *Linker) Install(ctx context.Context, root *resolve.Node, cwd string) error {
	if root.Descriptor.Reference.Kind != reference.Root {
		if err := l.extract(root.Descriptor.Name, root.Descriptor.Reference, cwd); err != nil {
			return err
		}
	}
	return l.installChildren(ctx, root.Children, cwd)
}

// installChildren installs each of a node's dependency children
// concurrently into cwd/spm_node_modules/<name>.
func (l *Linker) installChildren(ctx context.Context, children []*resolve.Node, cwd string) error {
	if len(children) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return l.installDependency(ctx, child, cwd)
		})
	}
	return g.Wait()
}

func (l *Linker) installDependency(ctx context.Context, child *resolve.Node, cwd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	childCwd := filepath.Join(cwd, nodeModulesDir, filepath.FromSlash(child.Descriptor.Name))
	upToDate := l.alreadyInstalled(child.Descriptor.Name, child.Descriptor.Reference, childCwd)
	if upToDate {
		slog.Debug("skipping already-installed dependency", slog.String("name", child.Descriptor.Name), slog.String("reference", child.Descriptor.Reference.Raw))
	} else {
		if err := l.extract(child.Descriptor.Name, child.Descriptor.Reference, childCwd); err != nil {
			return err
		}
	}
	if err := l.installChildren(ctx, child.Children, childCwd); err != nil {
		return err
	}

	pkg, err := readManifest(childCwd)
	if err != nil {
		return err
	}
	if err := linkBins(cwd, childCwd, pkg); err != nil {
		return err
	}
	if !upToDate {
		if err := runScripts(ctx, childCwd, pkg, l.Metrics); err != nil {
			return err
		}
		l.recordInstalled(child.Descriptor.Name, child.Descriptor.Reference, childCwd)
	}
	if l.Progress != nil {
		l.Progress.Tick()
	}
	if l.Metrics != nil {
		l.Metrics.IncrementLinked(ctx, 1)
	}
	return nil
}

// alreadyInstalled reports whether child is already recorded in l.State
// at its current pinned reference with its directory still present, so
// extraction and lifecycle scripts can be skipped. With no state cache
// configured this always reports false.
func (l *Linker) alreadyInstalled(name string, ref reference.Reference, childCwd string) bool {
	if l.State == nil || ref.Kind == reference.Root {
		return false
	}
	entry, found, err := l.State.Lookup(name, ref.Raw)
	if err != nil || !found || entry.Path != childCwd {
		return false
	}
	if _, err := os.Stat(filepath.Join(childCwd, "package.json")); err != nil {
		return false
	}
	return true
}

func (l *Linker) recordInstalled(name string, ref reference.Reference, childCwd string) {
	if l.State == nil {
		return
	}
	// Best-effort: a failure to record just means the next run redoes
	// the work, which is always safe.
	_ = l.State.Record(name, ref.Raw, cache.InstalledEntry{Path: childCwd})
}

// stripNFor mirrors resolve's dispatch: registry/URL tarballs are wrapped
// in a top-level "package/" directory, local tarballs are not.
func stripNFor(ref reference.Reference) int {
	if ref.Kind == reference.Path {
		return 0
	}
	return 1
}

func (l *Linker) extract(name string, ref reference.Reference, dest string) error {
	data, err := l.Fetcher.FetchTarball(name, ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("install %s: mkdir %q: %w", name, dest, err)
	}
	if err := archive.ExtractAll(data, dest, stripNFor(ref)); err != nil {
		return fmt.Errorf("install %s: %w", name, err)
	}
	return nil
}

func readManifest(dir string) (manifest.Package, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.Package{}, nil
		}
		return manifest.Package{}, fmt.Errorf("read %s: %w", filepath.Join(dir, "package.json"), err)
	}
	pkg, err := manifest.ParsePackage(data)
	if err != nil {
		return manifest.Package{}, err
	}
	return pkg, nil
}

// linkBins creates a relative symlink in cwd/spm_node_modules/.bin for
// every shim the dependency at childCwd declares.
func linkBins(cwd, childCwd string, pkg manifest.Package) error {
	bins := pkg.ResolveBin()
	if len(bins) == 0 {
		return nil
	}
	dir := filepath.Join(cwd, nodeModulesDir, binDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	for shimName, relPath := range bins {
		source, err := filepath.Abs(filepath.Join(childCwd, relPath))
		if err != nil {
			return fmt.Errorf("resolve bin %q for %s: %w", shimName, pkg.Name, err)
		}
		dest := filepath.Join(dir, shimName)
		target, err := filepath.Rel(dir, source)
		if err != nil {
			return fmt.Errorf("relativize bin %q for %s: %w", shimName, pkg.Name, err)
		}
		_ = os.Remove(dest)
		if err := os.Symlink(target, dest); err != nil {
			return fmt.Errorf("symlink bin %q for %s: %w", shimName, pkg.Name, err)
		}
	}
	return nil
}

// runScripts runs a dependency's lifecycle scripts in order, sequentially,
// each with childCwd's own .bin directory prefixed onto PATH.
func runScripts(ctx context.Context, childCwd string, pkg manifest.Package, metrics Metrics) error {
	phases := pkg.Scripts.Phases()
	if len(phases) == 0 {
		return nil
	}
	binPath := filepath.Join(childCwd, nodeModulesDir, binDir)
	env := append(os.Environ(), "PATH="+binPath+string(os.PathListSeparator)+os.Getenv("PATH"))
	for _, phase := range phases {
		slog.Debug("running lifecycle script", slog.String("package", pkg.Name), slog.String("phase", phase.Name))
		cmd := exec.CommandContext(ctx, "sh", "-c", phase.Command)
		cmd.Dir = childCwd
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			slog.Warn("lifecycle script failed", slog.String("package", pkg.Name), slog.String("phase", phase.Name), slog.String("error", err.Error()))
			return &ScriptError{Package: pkg.Name, Phase: phase.Name, Err: err}
		}
		slog.Debug("lifecycle script exited", slog.String("package", pkg.Name), slog.String("phase", phase.Name))
		if metrics != nil {
			metrics.IncrementScriptsRun(ctx, 1)
		}
	}
	return nil
}
