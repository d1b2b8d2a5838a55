// Command spm resolves a project's dependencies against an npm-compatible
// registry, optimizes the resulting tree, and links it onto disk.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/alecthomas/kong"

	"github.com/a-h/spm/cache"
	"github.com/a-h/spm/link"
	"github.com/a-h/spm/manifest"
	"github.com/a-h/spm/optimize"
	"github.com/a-h/spm/progress"
	"github.com/a-h/spm/reference"
	"github.com/a-h/spm/registry"
	"github.com/a-h/spm/resolve"
	"github.com/a-h/spm/telemetry"
)

// CLI is the top-level command, mirroring the installer's single
// operation: resolve and link a project's dependencies.
type CLI struct {
	ProjectDir string `arg:"" optional:"" help:"Project directory containing spm-package.json" default:"."`
	InstallDir string `arg:"" optional:"" help:"Directory to install spm_node_modules into (defaults to project-dir)"`

	Verbose       bool   `help:"Enable debug logging"`
	RegistryHost  string `help:"Registry host to query" default:"https://registry.yarnpkg.com" env:"SPM_REGISTRY_HOST"`
	RegistryToken string `help:"Bearer token for authenticated registry requests" env:"SPM_REGISTRY_TOKEN"`
	CacheDir      string `help:"Directory for the local incremental-build and filesystem tarball cache" default:".spm-cache" env:"SPM_CACHE_DIR"`
	CacheBackend  string `help:"Shared tarball cache backend" enum:"fs,s3" default:"fs" env:"SPM_CACHE_BACKEND"`
	S3Bucket      string `help:"S3 bucket name (required when cache-backend=s3)" env:"SPM_S3_BUCKET"`
	S3Region      string `help:"S3 region" default:"us-east-1" env:"SPM_S3_REGION"`
	S3Endpoint    string `help:"S3 endpoint URL (for MinIO/custom endpoints)" env:"SPM_S3_ENDPOINT"`
	MetricsAddr   string `help:"Address for the Prometheus /metrics endpoint; empty disables it" env:"SPM_METRICS_ADDR"`
}

func (cli *CLI) Run() error {
	opts := &slog.HandlerOptions{}
	if cli.Verbose {
		opts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, opts))
	slog.SetDefault(log)

	projectDir := cli.ProjectDir
	installDir := cli.InstallDir
	if installDir == "" {
		installDir = projectDir
	}

	ctx := context.Background()

	var metrics telemetry.Metrics
	if cli.MetricsAddr != "" {
		var err error
		metrics, err = telemetry.New()
		if err != nil {
			return fmt.Errorf("initialize metrics: %w", err)
		}
		go func() {
			if err := telemetry.ListenAndServe(ctx, cli.MetricsAddr); err != nil {
				log.Error("metrics server exited", slog.String("error", err.Error()))
			}
		}()
	}

	var tarballCache cache.Storage
	switch cli.CacheBackend {
	case "s3":
		if cli.S3Bucket == "" {
			return fmt.Errorf("--s3-bucket must be set when --cache-backend=s3")
		}
		s3cache, err := cache.NewS3(ctx, cache.S3Config{
			Bucket:   cli.S3Bucket,
			Prefix:   "tarballs/",
			Region:   cli.S3Region,
			Endpoint: cli.S3Endpoint,
		})
		if err != nil {
			return fmt.Errorf("create s3 cache: %w", err)
		}
		tarballCache = s3cache
	case "fs":
		tarballCache = cache.NewFileSystem(filepath.Join(cli.CacheDir, "tarballs"))
	default:
		return fmt.Errorf("unknown cache backend %q", cli.CacheBackend)
	}

	stateCache, err := cache.OpenStateCache(filepath.Join(cli.CacheDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state cache: %w", err)
	}
	defer stateCache.Close()

	var auth *registry.TokenAuth
	if cli.RegistryToken != "" {
		auth = registry.NewTokenAuth(cli.RegistryToken)
	}
	fetcher := registry.New(cli.RegistryHost, auth)
	fetcher.Metrics = metrics
	cachedFetcher := &cachingFetcher{fetcher: fetcher, cache: tarballCache, log: log}

	tracker := progress.New(func(total, completed int) {
		log.Debug("progress", slog.Int("total", total), slog.Int("completed", completed))
	})

	project, err := loadProject(projectDir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(project.Dependencies))
	for name := range project.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	descriptors := make([]resolve.Descriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, resolve.Descriptor{Name: name, Reference: reference.Parse(project.Dependencies[name])})
	}

	resolver := resolve.New(cachedFetcher, tracker)
	resolver.Metrics = metrics
	log.Info("resolving dependencies", slog.Int("direct", len(descriptors)))
	root, err := resolver.Resolve(ctx, descriptors)
	if err != nil {
		return fmt.Errorf("resolve dependencies: %w", err)
	}

	optimized := optimize.Optimize(root)

	linker := link.New(cachedFetcher, tracker)
	linker.State = stateCache
	linker.Metrics = metrics
	log.Info("linking dependencies", slog.String("installDir", installDir))
	if err := linker.Install(ctx, optimized, installDir); err != nil {
		return fmt.Errorf("install dependencies: %w", err)
	}

	tracker.Finish()
	log.Info("install complete")
	return nil
}

func loadProject(projectDir string) (manifest.Project, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, "spm-package.json"))
	if err != nil {
		return manifest.Project{}, fmt.Errorf("read spm-package.json: %w", err)
	}
	return manifest.ParseProject(data)
}

// cachingFetcher satisfies both resolve.VersionFetcher and
// link.TarballFetcher, transparently serving a tarball from the shared
// cache before falling back to the registry.
type cachingFetcher struct {
	fetcher *registry.Fetcher
	cache   cache.Storage
	log     *slog.Logger
}

func (c *cachingFetcher) FetchVersions(name string) ([]string, error) {
	return c.fetcher.FetchVersions(name)
}

func (c *cachingFetcher) FetchTarball(name string, ref reference.Reference) ([]byte, error) {
	if ref.Kind != reference.Exact {
		return c.fetcher.FetchTarball(name, ref)
	}
	ctx := context.Background()
	cacheKey := filepath.Join(name, ref.Raw+".tgz")

	if r, exists, err := c.cache.Get(ctx, cacheKey); err == nil && exists {
		data, readErr := io.ReadAll(r)
		r.Close()
		if readErr == nil {
			return data, nil
		}
		c.log.Debug("cache read failed, refetching", slog.String("package", name), slog.String("error", readErr.Error()))
	}

	data, err := c.fetcher.FetchTarball(name, ref)
	if err != nil {
		return nil, err
	}
	if w, err := c.cache.Put(ctx, cacheKey); err == nil {
		if _, writeErr := w.Write(data); writeErr != nil {
			c.log.Debug("cache write failed", slog.String("package", name), slog.String("error", writeErr.Error()))
		}
		w.Close()
	}
	return data, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("spm"),
		kong.Description("Resolve, fetch, and link a project's dependencies"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		// Print usage errors and the failing command's error chain to
		// stdout rather than kong's stderr default.
		kong.Writers(os.Stdout, os.Stdout),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
