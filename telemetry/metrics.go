// Package telemetry exposes optional Prometheus counters for an install
// run, following the OpenTelemetry-to-Prometheus bridge pattern the
// teacher's server uses for its own request metrics.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters an install run increments.
type Metrics struct {
	PackagesResolved metric.Int64Counter
	PackagesLinked   metric.Int64Counter
	ScriptsRun       metric.Int64Counter
	BytesFetched     metric.Int64Counter
}

// New registers a Prometheus exporter as the default OTel meter provider
// and creates the counters this installer reports.
func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/a-h/spm")

	if m.PackagesResolved, err = meter.Int64Counter("packages_resolved_total", metric.WithDescription("Total number of dependency nodes resolved")); err != nil {
		return Metrics{}, fmt.Errorf("create packages_resolved_total counter: %w", err)
	}
	if m.PackagesLinked, err = meter.Int64Counter("packages_linked_total", metric.WithDescription("Total number of packages extracted and linked")); err != nil {
		return Metrics{}, fmt.Errorf("create packages_linked_total counter: %w", err)
	}
	if m.ScriptsRun, err = meter.Int64Counter("scripts_run_total", metric.WithDescription("Total number of lifecycle scripts executed")); err != nil {
		return Metrics{}, fmt.Errorf("create scripts_run_total counter: %w", err)
	}
	if m.BytesFetched, err = meter.Int64Counter("bytes_fetched_total", metric.WithDescription("Total bytes of tarball and version metadata fetched from the registry")); err != nil {
		return Metrics{}, fmt.Errorf("create bytes_fetched_total counter: %w", err)
	}

	return m, nil
}

// ListenAndServe serves the /metrics endpoint on addr until ctx is done
// or the server fails.
func ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		slog.Debug("metrics server shutting down", slog.String("addr", addr))
		srv.Close()
	}()
	slog.Info("metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// IncrementResolved records n packages resolved.
func (m Metrics) IncrementResolved(ctx context.Context, n int64) {
	if m.PackagesResolved == nil {
		return
	}
	m.PackagesResolved.Add(ctx, n)
}

// IncrementLinked records n packages linked.
func (m Metrics) IncrementLinked(ctx context.Context, n int64) {
	if m.PackagesLinked == nil {
		return
	}
	m.PackagesLinked.Add(ctx, n)
}

// IncrementScriptsRun records n lifecycle scripts executed.
func (m Metrics) IncrementScriptsRun(ctx context.Context, n int64) {
	if m.ScriptsRun == nil {
		return
	}
	m.ScriptsRun.Add(ctx, n)
}

// AddBytesFetched records bytes fetched from the registry.
func (m Metrics) AddBytesFetched(ctx context.Context, n int64) {
	if m.BytesFetched == nil {
		return
	}
	m.BytesFetched.Add(ctx, n)
}
