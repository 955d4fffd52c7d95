package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "livevoice".
	ServiceName    string
	ServiceVersion string

	// SessionID, if set, is attached to every exported metric and span as
	// the service instance.
	SessionID string

	// TraceExporter is optional. Without one spans are recorded but not
	// exported.
	TraceExporter sdktrace.SpanExporter

	// SkipGlobal leaves the global OTel providers untouched. Tests use it to
	// avoid cross-test pollution.
	SkipGlobal bool
}

// Telemetry holds the SDK providers and the Prometheus handler serving their
// metrics.
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider

	registry *prometheus.Registry
}

// InitProvider sets up a meter provider exporting to a private Prometheus
// registry (plus Go runtime and process collectors) and a tracer provider.
// Unless cfg.SkipGlobal is set both become the global OTel providers.
//
// Call [Telemetry.Shutdown] before exiting.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "livevoice"
	}

	attrs := []resource.Option{resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)}
	if cfg.SessionID != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceID(cfg.SessionID)))
	}
	attrs = append(attrs, resource.WithSchemaURL(semconv.SchemaURL), resource.WithTelemetrySDK())
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := errors.Join(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	); err != nil {
		return nil, err
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	if !cfg.SkipGlobal {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	}
	return &Telemetry{MeterProvider: mp, TracerProvider: tp, registry: reg}, nil
}

// Handler serves the registry in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes and closes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.MeterProvider.Shutdown(ctx), t.TracerProvider.Shutdown(ctx))
}
