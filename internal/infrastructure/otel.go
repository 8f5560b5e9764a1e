package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"forgecli/internal/config"
)

const serviceName = "forgecli"

// OTelProviders bundles the metric provider, the Prometheus registry the
// status server scrapes, and the optional tracer provider.
type OTelProviders struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider // nil when trace export is off
	Registry       *prometheus.Registry
}

// InitializeOTel sets up metrics export through a Prometheus registry and,
// when configured, span export. Metrics are unconditional; tracing follows
// cfg.TraceExporter.
func InitializeOTel(logger *slog.Logger, cfg config.TelemetryConfig) (*OTelProviders, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	providers := &OTelProviders{MeterProvider: provider, Registry: registry}

	switch cfg.TraceExporter {
	case "stdout":
		spanExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		)
		providers.TracerProvider = tp
		otel.SetTracerProvider(tp)
	case "", "none":
		// Tracing disabled.
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}

	logger.Info("OpenTelemetry initialized",
		slog.String("metric_exporter", "prometheus"),
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("service", serviceName))

	return providers, nil
}

// Meter returns a named meter from the installed provider.
func (p *OTelProviders) Meter(name string) metric.Meter {
	return p.MeterProvider.Meter(name)
}

// Tracer returns a named tracer, or a no-op tracer when trace export is off.
func (p *OTelProviders) Tracer(name string) trace.Tracer {
	if p == nil || p.TracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return p.TracerProvider.Tracer(name)
}

// Shutdown flushes and stops the providers.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
