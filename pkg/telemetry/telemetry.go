package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/hive/pkg/errors"
)

// Exporters accepted by Config.Exporter.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Instrumentation scopes, one per layer that starts spans.
const (
	ScopeGateway  = "github.com/jllopis/hive/gateway"
	ScopeHive     = "github.com/jllopis/hive/hive"
	ScopeProtocol = "github.com/jllopis/hive/protocol"
)

const (
	defaultServiceName    = "hive"
	defaultExportInterval = time.Minute
)

// ShutdownFunc flushes and stops the providers installed by Init.
type ShutdownFunc func(context.Context) error

// Config selects where spans and metrics go. The zero value exports to
// stdout once a minute.
type Config struct {
	ServiceName    string
	Version        string
	Exporter       string
	OTLPEndpoint   string
	OTLPInsecure   bool
	ExportInterval time.Duration
	// Servers are the tool servers this gateway fronts. They are recorded on
	// the resource so every span and metric can be traced back to a fleet.
	Servers []string
}

// Tracer returns the tracer of one instrumentation scope.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}

// Init installs the global tracer and meter providers. The W3C trace
// context propagator is installed even with the "none" exporter, since
// protocol clients forward traceparent to tool servers regardless.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	spans, readings, err := exporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := Resource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(readings, metric.WithInterval(interval))),
		metric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func exporters(ctx context.Context, cfg Config) (sdktrace.SpanExporter, metric.Exporter, error) {
	switch cfg.Exporter {
	case "", ExporterStdout:
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, errors.New(errors.CodeConfig, "failed to create stdout span exporter", err)
		}
		readings, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, errors.New(errors.CodeConfig, "failed to create stdout metric exporter", err)
		}
		return spans, readings, nil

	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return nil, nil, errors.Errorf(errors.CodeConfig, "telemetry.otlp_endpoint is required for the otlp exporter")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spans, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, errors.New(errors.CodeTransport, "failed to create otlp span exporter", err).
				WithContext("endpoint", cfg.OTLPEndpoint)
		}
		readings, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, nil, errors.New(errors.CodeTransport, "failed to create otlp metric exporter", err).
				WithContext("endpoint", cfg.OTLPEndpoint)
		}
		return spans, readings, nil

	default:
		return nil, nil, errors.Errorf(errors.CodeConfig, "unknown telemetry exporter %q", cfg.Exporter)
	}
}

// Resource describes the gateway process.
func Resource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	if len(cfg.Servers) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrServers, cfg.Servers))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "failed to build telemetry resource", err)
	}
	return res, nil
}
