// Package telemetry installs the OpenTelemetry tracer provider shared by the
// API and the worker, so one render can be followed from the HTTP request
// through the queue into both upstream calls.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	serviceNamespace = "kirkproxy"
	componentKey     = attribute.Key("kirkproxy.component")
)

type TraceConfig struct {
	ServiceName string
	// Component is the binary emitting spans: "api" or "worker".
	Component    string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// SampleRatio applies to root spans; children follow their parent.
	SampleRatio float64
	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// SetupTracing installs the global tracer provider and propagator. The
// returned Shutdown must be called before the process exits.
func SetupTracing(ctx context.Context, cfg TraceConfig, logger zerolog.Logger) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	log := logger.With().Str("service", cfg.ServiceName).Str("component", cfg.Component).Logger()
	if exporter == "" || exporter == ExporterNone {
		log.Debug().Msg("span export disabled")
		return noopShutdown, nil
	}

	exp, err := newExporter(ctx, exporter, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	log.Info().Str("exporter", exporter).Float64("sample_ratio", cfg.SampleRatio).Msg("span export enabled")

	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, name string, cfg TraceConfig) (sdktrace.SpanExporter, error) {
	switch name {
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("otlp span exporter: endpoint is required")
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp span exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown span exporter %q", cfg.Exporter)
	}
}

func newResource(cfg TraceConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace(serviceNamespace),
	}
	if cfg.Component != "" {
		attrs = append(attrs, componentKey.String(cfg.Component))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("span resource: %w", err)
	}
	return res, nil
}

// newSampler keeps every trace for ratios outside (0,1).
func newSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
