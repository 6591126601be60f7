package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

const (
	defaultServiceName = "image-checker"
	defaultEndpoint    = "localhost:4317"
)

// Config selects the OTLP/gRPC exporter. Environment overrides are applied by
// pkg/config before Setup sees it.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// Shutdown flushes pending spans.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Setup installs the global tracer provider and propagator. Exporter problems
// are logged and leave tracing off; they never fail startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(inboundPropagator())
	if !cfg.Enabled {
		return noop, nil
	}
	cfg = cfg.withDefaults()

	exp, err := otlptracegrpc.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "endpoint", cfg.OTLPEndpoint, "err", err)
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		logger.Warn("otel resource merge failed; using default", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func (c Config) withDefaults() Config {
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	c.OTLPEndpoint = hostPort(c.OTLPEndpoint)
	if c.OTLPEndpoint == "" {
		c.OTLPEndpoint = defaultEndpoint
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
	return c
}

func exporterOptions(c Config) []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.OTLPEndpoint)}
	if c.OTLPInsecure {
		return append(opts, otlptracegrpc.WithInsecure())
	}
	return append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
}

// hostPort accepts either host:port or a URL, as OTEL_EXPORTER_OTLP_ENDPOINT
// is commonly written both ways.
func hostPort(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func inboundPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// InjectHeaders writes traceparent and tracestate for the span in ctx onto
// requests sent to classifiers and callback receivers. Baggage stays in process.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}
