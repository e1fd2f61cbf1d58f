package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/config"
)

// ShutdownFunc flushes and stops an SDK provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func newResource(cfg config.Observability) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func authHeaders(cfg config.Observability) map[string]string {
	if cfg.OtelAuthHeader == "" {
		return nil
	}
	return map[string]string{"Authorization": cfg.OtelAuthHeader}
}

// SetupTracingSDK installs the global propagator and, when an endpoint is
// configured, a batching OTLP/HTTP tracer provider. Without an endpoint the
// global no-op provider stays in place and the returned provider is it.
func SetupTracingSDK(ctx context.Context, cfg config.Observability) (trace.TracerProvider, ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.ExportEnabled() {
		return otel.GetTracerProvider(), noopShutdown, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return otel.GetTracerProvider(), noopShutdown, err
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
		otlptracehttp.WithURLPath(config.TracesPath),
		otlptracehttp.WithHeaders(authHeaders(cfg)),
	)
	if err != nil {
		return otel.GetTracerProvider(), noopShutdown, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(config.ExportTimeout),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// SetupLoggingSDK installs a global OTLP/HTTP logger provider when an
// endpoint is configured.
func SetupLoggingSDK(ctx context.Context, cfg config.Observability) (ShutdownFunc, error) {
	if !cfg.ExportEnabled() {
		return noopShutdown, nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.OtelEndpoint),
		otlploghttp.WithURLPath(config.LogsPath),
		otlploghttp.WithHeaders(authHeaders(cfg)),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("OTLP log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(config.ExportTimeout),
			sdklog.WithMaxQueueSize(config.MaxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)
	return lp.Shutdown, nil
}

// Providers bundles what a binary sets up at start and tears down at exit.
type Providers struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	shutdowns      []ShutdownFunc
}

// Setup builds the logger and the OTel SDKs. Export failures are logged and
// leave the service running without export.
func Setup(ctx context.Context, cfg config.Observability) (*Providers, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	p := &Providers{Logger: logger}

	logShutdown, err := SetupLoggingSDK(ctx, cfg)
	if err != nil {
		logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}
	p.shutdowns = append(p.shutdowns, logShutdown)

	tp, traceShutdown, err := SetupTracingSDK(ctx, cfg)
	if err != nil {
		logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	p.TracerProvider = tp
	p.shutdowns = append(p.shutdowns, traceShutdown)

	if cfg.ExportEnabled() {
		p.Logger = NewBridgedLogger(cfg)
		p.Logger.Info("logger re-initialized with OpenTelemetry bridge")
	}
	return p, nil
}

// Shutdown flushes the SDK providers and the logger.
func (p *Providers) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range p.shutdowns {
		err = errors.Join(err, fn(ctx))
	}
	p.shutdowns = nil
	// Sync on stdout returns EINVAL on some platforms.
	_ = p.Logger.Sync()
	return err
}
