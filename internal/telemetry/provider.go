// Package telemetry installs the global OpenTelemetry providers used by the
// otelslog loggers and tracers of every package.
package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/koscakluka/ema-graph/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls the installed providers.
type Config struct {
	// Enabled installs the providers. When false Setup is a no-op and all
	// telemetry is discarded.
	Enabled bool `env:"EMA_OTEL_ENABLED" envDefault:"true"`
	// Endpoint is the OTLP/HTTP endpoint spans are exported to. Spans are
	// recorded but not exported when empty.
	Endpoint string `env:"EMA_OTEL_ENDPOINT"`
}

type options struct {
	verbose bool
	writer  io.Writer
}

type Option func(*options)

// WithVerbose emits debug log records.
func WithVerbose(verbose bool) Option {
	return func(o *options) { o.verbose = verbose }
}

// WithWriter sets where log records are written, os.Stderr by default.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// LoadConfig reads the telemetry configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Setup installs a log provider writing records to stderr and a tracer
// provider for serviceName.
//
// The returned shutdown function flushes pending records and spans and should
// be deferred by the caller.
func Setup(ctx context.Context, serviceName string, cfg Config, opts ...Option) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	o := options{writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	logExporter, err := stdoutlog.New(stdoutlog.WithWriter(o.writer))
	if err != nil {
		return noop, err
	}
	minSeverity := log.SeverityInfo
	if o.verbose {
		minSeverity = log.SeverityDebug
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(severityFilter{
			Processor: sdklog.NewSimpleProcessor(logExporter),
			min:       minSeverity,
		}),
	)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.Endpoint != "" {
		traceExporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
		)
		if err != nil {
			return noop, errors.Join(err, lp.Shutdown(ctx))
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	global.SetLoggerProvider(lp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), lp.Shutdown(ctx))
	}, nil
}

// severityFilter drops records below min.
type severityFilter struct {
	sdklog.Processor
	min log.Severity
}

func (f severityFilter) OnEmit(ctx context.Context, record *sdklog.Record) error {
	if record.Severity() < f.min {
		return nil
	}
	return f.Processor.OnEmit(ctx, record)
}
