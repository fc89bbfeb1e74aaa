package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

type ShutdownFunc func()

// Telemetry holds the providers created by New.
type Telemetry struct {
	Logger         logger.Logger
	TracerProvider trace.TracerProvider
	Shutdown       ShutdownFunc
}

// New exports logs and traces of serviceName to the OTLP/HTTP collector at
// serverURL. The returned logger writes to console as well as to the
// collector. The tracer provider is also installed as the otel global.
func New(ctx context.Context, serverURL string, authToken string, serviceName string, console logger.Logger) (*Telemetry, error) {
	otlpURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing otlp url")
	}
	if otlpURL.Scheme != "http" && otlpURL.Scheme != "https" {
		return nil, errors.Newf("otlp url must be http or https, got %q", serverURL)
	}
	logURL := *otlpURL
	logURL.Path = "/v1/logs"
	traceURL := *otlpURL
	traceURL.Path = "/v1/traces"

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if errors.IsAny(err, resource.ErrPartialResource, resource.ErrSchemaURLConflict) {
		if console != nil {
			console.Warn("partial otel resource: %v", err)
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	insecure := otlpURL.Scheme == "http"

	logOpts := []otlploghttp.Option{
		otlploghttp.WithEndpointURL(logURL.String()),
		otlploghttp.WithHeaders(headers),
		otlploghttp.WithTimeout(10 * time.Second),
		otlploghttp.WithCompression(otlploghttp.GzipCompression),
	}
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(traceURL.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if insecure {
		logOpts = append(logOpts, otlploghttp.WithInsecure())
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating log exporter")
	}
	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "error creating trace exporter")
	}

	logProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tracerProvider)

	log := logger.NewOtelLogger(logProvider.Logger(serviceName), logger.LevelTrace)
	if console != nil {
		log = console.Stack(log)
	}

	return &Telemetry{
		Logger:         log,
		TracerProvider: tracerProvider,
		Shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := multierr.Combine(tracerProvider.Shutdown(ctx), logProvider.Shutdown(ctx))
			if err != nil && console != nil {
				console.Warn("telemetry shutdown: %v", err)
			}
		},
	}, nil
}

// Disabled returns a Telemetry that only logs to console and traces nothing.
func Disabled(console logger.Logger) *Telemetry {
	return &Telemetry{
		Logger:         console,
		TracerProvider: otel.GetTracerProvider(),
		Shutdown:       func() {},
	}
}

// Describe returns the scheme and host of serverURL for startup logs.
func Describe(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
