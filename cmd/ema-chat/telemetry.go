package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/koscakluka/ema-chat/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "ema-chat"

// setupTelemetry installs the SDK providers. Spans go to the OTLP collector
// when one is configured, everything else is written to the telemetry file.
// The terminal belongs to the UI so nothing is written to stdout. With
// neither configured the no-op providers stay in place.
func setupTelemetry(cfg config.TelemetryConfig) (func(context.Context) error, error) {
	ctx := context.Background()
	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			if err := shutdowns[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (func(context.Context) error, error) {
		_ = shutdown(ctx)
		return nil, err
	}

	// file stays a nil interface without a telemetry file.
	var file io.Writer
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry file: %w", err)
		}
		file = f
		shutdowns = append(shutdowns, func(context.Context) error { return f.Close() })
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceProvider, err := initTracer(ctx, cfg, file, res)
	if err != nil {
		return fail(err)
	}
	if traceProvider != nil {
		otel.SetTracerProvider(traceProvider)
		shutdowns = append(shutdowns, traceProvider.Shutdown)
	}

	if file == nil {
		return shutdown, nil
	}

	meterProvider, err := initMetrics(file, res)
	if err != nil {
		return fail(err)
	}
	otel.SetMeterProvider(meterProvider)
	shutdowns = append(shutdowns, meterProvider.Shutdown)

	loggerProvider, err := initLogs(cfg, file, res)
	if err != nil {
		return fail(err)
	}
	global.SetLoggerProvider(loggerProvider)
	shutdowns = append(shutdowns, loggerProvider.Shutdown)

	logger.Info("telemetry initialized", slog.String("file", cfg.File), slog.String("otlp_endpoint", cfg.OTLPEndpoint))
	return shutdown, nil
}

func initTracer(ctx context.Context, cfg config.TelemetryConfig, file io.Writer, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	if file == nil {
		return nil, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func initMetrics(file io.Writer, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(file))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

func initLogs(cfg config.TelemetryConfig, file io.Writer, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := stdoutlog.New(stdoutlog.WithWriter(file))
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(severityFilter{
			Processor: sdklog.NewBatchProcessor(exporter),
			min:       parseSeverity(cfg.LogLevel),
		}),
		sdklog.WithResource(res),
	), nil
}

// severityFilter drops log records below min before they reach the exporter.
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

func parseSeverity(level string) log.Severity {
	switch level {
	case "debug":
		return log.SeverityDebug
	case "warn":
		return log.SeverityWarn
	case "error":
		return log.SeverityError
	default:
		return log.SeverityInfo
	}
}
