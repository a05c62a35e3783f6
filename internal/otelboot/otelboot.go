// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelboot initializes the global OTel providers for one monitor
// instance. With an OTLP target configured it wires batched OTLP/HTTP
// exporters for traces, metrics and logs; without one, traces and metrics
// are noop and logs fall back to a stdout exporter so nothing is lost on a
// bare deployment.
package otelboot

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/watchwire/sentinel/internal/detector"
)

// Config carries everything the providers need; zero durations fall back
// to the SDK defaults.
type Config struct {
	ServiceName    string
	ServiceVersion string
	InstanceID     string
	Location       string

	OTLPTarget string

	TraceSampling      float64
	TraceBatchTimeout  time.Duration
	MetricExportPeriod time.Duration
	LogBatchTimeout    time.Duration
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// Init installs the global TracerProvider, MeterProvider, LoggerProvider
// and text-map propagator, returning a shutdown function that flushes all
// of them. Call the shutdown function after every subsystem has stopped.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.TraceBatchTimeout <= 0 {
		cfg.TraceBatchTimeout = 5 * time.Second
	}
	if cfg.MetricExportPeriod <= 0 {
		cfg.MetricExportPeriod = time.Minute
	}
	if cfg.LogBatchTimeout <= 0 {
		cfg.LogBatchTimeout = time.Second
	}

	res, err := detectResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var shutdowns []shutdowner

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.Baggage{},
		propagation.TraceContext{},
	))

	if cfg.OTLPTarget == "" {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
	} else {
		tp, err := initTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp)

		mp, err := initMeterProvider(ctx, cfg, res)
		if err != nil {
			return nil, err
		}
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp)
	}

	lp, err := initLoggerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	global.SetLoggerProvider(lp)
	shutdowns = append(shutdowns, lp)

	return func(ctx context.Context) error {
		var errs error
		for _, s := range shutdowns {
			if err := s.Shutdown(ctx); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		return errs
	}, nil
}

func initTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPTarget))
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(
		exp,
		sdktrace.WithBatchTimeout(cfg.TraceBatchTimeout),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.TraceSampling)),
		sdktrace.WithSpanProcessor(bsp),
	), nil
}

func initMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.OTLPTarget))
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(
		exp,
		sdkmetric.WithInterval(cfg.MetricExportPeriod),
	)

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}

func initLoggerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	p, err := initLogProcessor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(p),
	), nil
}

func initLogProcessor(ctx context.Context, cfg Config) (sdklog.Processor, error) {
	if cfg.OTLPTarget == "" {
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, err
		}
		return sdklog.NewSimpleProcessor(exp), nil
	}

	exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpoint(cfg.OTLPTarget))
	if err != nil {
		return nil, err
	}

	return sdklog.NewBatchProcessor(
		exp,
		sdklog.WithExportInterval(cfg.LogBatchTimeout),
	), nil
}

func detectResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.Detect(
		ctx,
		detector.TelemetrySDK(),
		detector.Host(),
		detector.ServiceName(cfg.ServiceName),
		detector.ServiceVersion(cfg.ServiceVersion),
		detector.Instance(cfg.InstanceID, cfg.Location),
	)
}
