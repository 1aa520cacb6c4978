package cli

import (
	"context"
	"errors"

	"github.com/stormqa/stormqa/internal/config"
	"github.com/stormqa/stormqa/internal/otel"
)

// setupObservability builds the tracer and metrics from cfg and installs
// them globally. The returned function flushes and shuts both down.
func setupObservability(ctx context.Context, cfg config.OTelConfig) (*otel.Tracer, *otel.Metrics, func(context.Context) error, error) {
	exporter := otel.ExporterType(cfg.Exporter)

	tracer, err := otel.NewTracer(ctx, &otel.Config{
		Enabled:        cfg.Enabled,
		ServiceName:    "stormqa",
		ServiceVersion: Version,
		ExporterType:   exporter,
		OTLPEndpoint:   cfg.Endpoint,
		OTLPInsecure:   cfg.Insecure,
		SampleRate:     cfg.SampleRate,
		Attributes:     cfg.Attributes,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	metrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:        cfg.Enabled,
		ServiceName:    "stormqa",
		ServiceVersion: Version,
		ExporterType:   exporter,
		OTLPEndpoint:   cfg.Endpoint,
		OTLPInsecure:   cfg.Insecure,
		ProcessStats:   cfg.ProcessStats,
		Attributes:     cfg.Attributes,
	})
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, nil, nil, err
	}

	otel.SetGlobalTracer(tracer)
	otel.SetGlobalMetrics(metrics)

	shutdown := func(ctx context.Context) error {
		return errors.Join(metrics.Shutdown(ctx), tracer.Shutdown(ctx))
	}
	return tracer, metrics, shutdown, nil
}
