package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// ProcessStats adds CPU and RSS gauges for the client process.
	ProcessStats bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  serviceName,
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics with run-specific helpers.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	activeUsers atomic.Int64
	runActive   atomic.Int64
	sampler     processSampler

	runsStarted    metric.Int64Counter
	runsEnded      metric.Int64Counter
	samples        metric.Int64Counter
	droppedPushes  metric.Int64Counter
	requestErrors  metric.Int64Counter
	sampleLatency  metric.Float64Histogram
	usersGauge     metric.Int64ObservableGauge
	runGauge       metric.Int64ObservableGauge
	cpuGauge       metric.Float64ObservableGauge
	rssGauge       metric.Int64ObservableGauge
	callbackReg    metric.Registration
}

var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := createMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := createResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if cfg.ProcessStats {
		sampler, err := NewProcessSampler()
		if err != nil {
			return nil, fmt.Errorf("failed to open process sampler: %w", err)
		}
		m.sampler = sampler
	}

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

func createMetricExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.runsStarted, err = m.meter.Int64Counter(
		"stormqa.runs.started",
		metric.WithDescription("Count of dispatched test runs"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs started counter: %w", err)
	}

	m.runsEnded, err = m.meter.Int64Counter(
		"stormqa.runs.ended",
		metric.WithDescription("Count of test runs by terminal state"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs ended counter: %w", err)
	}

	m.samples, err = m.meter.Int64Counter(
		"stormqa.telemetry.samples",
		metric.WithDescription("Count of telemetry samples absorbed"),
	)
	if err != nil {
		return fmt.Errorf("failed to create samples counter: %w", err)
	}

	m.droppedPushes, err = m.meter.Int64Counter(
		"stormqa.pushes.dropped",
		metric.WithDescription("Count of engine pushes dropped outside a run"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dropped pushes counter: %w", err)
	}

	m.requestErrors, err = m.meter.Int64Counter(
		"stormqa.engine.request_errors",
		metric.WithDescription("Count of engine requests that could not be delivered"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request errors counter: %w", err)
	}

	m.sampleLatency, err = m.meter.Float64Histogram(
		"stormqa.telemetry.avg_latency",
		metric.WithDescription("Average latency reported by telemetry samples"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sample latency histogram: %w", err)
	}

	m.usersGauge, err = m.meter.Int64ObservableGauge(
		"stormqa.live.active_users",
		metric.WithDescription("Active virtual users in the latest sample"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active users gauge: %w", err)
	}

	m.runGauge, err = m.meter.Int64ObservableGauge(
		"stormqa.run.active",
		metric.WithDescription("1 while a test is running"),
	)
	if err != nil {
		return fmt.Errorf("failed to create run gauge: %w", err)
	}

	observables := []metric.Observable{m.usersGauge, m.runGauge}

	if m.sampler != nil {
		m.cpuGauge, err = m.meter.Float64ObservableGauge(
			"stormqa.process.cpu",
			metric.WithDescription("CPU usage of the client process"),
			metric.WithUnit("%"),
		)
		if err != nil {
			return fmt.Errorf("failed to create cpu gauge: %w", err)
		}
		m.rssGauge, err = m.meter.Int64ObservableGauge(
			"stormqa.process.rss",
			metric.WithDescription("Resident memory of the client process"),
			metric.WithUnit("By"),
		)
		if err != nil {
			return fmt.Errorf("failed to create rss gauge: %w", err)
		}
		observables = append(observables, m.cpuGauge, m.rssGauge)
	}

	m.callbackReg, err = m.meter.RegisterCallback(m.observe, observables...)
	if err != nil {
		return fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return nil
}

func (m *Metrics) observe(_ context.Context, o metric.Observer) error {
	o.ObserveInt64(m.usersGauge, m.activeUsers.Load())
	o.ObserveInt64(m.runGauge, m.runActive.Load())

	if m.sampler != nil {
		stats, err := m.sampler.Sample()
		if err != nil {
			return fmt.Errorf("failed to sample process: %w", err)
		}
		o.ObserveFloat64(m.cpuGauge, stats.CPUPercent)
		o.ObserveInt64(m.rssGauge, int64(stats.RSSBytes))
	}
	return nil
}

// RecordRunStarted counts a dispatched run.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	m.runActive.Store(1)
	m.activeUsers.Store(0)
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.Add(ctx, 1)
}

// RecordRunEnded counts a run reaching a terminal state.
func (m *Metrics) RecordRunEnded(ctx context.Context, state string) {
	m.runActive.Store(0)
	m.activeUsers.Store(0)
	if m.runsEnded == nil {
		return
	}
	m.runsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSample records a telemetry sample absorbed during a run.
func (m *Metrics) RecordSample(ctx context.Context, activeUsers int, avgLatencyMs float64) {
	m.activeUsers.Store(int64(activeUsers))
	if m.samples == nil {
		return
	}
	m.samples.Add(ctx, 1)
	m.sampleLatency.Record(ctx, avgLatencyMs)
}

// RecordDroppedPush counts a push ignored because no run was active.
func (m *Metrics) RecordDroppedPush(ctx context.Context, kind string) {
	if m.droppedPushes == nil {
		return
	}
	m.droppedPushes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRequestError counts an engine request that failed to deliver.
func (m *Metrics) RecordRequestError(ctx context.Context, operation string) {
	if m.requestErrors == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// ActiveUsers returns the users value reported by the gauge.
func (m *Metrics) ActiveUsers() int64 {
	return m.activeUsers.Load()
}

// RunActive reports whether the run gauge is set.
func (m *Metrics) RunActive() bool {
	return m.runActive.Load() == 1
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.callbackReg != nil {
		if err := m.callbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister gauge callback: %w", err)
		}
		m.callbackReg = nil
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}
	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
