package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics wires a Metrics instance to a manual reader so tests can collect.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{
		config:        &MetricsConfig{Enabled: true, ServiceName: "test", ExporterType: ExporterStdout},
		meterProvider: mp,
		meter:         mp.Meter("test"),
		shutdown:      mp.Shutdown,
	}
	require.NoError(t, m.registerInstruments())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumValue(t *testing.T, m metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	want := attribute.NewSet(attrs...)
	var total int64
	for _, dp := range sum.DataPoints {
		if len(attrs) == 0 || dp.Attributes.Equals(&want) {
			total += dp.Value
		}
	}
	return total
}

func gaugeValue(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	g, ok := m.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "metric %s is not an int64 gauge", m.Name)
	require.Len(t, g.DataPoints, 1)
	return g.DataPoints[0].Value
}

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	require.NotNil(t, cfg)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "stormqa", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.ExporterType)
}

func TestNewMetricsDisabled(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, DefaultMetricsConfig())
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	assert.False(t, m.Enabled())

	// Recording on a disabled instance is a no-op but still tracks gauges.
	m.RecordRunStarted(ctx)
	m.RecordSample(ctx, 12, 40)
	m.RecordDroppedPush(ctx, "telemetry")
	m.RecordRequestError(ctx, "start_test")
	assert.True(t, m.RunActive())
	assert.Equal(t, int64(12), m.ActiveUsers())
	m.RecordRunEnded(ctx, "finished")
	assert.False(t, m.RunActive())
}

func TestNewMetricsNilConfig(t *testing.T) {
	m, err := NewMetrics(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, m.Enabled())
}

func TestNewMetricsStdoutExporter(t *testing.T) {
	ctx := context.Background()
	m, err := NewMetrics(ctx, &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
		ProcessStats: true,
		Attributes:   map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	assert.True(t, m.Enabled())
	assert.NotNil(t, m.MeterProvider())
}

func TestNewMetricsUnknownExporter(t *testing.T) {
	_, err := NewMetrics(context.Background(), &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test",
		ExporterType: "carrier-pigeon",
	})
	assert.Error(t, err)
}

func TestRunCounters(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordRunStarted(ctx)
	m.RecordRunEnded(ctx, "finished")
	m.RecordRunStarted(ctx)
	m.RecordRunEnded(ctx, "aborted")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, got["stormqa.runs.started"]))
	assert.Equal(t, int64(1), sumValue(t, got["stormqa.runs.ended"], attribute.String("state", "finished")))
	assert.Equal(t, int64(1), sumValue(t, got["stormqa.runs.ended"], attribute.String("state", "aborted")))
	assert.Equal(t, int64(0), gaugeValue(t, got["stormqa.run.active"]))
}

func TestSampleCountersAndGauges(t *testing.T) {
	ctx := context.Background()
	m, reader := newTestMetrics(t)

	m.RecordRunStarted(ctx)
	m.RecordSample(ctx, 10, 50)
	m.RecordSample(ctx, 25, 70)
	m.RecordDroppedPush(ctx, "telemetry")
	m.RecordRequestError(ctx, "stop_test")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumValue(t, got["stormqa.telemetry.samples"]))
	assert.Equal(t, int64(1), sumValue(t, got["stormqa.pushes.dropped"], attribute.String("kind", "telemetry")))
	assert.Equal(t, int64(1), sumValue(t, got["stormqa.engine.request_errors"], attribute.String("operation", "stop_test")))
	assert.Equal(t, int64(25), gaugeValue(t, got["stormqa.live.active_users"]))
	assert.Equal(t, int64(1), gaugeValue(t, got["stormqa.run.active"]))

	hist, ok := got["stormqa.telemetry.avg_latency"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, 120.0, hist.DataPoints[0].Sum)
}

func TestGlobalMetrics(t *testing.T) {
	t.Cleanup(func() { SetGlobalMetrics(nil) })

	SetGlobalMetrics(nil)
	require.NotNil(t, GetGlobalMetrics())
	assert.False(t, GetGlobalMetrics().Enabled())

	m := NoopMetrics()
	SetGlobalMetrics(m)
	assert.Same(t, m, GetGlobalMetrics())
}

func TestNoopMetrics(t *testing.T) {
	ctx := context.Background()
	m := NoopMetrics()

	assert.False(t, m.Enabled())
	m.RecordRunStarted(ctx)
	m.RecordRunEnded(ctx, "failed")
	assert.NoError(t, m.Shutdown(ctx))
}

func TestMetricsShutdownUnregistersCallback(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMetrics(t)

	require.NoError(t, m.Shutdown(ctx))
	assert.Nil(t, m.callbackReg)
}

func TestProcessSampler(t *testing.T) {
	s, err := NewProcessSampler()
	require.NoError(t, err)

	stats, err := s.Sample()
	require.NoError(t, err)
	assert.Positive(t, stats.RSSBytes)
	assert.GreaterOrEqual(t, stats.CPUPercent, 0.0)
}

type failingSampler struct{}

func (failingSampler) Sample() (ProcessStats, error) {
	return ProcessStats{}, errors.New("proc unavailable")
}

func TestProcessSampleErrorIsReported(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := &Metrics{
		config:        &MetricsConfig{Enabled: true, ServiceName: "test", ExporterType: ExporterStdout, ProcessStats: true},
		meterProvider: mp,
		meter:         mp.Meter("test"),
		shutdown:      mp.Shutdown,
		sampler:       failingSampler{},
	}
	require.NoError(t, m.registerInstruments())
	defer m.Shutdown(context.Background())
	m.RecordRunStarted(context.Background())

	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.Error(t, err)
	assert.ErrorContains(t, err, "proc unavailable")

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name == "stormqa.run.active" {
				found = true
				assert.Equal(t, int64(1), gaugeValue(t, metric))
			}
		}
	}
	assert.True(t, found)
}
