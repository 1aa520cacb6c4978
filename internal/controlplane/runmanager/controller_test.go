package runmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/engine"
	"github.com/stormqa/stormqa/internal/events"
	"github.com/stormqa/stormqa/internal/otel"
	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/types"
)

func newTestController(t *testing.T) (*Controller, *engine.Scripted) {
	t.Helper()
	eng := engine.NewScripted(nil, 0)
	c := NewController(eng, eng)
	c.SetEventLogger(events.NoopEventLogger())
	ids := 0
	c.newRunID = func() string {
		ids++
		return fmt.Sprintf("run-%d", ids)
	}
	t.Cleanup(c.Close)
	return c, eng
}

func validConfig() scenario.ScenarioConfig {
	cfg := scenario.NewScenarioConfig()
	cfg.TargetURL = "https://api.example.com/orders"
	cfg.Steps = []scenario.Step{{Users: 10, DurationS: 30, RampS: 5, ThinkS: 0.5, JitterPct: 10}}
	cfg.Thresholds = []scenario.ThresholdRule{
		{Type: scenario.MetricPercentile, PValue: "95", Limit: "500"},
		{Type: scenario.MetricErrorRate, Limit: "1"},
	}
	return cfg
}

func emit(t *testing.T, eng *engine.Scripted, typ engine.PushType, data string) {
	t.Helper()
	require.NoError(t, eng.Emit(engine.Push{Type: typ, Data: json.RawMessage(data)}))
}

func TestStartDispatchesCompiledDocument(t *testing.T) {
	c, eng := newTestController(t)

	runID, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Equal(t, RunStateRunning, c.State())

	reqs := eng.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, engine.OpStartTest, reqs[0].Op)
	assert.Equal(t, "p95<500, error<1", reqs[0].Document.Thresholds)
	assert.Equal(t, "https://api.example.com/orders", reqs[0].Document.URL)
	assert.Equal(t, "GET", reqs[0].Document.Method)
}

func TestStartWithoutStepsIsValidationError(t *testing.T) {
	c, eng := newTestController(t)
	cfg := validConfig()
	cfg.Steps = nil

	_, err := c.Start(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, RunStateIdle, c.State())
	assert.Empty(t, eng.Requests())
}

func TestStartWithoutURLIsValidationError(t *testing.T) {
	c, _ := newTestController(t)
	cfg := validConfig()
	cfg.TargetURL = "  "

	_, err := c.Start(context.Background(), cfg)
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, RunStateIdle, c.State())
}

func TestStartWithInvalidHeadersIsInvalidJSON(t *testing.T) {
	c, eng := newTestController(t)
	cfg := validConfig()
	headers, err := scenario.ParseJSONValue(`{"X-Retry": 3}`)
	require.NoError(t, err)
	cfg.Headers = headers

	_, err = c.Start(context.Background(), cfg)
	assert.True(t, types.IsInvalidJSON(err))
	assert.Equal(t, RunStateIdle, c.State())
	assert.Empty(t, eng.Requests())
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushTelemetry, `{"active_users":3}`)

	_, err = c.Start(ctx, validConfig())
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.True(t, IsAlreadyRunning(err))
	assert.Equal(t, "test already running", err.Error())

	assert.Equal(t, RunStateRunning, c.State())
	assert.Equal(t, "run-1", c.RunID())
	assert.Len(t, c.Samples(), 1)
	assert.Len(t, eng.Requests(), 1)
}

func TestFailedThresholdScenario(t *testing.T) {
	c, eng := newTestController(t)

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		emit(t, eng, engine.PushTelemetry, fmt.Sprintf(`{"active_users":%d,"requests_per_second":%d,"avg_latency_ms":100,"failed_count":0}`, i*3, i*10))
	}
	emit(t, eng, engine.PushFinished, `{
		"status": "failed",
		"failures": ["p95<500"],
		"avg_response_time_ms": 120,
		"p95_latency": 620,
		"p99_latency": 700,
		"throughput_rps": 42
	}`)

	assert.Equal(t, RunStateFinished, c.State())
	assert.Len(t, c.Samples(), 3)

	res, ok := c.Result()
	require.True(t, ok)
	assert.False(t, res.Passed())
	assert.Equal(t, []string{"p95<500"}, res.Failures)
	assert.Equal(t, 120.0, res.AvgResponseTimeMs)
	assert.Equal(t, 620.0, res.P95LatencyMs)
	assert.Equal(t, 700.0, res.P99LatencyMs)
	assert.Equal(t, 42.0, res.ThroughputRPS)
}

func TestTelemetryAfterFinishedIsDropped(t *testing.T) {
	c, eng := newTestController(t)

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushTelemetry, `{"active_users":1}`)
	emit(t, eng, engine.PushFinished, `{"status":"passed","failures":[]}`)

	before := c.Status()
	emit(t, eng, engine.PushTelemetry, `{"active_users":99}`)
	after := c.Status()

	assert.Equal(t, RunStateFinished, after.State)
	assert.Equal(t, before.Samples, after.Samples)
	assert.Equal(t, before.Summary, after.Summary)
	assert.Equal(t, 1, after.Live.Users)
	assert.Equal(t, int64(1), after.Dropped)
}

func TestPushesWhileIdleAreDropped(t *testing.T) {
	c, eng := newTestController(t)

	emit(t, eng, engine.PushTelemetry, `{"active_users":1}`)
	emit(t, eng, engine.PushFinished, `{"status":"passed"}`)
	emit(t, eng, engine.PushError, `"late"`)

	assert.Equal(t, RunStateIdle, c.State())
	assert.Zero(t, c.Buffer().Len())
	assert.Equal(t, int64(3), c.Status().Dropped)
	_, ok := c.Result()
	assert.False(t, ok)
}

func TestEngineErrorFailsRun(t *testing.T) {
	c, eng := newTestController(t)

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushError, `"Connection refused: api.example.com:443"`)

	assert.Equal(t, RunStateFailed, c.State())
	st := c.Status()
	assert.Equal(t, "Connection refused: api.example.com:443", st.LastError)

	runErr := c.Err()
	require.Error(t, runErr)
	assert.True(t, types.IsEngine(runErr))
	assert.Equal(t, "Connection refused: api.example.com:443", runErr.Error())
}

func TestRestartClearsPriorRun(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushTelemetry, `{"active_users":5}`)
	emit(t, eng, engine.PushFinished, `{"status":"passed"}`)

	runID, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)

	st := c.Status()
	assert.Equal(t, RunStateRunning, st.State)
	assert.Nil(t, st.Summary)
	assert.Empty(t, st.LastError)
	assert.Zero(t, st.Samples)
	_, ok := c.Result()
	assert.False(t, ok)
}

func TestRestartAfterFailureAndAbort(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushError, `"boom"`)
	require.Equal(t, RunStateFailed, c.State())

	_, err = c.Start(ctx, validConfig())
	require.NoError(t, err)
	assert.Empty(t, c.Status().LastError)
	require.NoError(t, c.Abort(ctx))
	require.Equal(t, RunStateAborted, c.State())

	_, err = c.Start(ctx, validConfig())
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, c.State())
}

func TestStartTransportFailureRestoresState(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushTelemetry, `{"active_users":7}`)
	emit(t, eng, engine.PushFinished, `{"status":"passed"}`)

	eng.FailNext(engine.OpStartTest, errors.New("bridge closed"))
	_, err = c.Start(ctx, validConfig())
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))

	st := c.Status()
	assert.Equal(t, RunStateFinished, st.State)
	assert.Equal(t, "run-1", st.RunID)
	require.NotNil(t, st.Summary)
	assert.Equal(t, 1, st.Samples)
	assert.Equal(t, 7, st.Live.Users)
}

type syncEngine struct {
	*engine.Scripted
}

// StartTest emits pushes before returning, like an engine answering inline.
func (e syncEngine) StartTest(ctx context.Context, doc codec.Document) error {
	if err := e.Scripted.StartTest(ctx, doc); err != nil {
		return err
	}
	_ = e.Emit(engine.Push{Type: engine.PushTelemetry, Data: json.RawMessage(`{"active_users":2}`)})
	return nil
}

func TestPushDuringDispatchIsKept(t *testing.T) {
	scripted := engine.NewScripted(nil, 0)
	c := NewController(syncEngine{scripted}, scripted)
	c.SetEventLogger(events.NoopEventLogger())
	defer c.Close()

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Len(t, c.Samples(), 1)
}

func TestAbortIsOptimistic(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)
	require.NoError(t, c.Abort(ctx))

	assert.Equal(t, RunStateAborted, c.State())
	reqs := eng.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, engine.OpStopTest, reqs[1].Op)

	// The engine may still report the run it was asked to stop.
	emit(t, eng, engine.PushFinished, `{"status":"passed"}`)
	assert.Equal(t, RunStateAborted, c.State())
	_, ok := c.Result()
	assert.False(t, ok)
}

func TestAbortStopFailureKeepsAborted(t *testing.T) {
	c, eng := newTestController(t)
	ctx := context.Background()

	_, err := c.Start(ctx, validConfig())
	require.NoError(t, err)

	eng.FailNext(engine.OpStopTest, errors.New("bridge closed"))
	err = c.Abort(ctx)
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.Equal(t, RunStateAborted, c.State())
}

func TestAbortWhenNotRunning(t *testing.T) {
	c, eng := newTestController(t)

	err := c.Abort(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotRunning(err))
	assert.Empty(t, eng.Requests())
}

func TestBufferKeepsLastTwentySamples(t *testing.T) {
	c, eng := newTestController(t)

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	for i := 1; i <= 45; i++ {
		emit(t, eng, engine.PushTelemetry, fmt.Sprintf(`{"active_users":%d}`, i))
	}

	samples := c.Samples()
	require.Len(t, samples, 20)
	assert.Equal(t, 26, samples[0].ActiveUsers)
	assert.Equal(t, 45, samples[19].ActiveUsers)
}

func TestHistoryRecordsTransitions(t *testing.T) {
	c, eng := newTestController(t)

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushFinished, `{"status":"passed"}`)

	h := c.History()
	require.Len(t, h, 2)
	assert.Equal(t, Transition{Seq: 1, AtMs: h[0].AtMs, RunID: "run-1", From: RunStateIdle, To: RunStateRunning, Reason: "start requested"}, h[0])
	assert.Equal(t, RunStateFinished, h[1].To)
}

func TestLifecycleEventsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	c, eng := newTestController(t)
	c.SetEventLogger(events.NewEventLoggerWithWriter(&buf, "debug"))

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)
	emit(t, eng, engine.PushError, `"boom"`)
	emit(t, eng, engine.PushTelemetry, `{"active_users":1}`)

	out := buf.String()
	for _, event := range []string{"run_started", "state_transition", "run_failed", "push_dropped"} {
		assert.True(t, strings.Contains(out, `"event":"`+event+`"`), "missing %s in %s", event, out)
	}
}

func TestRunStartedCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c, _ := newTestController(t)
	c.SetEventLogger(events.NewEventLoggerWithWriter(&buf, "info"))
	c.SetTracer(otel.NewTracerWithProvider(tp))

	_, err := c.Start(context.Background(), validConfig())
	require.NoError(t, err)

	var started map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["event"] == "run_started" {
			started = rec
		}
	}
	require.NotNil(t, started)
	traceID, _ := otel.GetTraceInfo(c.runCtx)
	assert.Len(t, traceID, 32)
	assert.Equal(t, traceID, started["trace_id"])
}

func TestHistoryTruncates(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 5; i++ {
		h.Append(Transition{RunID: fmt.Sprint(i)})
	}
	assert.True(t, h.Truncated())
	assert.Equal(t, 3, h.Len())
	all := h.All()
	assert.Equal(t, int64(5), all[len(all)-1].Seq)
	assert.Len(t, h.ForRun("4"), 1)
}
