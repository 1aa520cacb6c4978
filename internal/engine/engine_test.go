package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/types"
)

type recorder struct {
	mu        sync.Mutex
	samples   []types.TelemetrySample
	summaries []types.TestSummary
	errs      []string
}

func (r *recorder) TelemetryUpdate(s types.TelemetrySample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) TestFinished(s types.TestSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

func (r *recorder) TestError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.summaries), len(r.errs)
}

func TestDispatch(t *testing.T) {
	r := &recorder{}

	require.NoError(t, Dispatch(r, Push{Type: PushTelemetry, Data: json.RawMessage(`{"active_users":5,"requests_per_second":12.5,"avg_latency_ms":80,"failed_count":1}`)}))
	require.NoError(t, Dispatch(r, Push{Type: PushFinished, Data: json.RawMessage(`{"test_result":{"status":"passed","failures":[]}}`)}))
	require.NoError(t, Dispatch(r, Push{Type: PushError, Data: json.RawMessage(`"Target unreachable"`)}))
	require.NoError(t, Dispatch(r, Push{Type: PushError, Data: json.RawMessage(`{"message":"boom"}`)}))

	require.Len(t, r.samples, 1)
	assert.Equal(t, types.TelemetrySample{ActiveUsers: 5, RPS: 12.5, AvgLatencyMs: 80, FailedCount: 1}, r.samples[0])
	require.Len(t, r.summaries, 1)
	assert.Equal(t, types.TestStatusPassed, r.summaries[0].Status)
	assert.Equal(t, []string{"Target unreachable", "boom"}, r.errs)
}

func TestDispatchRejectsBadPushes(t *testing.T) {
	r := &recorder{}
	assert.Error(t, Dispatch(r, Push{Type: "progress"}))
	assert.Error(t, Dispatch(r, Push{Type: PushTelemetry, Data: json.RawMessage(`[1,2]`)}))
	assert.Error(t, Dispatch(r, Push{Type: PushFinished, Data: json.RawMessage(`{`)}))
}

func TestLoadScript(t *testing.T) {
	script, err := LoadScript(strings.NewReader(`
# warmup
{"type":"telemetry","data":{"active_users":1}}

{"type":"finished","data":{"status":"passed"}}
`))
	require.NoError(t, err)
	require.Len(t, script, 2)
	assert.Equal(t, PushTelemetry, script[0].Type)
	assert.Equal(t, PushFinished, script[1].Type)
}

func TestLoadScriptErrors(t *testing.T) {
	_, err := LoadScript(strings.NewReader(`{"type":"telemetry"`))
	assert.ErrorContains(t, err, "line 1")

	_, err = LoadScript(strings.NewReader("\n{\"type\":\"bogus\"}"))
	assert.ErrorContains(t, err, "line 2")
}

func TestScriptedReplaysAfterStart(t *testing.T) {
	script := []Push{
		{Type: PushTelemetry, Data: json.RawMessage(`{"active_users":1}`)},
		{Type: PushTelemetry, Data: json.RawMessage(`{"active_users":2}`)},
		{Type: PushFinished, Data: json.RawMessage(`{"status":"failed","failures":["p95<500"]}`)},
	}
	s := NewScripted(script, 0)
	r := &recorder{}
	unsubscribe := s.Subscribe(r)
	defer unsubscribe()

	require.NoError(t, s.StartTest(context.Background(), codec.Document{URL: "https://x"}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	samples, summaries, errs := r.counts()
	assert.Equal(t, 2, samples)
	assert.Equal(t, 1, summaries)
	assert.Zero(t, errs)

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, OpStartTest, reqs[0].Op)
	assert.Equal(t, "https://x", reqs[0].Document.URL)
}

func TestScriptedStopHaltsReplay(t *testing.T) {
	script := make([]Push, 50)
	for i := range script {
		script[i] = Push{Type: PushTelemetry, Data: json.RawMessage(`{"active_users":1}`)}
	}
	s := NewScripted(script, 20*time.Millisecond)
	r := &recorder{}
	s.Subscribe(r)

	require.NoError(t, s.StartTest(context.Background(), codec.Document{}))
	require.NoError(t, s.StopTest(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	samples, _, _ := r.counts()
	assert.Less(t, samples, 50)
}

func TestScriptedUnsubscribe(t *testing.T) {
	s := NewScripted(nil, 0)
	r := &recorder{}
	unsubscribe := s.Subscribe(r)
	unsubscribe()

	require.NoError(t, s.Emit(Push{Type: PushError, Data: json.RawMessage(`"x"`)}))
	_, _, errs := r.counts()
	assert.Zero(t, errs)
}

func TestScriptedFailNext(t *testing.T) {
	s := NewScripted(nil, 0)
	s.FailNext(OpStartTest, errors.New("connection refused"))

	assert.Error(t, s.StartTest(context.Background(), codec.Document{}))
	assert.NoError(t, s.StartTest(context.Background(), codec.Document{}))
	assert.Len(t, s.Requests(), 1)
}

func TestScriptedParseCurl(t *testing.T) {
	s := NewScripted(nil, 0)

	resp, err := s.ParseCurl(context.Background(), "curl x")
	require.NoError(t, err)
	_, err = resp.Result()
	assert.True(t, types.IsEngine(err))

	s.SetCurlParser(func(string) (codec.CurlResponse, error) {
		return codec.CurlResponse{Status: "success", Data: &codec.ParsedCurl{URL: "https://api", Method: "POST"}}, nil
	})
	resp, err = s.ParseCurl(context.Background(), "curl -X POST https://api")
	require.NoError(t, err)
	parsed, err := resp.Result()
	require.NoError(t, err)
	assert.Equal(t, "https://api", parsed.URL)
}

func TestGuardedWrapsFailuresAsTransport(t *testing.T) {
	s := NewScripted(nil, 0)
	g := NewGuarded(s, BreakerSettings{FailureThreshold: 5})

	s.FailNext(OpStopTest, errors.New("socket closed"))
	err := g.StopTest(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.ErrorContains(t, err, "socket closed")

	assert.NoError(t, g.StartTest(context.Background(), codec.Document{}))
	assert.Equal(t, "closed", g.BreakerState())
}

func TestGuardedOpensAfterThreshold(t *testing.T) {
	s := NewScripted(nil, 0)
	var transitions []string
	g := NewGuarded(s, BreakerSettings{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		s.FailNext(OpStartTest, errors.New("refused"))
		require.Error(t, g.StartTest(context.Background(), codec.Document{}))
	}
	assert.Equal(t, "open", g.BreakerState())
	assert.Equal(t, []string{"closed->open"}, transitions)

	// Open breaker rejects without reaching the engine.
	before := len(s.Requests())
	err := g.StartTest(context.Background(), codec.Document{})
	require.Error(t, err)
	assert.True(t, types.IsTransport(err))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, s.Requests(), before)
}

func TestGuardedParseCurlEngineErrorIsNotTransport(t *testing.T) {
	s := NewScripted(nil, 0)
	g := NewGuarded(s, BreakerSettings{FailureThreshold: 1})

	resp, err := g.ParseCurl(context.Background(), "not curl")
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "closed", g.BreakerState())
}

func TestGuardedKeepsExistingTransportError(t *testing.T) {
	inner := types.NewTransportError(OpStartTest, errors.New("down"))
	assert.Same(t, inner, transportError(OpStartTest, inner))
	assert.NoError(t, transportError(OpStartTest, nil))
}
