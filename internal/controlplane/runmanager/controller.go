// Package runmanager drives the lifecycle of a single test run against the
// load engine: start, live telemetry, terminal summary, failure and abort.
package runmanager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stormqa/stormqa/internal/analysis"
	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/engine"
	"github.com/stormqa/stormqa/internal/events"
	"github.com/stormqa/stormqa/internal/otel"
	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/telemetry"
	"github.com/stormqa/stormqa/internal/types"
)

// Status is a read-only view of the controller.
type Status struct {
	State     RunState            `json:"state"`
	RunID     string              `json:"run_id,omitempty"`
	LastError string              `json:"last_error,omitempty"`
	Summary   *types.TestSummary  `json:"summary,omitempty"`
	Live      telemetry.LiveStats `json:"live"`
	Samples   int                 `json:"samples"`
	Dropped   int64               `json:"dropped"`
	StartedAt time.Time           `json:"started_at"`
}

// Controller is the run state machine. It performs no locking: every call,
// including the push handler methods, must come from one goroutine.
type Controller struct {
	engine engine.Engine

	state     RunState
	runID     string
	summary   *types.TestSummary
	lastError string
	buffer    *telemetry.Buffer
	dropped   int64
	startedAt time.Time
	history   *History

	runCtx  context.Context
	runSpan trace.Span

	events  *events.EventLogger
	metrics *otel.Metrics
	tracer  *otel.Tracer

	newRunID    func() string
	now         func() time.Time
	unsubscribe func()
}

// NewController creates an idle controller that sends requests to eng and
// registers itself as the handler of pushes delivered by src.
func NewController(eng engine.Engine, src engine.PushSource) *Controller {
	c := &Controller{
		engine:   eng,
		state:    RunStateIdle,
		buffer:   telemetry.NewBuffer(telemetry.DefaultCapacity),
		history:  NewHistory(DefaultMaxTransitions),
		runCtx:   context.Background(),
		events:   events.GetGlobalEventLogger(),
		metrics:  otel.GetGlobalMetrics(),
		tracer:   otel.GetGlobalTracer(),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
	if src != nil {
		c.unsubscribe = src.Subscribe(c)
	}
	return c
}

// SetEventLogger configures the lifecycle event logger.
func (c *Controller) SetEventLogger(l *events.EventLogger) {
	if l != nil {
		c.events = l
	}
}

// SetMetrics configures the run metrics.
func (c *Controller) SetMetrics(m *otel.Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// SetTracer configures the run tracer.
func (c *Controller) SetTracer(t *otel.Tracer) {
	if t != nil {
		c.tracer = t
	}
}

// SetBufferCapacity replaces the telemetry buffer. Only allowed outside a run.
func (c *Controller) SetBufferCapacity(capacity int) {
	if c.state == RunStateRunning {
		return
	}
	c.buffer = telemetry.NewBuffer(capacity)
}

// Close detaches the controller from its push source.
func (c *Controller) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// State returns the current state.
func (c *Controller) State() RunState { return c.state }

// RunID returns the id of the current or last run.
func (c *Controller) RunID() string { return c.runID }

// Samples returns the buffered telemetry, oldest first.
func (c *Controller) Samples() []types.TelemetrySample { return c.buffer.Samples() }

// Buffer exposes the telemetry buffer for charting.
func (c *Controller) Buffer() *telemetry.Buffer { return c.buffer }

// History returns the recorded transitions.
func (c *Controller) History() []Transition { return c.history.All() }

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	st := Status{
		State:     c.state,
		RunID:     c.runID,
		LastError: c.lastError,
		Live:      c.buffer.Latest(),
		Samples:   c.buffer.Len(),
		Dropped:   c.dropped,
		StartedAt: c.startedAt,
	}
	if c.summary != nil {
		s := *c.summary
		s.Failures = append([]string(nil), c.summary.Failures...)
		st.Summary = &s
	}
	return st
}

// Result evaluates the terminal summary. ok is false until a run finishes.
func (c *Controller) Result() (analysis.Result, bool) {
	if c.state != RunStateFinished || c.summary == nil {
		return analysis.Result{}, false
	}
	return analysis.Evaluate(*c.summary), true
}

// Err returns the engine failure of a failed run as an EngineError.
func (c *Controller) Err() error {
	if c.state != RunStateFailed {
		return nil
	}
	return types.NewEngineError(c.lastError)
}

// Start validates cfg, compiles it and dispatches start_test. The state
// becomes running before dispatch so pushes sent during the call are kept.
// A failed dispatch restores the previous state and returns a TransportError.
func (c *Controller) Start(ctx context.Context, cfg scenario.ScenarioConfig) (string, error) {
	if c.state == RunStateRunning {
		return "", NewAlreadyRunningError()
	}
	if !CanTransition(c.state, RunStateRunning) {
		return "", NewInvalidTransitionError(c.state, RunStateRunning)
	}

	snapshot := cfg.Snapshot()
	if err := snapshot.Validate(); err != nil {
		return "", err
	}
	doc, err := codec.Export(snapshot)
	if err != nil {
		return "", err
	}

	prev := struct {
		state     RunState
		runID     string
		summary   *types.TestSummary
		lastError string
		buffer    *telemetry.Buffer
		startedAt time.Time
	}{c.state, c.runID, c.summary, c.lastError, c.buffer, c.startedAt}

	runID := c.newRunID()
	c.runID = runID
	c.summary = nil
	c.lastError = ""
	c.buffer = telemetry.NewBuffer(prev.buffer.Cap())
	c.startedAt = c.now()

	c.runCtx, c.runSpan = c.tracer.StartRunSpan(context.WithoutCancel(ctx), otel.RunSpanOptions{
		RunID:      runID,
		TargetURL:  doc.URL,
		Method:     doc.Method,
		Steps:      len(doc.Steps),
		Thresholds: doc.Thresholds,
		Chaos:      snapshot.Chaos.Enabled,
	})
	c.metrics.RecordRunStarted(c.runCtx)
	traceID, _ := otel.GetTraceInfo(c.runCtx)
	c.events.LogRunStarted(runID, doc.URL, doc.Method, len(doc.Steps), doc.Thresholds, traceID)
	c.transition(RunStateRunning, "start requested")

	if err := c.engine.StartTest(ctx, doc); err != nil {
		terr := asTransport(engine.OpStartTest, err)
		c.events.LogRequestFailed(runID, engine.OpStartTest, terr)
		c.metrics.RecordRequestError(c.runCtx, engine.OpStartTest)
		otel.RecordError(c.runSpan, terr, types.ErrKindTransport.String())

		if c.state == RunStateRunning {
			c.transition(prev.state, "start_test not delivered")
			c.runID = prev.runID
			c.summary = prev.summary
			c.lastError = prev.lastError
			c.buffer = prev.buffer
			c.startedAt = prev.startedAt
			c.metrics.RecordRunEnded(c.runCtx, "rejected")
			otel.EndRunSpan(c.runSpan, "rejected", true, terr.Error())
			c.runSpan = nil
		}
		return "", terr
	}
	return runID, nil
}

// Abort moves a running controller to aborted without waiting for the
// engine, then sends stop_test. A stop failure is returned as a
// TransportError but the state stays aborted.
func (c *Controller) Abort(ctx context.Context) error {
	if c.state != RunStateRunning {
		return NewNotRunningError(c.state)
	}

	runID := c.runID
	c.transition(RunStateAborted, "abort requested")
	c.events.LogRunAborted(runID)
	c.endRun(RunStateAborted, false, "")

	if err := c.engine.StopTest(ctx); err != nil {
		terr := asTransport(engine.OpStopTest, err)
		c.events.LogRequestFailed(runID, engine.OpStopTest, terr)
		c.metrics.RecordRequestError(ctx, engine.OpStopTest)
		return terr
	}
	return nil
}

// TelemetryUpdate implements engine.Handler. Samples outside a run are dropped.
func (c *Controller) TelemetryUpdate(sample types.TelemetrySample) {
	if c.state != RunStateRunning {
		c.drop(string(engine.PushTelemetry))
		return
	}
	c.buffer.Push(sample)
	c.metrics.RecordSample(c.runCtx, sample.ActiveUsers, sample.AvgLatencyMs)
}

// TestFinished implements engine.Handler.
func (c *Controller) TestFinished(summary types.TestSummary) {
	if c.state != RunStateRunning {
		c.drop(string(engine.PushFinished))
		return
	}
	s := summary
	s.Failures = append([]string(nil), summary.Failures...)
	if s.Failures == nil {
		s.Failures = []string{}
	}
	c.summary = &s

	c.transition(RunStateFinished, "engine finished")
	c.events.LogRunFinished(c.runID, string(s.Status), s.Failures, c.now().Sub(c.startedAt).Milliseconds())
	c.endRun(RunStateFinished, s.Status != types.TestStatusPassed, "thresholds failed")
}

// TestError implements engine.Handler. The message is kept verbatim.
func (c *Controller) TestError(message string) {
	if c.state != RunStateRunning {
		c.drop(string(engine.PushError))
		return
	}
	c.lastError = message

	c.transition(RunStateFailed, "engine error")
	c.events.LogRunFailed(c.runID, message)
	otel.RecordError(c.runSpan, types.NewEngineError(message), types.ErrKindEngine.String())
	c.endRun(RunStateFailed, true, message)
}

func (c *Controller) transition(to RunState, reason string) {
	from := c.state
	c.state = to
	c.history.Append(Transition{
		AtMs:   c.now().UnixMilli(),
		RunID:  c.runID,
		From:   from,
		To:     to,
		Reason: reason,
	})
	c.events.LogStateTransition(c.runID, string(from), string(to), reason)
}

func (c *Controller) endRun(state RunState, failed bool, message string) {
	c.metrics.RecordRunEnded(c.runCtx, string(state))
	otel.EndRunSpan(c.runSpan, string(state), failed, message)
	c.runSpan = nil
}

func (c *Controller) drop(kind string) {
	c.dropped++
	c.events.LogPushDropped(c.runID, kind, string(c.state))
	c.metrics.RecordDroppedPush(c.runCtx, kind)
}

func asTransport(op string, err error) error {
	if types.IsTransport(err) {
		return err
	}
	return types.NewTransportError(op, err)
}
