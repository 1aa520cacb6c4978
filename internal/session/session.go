// Package session hosts one editable scenario and its run controller behind a
// single-writer mailbox, so UI calls and engine pushes from any goroutine are
// serialized.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stormqa/stormqa/internal/analysis"
	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/controlplane/runmanager"
	"github.com/stormqa/stormqa/internal/engine"
	"github.com/stormqa/stormqa/internal/events"
	"github.com/stormqa/stormqa/internal/otel"
	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/telemetry"
	"github.com/stormqa/stormqa/internal/types"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("session closed")

// Options configures a Session. Zero values pick defaults.
type Options struct {
	BufferCapacity int

	// ChartRefreshPerSecond limits telemetry notifications; 0 is unthrottled.
	// Every sample is still buffered.
	ChartRefreshPerSecond float64
	ChartRefreshBurst     int

	// AbortGrace aborts a run still running after this long; 0 disables it.
	AbortGrace time.Duration

	Events  *events.EventLogger
	Metrics *otel.Metrics
	Tracer  *otel.Tracer
}

// Session owns the scenario being edited and the controller that runs it.
// All state is touched only on the mailbox goroutine.
type Session struct {
	box    *mailbox
	engine engine.Engine
	ctrl   *runmanager.Controller
	events *events.EventLogger

	cfg      scenario.ScenarioConfig
	advanced bool

	limiter *rate.Limiter
	grace   time.Duration
	timer   *time.Timer

	handlersMu sync.Mutex
	handlers   map[int]engine.Handler
	handlerID  int

	watchersMu sync.Mutex
	watchers   map[int]chan Event
	watcherID  int

	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a session with a fresh scenario. Pushes from src are queued on
// the mailbox and delivered to the controller in arrival order.
func New(eng engine.Engine, src engine.PushSource, opts Options) *Session {
	s := &Session{
		box:      newMailbox(),
		engine:   eng,
		events:   opts.Events,
		cfg:      scenario.NewScenarioConfig(),
		grace:    opts.AbortGrace,
		handlers: make(map[int]engine.Handler),
		watchers: make(map[int]chan Event),
	}
	if s.events == nil {
		s.events = events.GetGlobalEventLogger()
	}
	if opts.ChartRefreshPerSecond > 0 {
		burst := opts.ChartRefreshBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.ChartRefreshPerSecond), burst)
	}

	s.ctrl = runmanager.NewController(eng, s)
	s.ctrl.SetEventLogger(s.events)
	s.ctrl.SetMetrics(opts.Metrics)
	s.ctrl.SetTracer(opts.Tracer)
	if opts.BufferCapacity > 0 {
		s.ctrl.SetBufferCapacity(opts.BufferCapacity)
	}

	if src != nil {
		s.unsubscribe = src.Subscribe(pushForwarder{s})
	}
	return s
}

// Subscribe implements engine.PushSource for the controller. Handlers are
// invoked on the mailbox goroutine.
func (s *Session) Subscribe(h engine.Handler) func() {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	id := s.handlerID
	s.handlerID++
	s.handlers[id] = h
	return func() {
		s.handlersMu.Lock()
		defer s.handlersMu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Session) eachHandler(fn func(engine.Handler)) {
	s.handlersMu.Lock()
	hs := make([]engine.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	s.handlersMu.Unlock()
	for _, h := range hs {
		fn(h)
	}
}

// pushForwarder queues engine pushes onto the mailbox. It never blocks, so
// an engine may push from inside start_test.
type pushForwarder struct{ s *Session }

func (f pushForwarder) TelemetryUpdate(sample types.TelemetrySample) {
	f.s.box.post(func() {
		running := f.s.ctrl.State() == runmanager.RunStateRunning
		f.s.eachHandler(func(h engine.Handler) { h.TelemetryUpdate(sample) })
		if running && (f.s.limiter == nil || f.s.limiter.Allow()) {
			f.s.publish(EventTelemetry)
		}
	})
}

func (f pushForwarder) TestFinished(summary types.TestSummary) {
	f.s.box.post(func() {
		f.s.afterRunCall(func() { f.s.eachHandler(func(h engine.Handler) { h.TestFinished(summary) }) })
	})
}

func (f pushForwarder) TestError(message string) {
	f.s.box.post(func() {
		f.s.afterRunCall(func() { f.s.eachHandler(func(h engine.Handler) { h.TestError(message) }) })
	})
}

// afterRunCall runs fn and publishes a state event when the state changed.
func (s *Session) afterRunCall(fn func()) {
	before, beforeID := s.ctrl.State(), s.ctrl.RunID()
	fn()
	after := s.ctrl.State()
	if before != after || beforeID != s.ctrl.RunID() {
		if after != runmanager.RunStateRunning {
			s.stopTimer()
		}
		s.publish(EventState)
	}
}

// Config returns a copy of the scenario being edited.
func (s *Session) Config() (scenario.ScenarioConfig, error) {
	var cfg scenario.ScenarioConfig
	if !s.box.do(func() { cfg = s.cfg.Snapshot() }) {
		return cfg, ErrClosed
	}
	return cfg, nil
}

// AdvancedVisible reports whether advanced options should be shown.
func (s *Session) AdvancedVisible() bool {
	var v bool
	s.box.do(func() { v = s.advanced })
	return v
}

// SetAdvancedVisible shows or hides advanced options.
func (s *Session) SetAdvancedVisible(v bool) error {
	if !s.box.do(func() { s.advanced = v }) {
		return ErrClosed
	}
	return nil
}

// Update applies an edit to the scenario.
func (s *Session) Update(edit func(cfg *scenario.ScenarioConfig)) error {
	if !s.box.do(func() {
		edit(&s.cfg)
		s.publish(EventScenario)
	}) {
		return ErrClosed
	}
	return nil
}

// SetHeadersText parses editor text into the scenario headers. Malformed
// JSON is an invalid-JSON error and leaves the scenario unchanged.
func (s *Session) SetHeadersText(text string) error {
	return s.edit(func(cfg *scenario.ScenarioConfig) error { return cfg.SetHeadersText(text) })
}

// SetBodyText parses editor text into the scenario body. Malformed JSON is an
// invalid-JSON error and leaves the scenario unchanged.
func (s *Session) SetBodyText(text string) error {
	return s.edit(func(cfg *scenario.ScenarioConfig) error { return cfg.SetBodyText(text) })
}

func (s *Session) edit(fn func(cfg *scenario.ScenarioConfig) error) error {
	var err error
	if !s.box.do(func() {
		if err = fn(&s.cfg); err == nil {
			s.publish(EventScenario)
		}
	}) {
		return ErrClosed
	}
	return err
}

// ImportDocument replaces the scenario with doc. On error the prior scenario is kept.
func (s *Session) ImportDocument(doc codec.Document) error {
	cfg, err := codec.Import(doc)
	if err != nil {
		return err
	}
	return s.replace(cfg)
}

// LoadFile imports a .sqa file. On error the prior scenario is kept.
func (s *Session) LoadFile(path string) error {
	cfg, err := codec.LoadFile(path)
	if err != nil {
		return err
	}
	if err := s.replace(cfg); err != nil {
		return err
	}
	s.events.LogScenarioLoaded(path, cfg.AdvancedOptionsInUse())
	return nil
}

func (s *Session) replace(cfg scenario.ScenarioConfig) error {
	if !s.box.do(func() {
		s.cfg = cfg
		s.advanced = cfg.AdvancedOptionsInUse()
		s.publish(EventScenario)
	}) {
		return ErrClosed
	}
	return nil
}

// SaveFile exports the scenario to path. Nothing is written when export fails.
func (s *Session) SaveFile(path string) error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}
	if err := codec.SaveFile(path, cfg); err != nil {
		return err
	}
	s.events.LogScenarioSaved(path)
	return nil
}

// ImportCurl asks the engine to parse command and merges the result.
func (s *Session) ImportCurl(ctx context.Context, command string) error {
	resp, err := s.engine.ParseCurl(ctx, command)
	if err != nil {
		if !types.IsTransport(err) {
			err = types.NewTransportError(engine.OpParseCurl, err)
		}
		s.events.LogRequestFailed("", engine.OpParseCurl, err)
		return err
	}
	parsed, err := resp.Result()
	if err != nil {
		return err
	}

	var reveal bool
	if !s.box.do(func() {
		reveal = codec.CurlImport(&s.cfg, parsed)
		if reveal {
			s.advanced = true
		}
		s.publish(EventScenario)
	}) {
		return ErrClosed
	}
	s.events.LogCurlImported(parsed.URL, parsed.Method, reveal)
	return nil
}

// Start runs the current scenario.
func (s *Session) Start(ctx context.Context) (string, error) {
	var (
		runID string
		err   error
	)
	if !s.box.do(func() {
		s.afterRunCall(func() { runID, err = s.ctrl.Start(ctx, s.cfg) })
		if err == nil && s.ctrl.State() == runmanager.RunStateRunning {
			s.armTimer(runID)
		}
	}) {
		return "", ErrClosed
	}
	return runID, err
}

// Abort stops the current run.
func (s *Session) Abort(ctx context.Context) error {
	var err error
	if !s.box.do(func() {
		s.afterRunCall(func() { err = s.ctrl.Abort(ctx) })
	}) {
		return ErrClosed
	}
	return err
}

func (s *Session) armTimer(runID string) {
	s.stopTimer()
	if s.grace <= 0 {
		return
	}
	grace := s.grace
	s.timer = time.AfterFunc(grace, func() {
		s.box.post(func() {
			if s.ctrl.State() != runmanager.RunStateRunning || s.ctrl.RunID() != runID {
				return
			}
			s.events.LogRunDeadlineExceeded(runID, grace)
			s.afterRunCall(func() { _ = s.ctrl.Abort(context.Background()) })
		})
	})
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Status returns the controller status.
func (s *Session) Status() runmanager.Status {
	var st runmanager.Status
	s.box.do(func() { st = s.ctrl.Status() })
	return st
}

// Samples returns the buffered telemetry, oldest first.
func (s *Session) Samples() []types.TelemetrySample {
	var out []types.TelemetrySample
	s.box.do(func() { out = s.ctrl.Samples() })
	return out
}

// Chart returns the active users series padded to the buffer capacity.
func (s *Session) Chart() []int {
	var out []int
	s.box.do(func() { out = s.ctrl.Buffer().ActiveUsersSeries() })
	return out
}

// Live returns the stats of the newest sample.
func (s *Session) Live() telemetry.LiveStats {
	var out telemetry.LiveStats
	s.box.do(func() { out = s.ctrl.Buffer().Latest() })
	return out
}

// Result evaluates the terminal summary of a finished run.
func (s *Session) Result() (analysis.Result, bool) {
	var (
		res analysis.Result
		ok  bool
	)
	s.box.do(func() { res, ok = s.ctrl.Result() })
	return res, ok
}

// RunError returns the engine failure of a failed run.
func (s *Session) RunError() error {
	var err error
	s.box.do(func() { err = s.ctrl.Err() })
	return err
}

// History returns recorded state transitions.
func (s *Session) History() []runmanager.Transition {
	var out []runmanager.Transition
	s.box.do(func() { out = s.ctrl.History() })
	return out
}

// Close detaches from the engine, drains queued work and closes watchers.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.box.do(func() {
			s.stopTimer()
			s.ctrl.Close()
		})
		s.box.close()

		s.watchersMu.Lock()
		for id, ch := range s.watchers {
			close(ch)
			delete(s.watchers, id)
		}
		s.watchersMu.Unlock()
	})
}
