package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stormqa/stormqa/internal/codec"
)

// Request records one call made to a Scripted engine.
type Request struct {
	Op       string
	Document codec.Document
	Command  string
}

// CurlParser answers parse_curl requests for a Scripted engine.
type CurlParser func(command string) (codec.CurlResponse, error)

// Scripted is an in-process engine that records requests and replays a script
// of pushes after each accepted start_test.
type Scripted struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	requests []Request
	failures map[string]error
	script   []Push
	interval time.Duration
	curl     CurlParser
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScripted creates a Scripted engine that replays script with interval
// between pushes. A nil script means pushes are only sent through Emit.
func NewScripted(script []Push, interval time.Duration) *Scripted {
	return &Scripted{
		handlers: make(map[int]Handler),
		failures: make(map[string]error),
		script:   script,
		interval: interval,
	}
}

// Subscribe implements PushSource.
func (s *Scripted) Subscribe(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// FailNext makes the next call of op fail with err without reaching the engine.
func (s *Scripted) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// SetCurlParser installs the parse_curl responder.
func (s *Scripted) SetCurlParser(p CurlParser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curl = p
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Scripted) record(r Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failures[r.Op]; ok {
		delete(s.failures, r.Op)
		return err
	}
	s.requests = append(s.requests, r)
	return nil
}

func (s *Scripted) StartTest(_ context.Context, doc codec.Document) error {
	if err := s.record(Request{Op: OpStartTest, Document: doc}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if len(s.script) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.play(ctx, s.script, s.done)
	return nil
}

func (s *Scripted) StopTest(_ context.Context) error {
	if err := s.record(Request{Op: OpStopTest}); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Scripted) ParseCurl(_ context.Context, command string) (codec.CurlResponse, error) {
	if err := s.record(Request{Op: OpParseCurl, Command: command}); err != nil {
		return codec.CurlResponse{}, err
	}
	s.mu.Lock()
	p := s.curl
	s.mu.Unlock()
	if p == nil {
		return codec.CurlResponse{Status: "error", Message: "cURL parsing is not available"}, nil
	}
	return p(command)
}

// Wait blocks until the current replay ends or ctx is done.
func (s *Scripted) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scripted) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scripted) play(ctx context.Context, script []Push, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}
	for _, p := range script {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}
		_ = s.Emit(p)
	}
}

// Emit delivers p to every subscribed handler.
func (s *Scripted) Emit(p Push) error {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		if err := Dispatch(h, p); err != nil {
			return err
		}
	}
	return nil
}

// LoadScript reads a JSON-lines script of pushes. Blank lines and lines
// starting with '#' are skipped.
func LoadScript(r io.Reader) ([]Push, error) {
	var script []Push
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var p Push
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		switch p.Type {
		case PushTelemetry, PushFinished, PushError:
		default:
			return nil, fmt.Errorf("script line %d: unknown push type %q", line, p.Type)
		}
		script = append(script, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return script, nil
}
