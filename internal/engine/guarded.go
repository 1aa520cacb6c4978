package engine

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/types"
)

// BreakerSettings configures the circuit breaker in front of an engine.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	OnStateChange    func(name string, from, to gobreaker.State)
}

// Guarded wraps an Engine in a circuit breaker. Delivery failures and
// rejected calls while the breaker is open surface as transport errors.
// Nothing is retried.
type Guarded struct {
	next Engine
	cb   *gobreaker.CircuitBreaker
}

// NewGuarded creates a Guarded engine around next.
func NewGuarded(next Engine, s BreakerSettings) *Guarded {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	name := s.Name
	if name == "" {
		name = "engine"
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: s.OnStateChange,
	})
	return &Guarded{next: next, cb: cb}
}

// BreakerState reports the breaker state: "closed", "half-open" or "open".
func (g *Guarded) BreakerState() string {
	return g.cb.State().String()
}

func (g *Guarded) StartTest(ctx context.Context, doc codec.Document) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.StartTest(ctx, doc)
	})
	return transportError(OpStartTest, err)
}

func (g *Guarded) StopTest(ctx context.Context) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.StopTest(ctx)
	})
	return transportError(OpStopTest, err)
}

// ParseCurl counts only delivery failures against the breaker. An engine
// reply with status "error" is a successful call.
func (g *Guarded) ParseCurl(ctx context.Context, command string) (codec.CurlResponse, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.ParseCurl(ctx, command)
	})
	if err != nil {
		return codec.CurlResponse{}, transportError(OpParseCurl, err)
	}
	return res.(codec.CurlResponse), nil
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if types.IsTransport(err) {
		return err
	}
	return types.NewTransportError(op, err)
}
