// Package engine defines the request and push contract with the load engine,
// a circuit-broken client wrapper, and an in-process scripted engine.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stormqa/stormqa/internal/analysis"
	"github.com/stormqa/stormqa/internal/codec"
	"github.com/stormqa/stormqa/internal/types"
)

// Operation names used in errors, logs and metrics.
const (
	OpStartTest = "start_test"
	OpStopTest  = "stop_test"
	OpParseCurl = "parse_curl"
)

// Engine is the request side of the engine contract. Each call is
// fire-and-forget from the controller's point of view; results arrive as pushes.
type Engine interface {
	StartTest(ctx context.Context, doc codec.Document) error
	StopTest(ctx context.Context) error
	ParseCurl(ctx context.Context, command string) (codec.CurlResponse, error)
}

// Handler receives pushes from the engine.
type Handler interface {
	TelemetryUpdate(sample types.TelemetrySample)
	TestFinished(summary types.TestSummary)
	TestError(message string)
}

// PushSource delivers engine pushes to registered handlers.
type PushSource interface {
	// Subscribe registers h and returns a function that removes it.
	Subscribe(h Handler) (unsubscribe func())
}

// PushType names one of the three engine push kinds.
type PushType string

const (
	PushTelemetry PushType = "telemetry"
	PushFinished  PushType = "finished"
	PushError     PushType = "error"
)

// Push is one engine push on the wire.
type Push struct {
	Type PushType        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Dispatch decodes p and invokes the matching handler method.
func Dispatch(h Handler, p Push) error {
	switch p.Type {
	case PushTelemetry:
		var s types.TelemetrySample
		if err := json.Unmarshal(p.Data, &s); err != nil {
			return fmt.Errorf("decode telemetry push: %w", err)
		}
		h.TelemetryUpdate(s)
	case PushFinished:
		s, err := analysis.DecodeSummary(p.Data)
		if err != nil {
			return fmt.Errorf("decode finished push: %w", err)
		}
		h.TestFinished(s)
	case PushError:
		h.TestError(errorMessage(p.Data))
	default:
		return fmt.Errorf("unknown push type %q", p.Type)
	}
	return nil
}

// errorMessage accepts a bare JSON string, a {"message": ...} object, or raw text.
func errorMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}
