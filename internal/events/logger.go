// Package events provides structured logging for run lifecycle events.
package events

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventLogger writes one structured record per lifecycle event.
type EventLogger struct {
	logger *zap.Logger
}

// ParseLevel maps a config level name to a zap level. Unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func newCore(w io.Writer, level, format string) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "event"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zapcore.NewCore(enc, zapcore.AddSync(w), ParseLevel(level))
}

// NewEventLogger creates an EventLogger writing to stderr.
// format is "json" or "console".
func NewEventLogger(level, format string) *EventLogger {
	return &EventLogger{logger: zap.New(newCore(os.Stderr, level, format))}
}

// NewEventLoggerWithWriter creates a JSON EventLogger with output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(w io.Writer, level string) *EventLogger {
	return &EventLogger{logger: zap.New(newCore(w, level, "json"))}
}

var noopLogger = &EventLogger{logger: zap.NewNop()}

// NoopEventLogger returns the shared event logger that discards all events.
func NoopEventLogger() *EventLogger {
	return noopLogger
}

// Logger exposes the underlying zap logger.
func (el *EventLogger) Logger() *zap.Logger {
	return el.logger
}

// Sync flushes buffered records.
func (el *EventLogger) Sync() error {
	return el.logger.Sync()
}

// LogRunStarted logs a dispatched start_test request. traceID links the
// record to the run span and is omitted when tracing is off.
// event: "run_started"
func (el *EventLogger) LogRunStarted(runID, url, method string, steps int, thresholds, traceID string) {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("url", url),
		zap.String("method", method),
		zap.Int("steps", steps),
		zap.String("thresholds", thresholds),
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	el.logger.Info("run_started", fields...)
}

// LogStateTransition logs a controller state change.
// event: "state_transition"
func (el *EventLogger) LogStateTransition(runID, from, to, reason string) {
	el.logger.Info("state_transition",
		zap.String("run_id", runID),
		zap.String("from_state", from),
		zap.String("to_state", to),
		zap.String("reason", reason),
	)
}

// LogPushDropped logs a push that arrived when no run was active.
// event: "push_dropped"
func (el *EventLogger) LogPushDropped(runID, kind, state string) {
	el.logger.Debug("push_dropped",
		zap.String("run_id", runID),
		zap.String("kind", kind),
		zap.String("state", state),
	)
}

// LogRunFinished logs the terminal summary.
// event: "run_finished"
func (el *EventLogger) LogRunFinished(runID, status string, failures []string, durationMs int64) {
	el.logger.Info("run_finished",
		zap.String("run_id", runID),
		zap.String("status", status),
		zap.Strings("failures", failures),
		zap.Int64("duration_ms", durationMs),
	)
}

// LogRunFailed logs an engine-reported failure.
// event: "run_failed"
func (el *EventLogger) LogRunFailed(runID, message string) {
	el.logger.Warn("run_failed",
		zap.String("run_id", runID),
		zap.String("message", message),
	)
}

// LogRunAborted logs a user abort.
// event: "run_aborted"
func (el *EventLogger) LogRunAborted(runID string) {
	el.logger.Info("run_aborted", zap.String("run_id", runID))
}

// LogRequestFailed logs an engine request that could not be delivered.
// event: "request_failed"
func (el *EventLogger) LogRequestFailed(runID, operation string, err error) {
	el.logger.Warn("request_failed",
		zap.String("run_id", runID),
		zap.String("operation", operation),
		zap.Error(err),
	)
}

// LogScenarioSaved logs a written scenario document.
// event: "scenario_saved"
func (el *EventLogger) LogScenarioSaved(path string) {
	el.logger.Info("scenario_saved", zap.String("path", path))
}

// LogScenarioLoaded logs an imported scenario document.
// event: "scenario_loaded"
func (el *EventLogger) LogScenarioLoaded(path string, advanced bool) {
	el.logger.Info("scenario_loaded",
		zap.String("path", path),
		zap.Bool("advanced", advanced),
	)
}

// LogCurlImported logs a cURL command merged into the scenario.
// event: "curl_imported"
func (el *EventLogger) LogCurlImported(url, method string, advanced bool) {
	el.logger.Info("curl_imported",
		zap.String("url", url),
		zap.String("method", method),
		zap.Bool("advanced", advanced),
	)
}

// LogRunDeadlineExceeded logs a run aborted by the host deadline.
// event: "run_deadline_exceeded"
func (el *EventLogger) LogRunDeadlineExceeded(runID string, after time.Duration) {
	el.logger.Warn("run_deadline_exceeded",
		zap.String("run_id", runID),
		zap.Duration("after", after),
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns a no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}
