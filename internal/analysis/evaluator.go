// Package analysis renders the engine's terminal summary into a pass/fail result.
// Thresholds are evaluated by the engine; nothing here recomputes them.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stormqa/stormqa/internal/types"
)

// Result is the displayable outcome of a finished run.
type Result struct {
	Status            types.TestStatus `json:"status"`
	Failures          []string         `json:"failures"`
	AvgResponseTimeMs float64          `json:"avg_response_time_ms"`
	P95LatencyMs      float64          `json:"p95_latency"`
	P99LatencyMs      float64          `json:"p99_latency"`
	ThroughputRPS     float64          `json:"throughput_rps"`
}

// Evaluate converts a summary into a Result. Missing metrics display as 0.
func Evaluate(s types.TestSummary) Result {
	failures := make([]string, len(s.Failures))
	copy(failures, s.Failures)

	return Result{
		Status:            s.Status,
		Failures:          failures,
		AvgResponseTimeMs: valueOrZero(s.AvgResponseTimeMs),
		P95LatencyMs:      valueOrZero(s.P95Latency),
		P99LatencyMs:      valueOrZero(s.P99Latency),
		ThroughputRPS:     valueOrZero(s.ThroughputRPS),
	}
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Passed reports whether the engine marked the run as passed.
func (r Result) Passed() bool {
	return r.Status == types.TestStatusPassed
}

// Title is the banner heading.
func (r Result) Title() string {
	if r.Passed() {
		return "TEST PASSED"
	}
	return "TEST FAILED"
}

// Reasons is the banner subtitle.
func (r Result) Reasons() string {
	if len(r.Failures) > 0 {
		return "Reasons: " + strings.Join(r.Failures, ", ")
	}
	return "All thresholds met successfully."
}

// Headline renders the banner and the four headline metrics.
func (r Result) Headline() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n", r.Title(), r.Reasons())
	fmt.Fprintf(&sb, "Avg Latency: %.1f ms\n", r.AvgResponseTimeMs)
	fmt.Fprintf(&sb, "P95 Latency: %.1f ms\n", r.P95LatencyMs)
	fmt.Fprintf(&sb, "P99 Latency: %.1f ms\n", r.P99LatencyMs)
	fmt.Fprintf(&sb, "Throughput: %.1f req/s\n", r.ThroughputRPS)
	return sb.String()
}

// wireSummary accepts both the flat summary and the engine's nested
// {"test_result": {"status", "failures"}, ...} form.
type wireSummary struct {
	Status     types.TestStatus `json:"status"`
	Failures   []string         `json:"failures"`
	TestResult *struct {
		Status   types.TestStatus `json:"status"`
		Failures []string         `json:"failures"`
	} `json:"test_result"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms"`
	P95Latency        *float64 `json:"p95_latency"`
	P99Latency        *float64 `json:"p99_latency"`
	ThroughputRPS     *float64 `json:"throughput_rps"`
}

// DecodeSummary parses a test_finished payload.
func DecodeSummary(raw []byte) (types.TestSummary, error) {
	var w wireSummary
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.TestSummary{}, fmt.Errorf("failed to decode summary: %w", err)
	}

	s := types.TestSummary{
		Status:            w.Status,
		Failures:          w.Failures,
		AvgResponseTimeMs: w.AvgResponseTimeMs,
		P95Latency:        w.P95Latency,
		P99Latency:        w.P99Latency,
		ThroughputRPS:     w.ThroughputRPS,
	}
	if w.TestResult != nil {
		s.Status = w.TestResult.Status
		s.Failures = w.TestResult.Failures
	}
	if s.Failures == nil {
		s.Failures = []string{}
	}
	return s, nil
}
