package types

// TelemetrySample is one periodic progress snapshot pushed by the engine during a run.
type TelemetrySample struct {
	ActiveUsers  int     `json:"active_users"`
	RPS          float64 `json:"requests_per_second"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	FailedCount  int     `json:"failed_count"`
}

// TestStatus is the terminal verdict computed by the engine.
type TestStatus string

const (
	TestStatusPassed TestStatus = "passed"
	TestStatusFailed TestStatus = "failed"
)

// TestSummary is the terminal summary pushed with test_finished.
// Metric fields are pointers because the engine may omit them.
type TestSummary struct {
	Status            TestStatus `json:"status"`
	Failures          []string   `json:"failures"`
	AvgResponseTimeMs *float64   `json:"avg_response_time_ms,omitempty"`
	P95Latency        *float64   `json:"p95_latency,omitempty"`
	P99Latency        *float64   `json:"p99_latency,omitempty"`
	ThroughputRPS     *float64   `json:"throughput_rps,omitempty"`
}

// Float returns a pointer to v, for building summaries.
func Float(v float64) *float64 {
	return &v
}
