// Package scenario holds the canonical in-memory load-test plan edited by the user.
package scenario

import (
	"strings"

	"github.com/stormqa/stormqa/internal/types"
)

// Step is one load phase.
type Step struct {
	Users     int     `json:"users"`
	DurationS int     `json:"duration"`
	RampS     int     `json:"ramp"`
	ThinkS    float64 `json:"think"`
	JitterPct int     `json:"jitter"`
}

// MetricType selects the aggregate a threshold rule is evaluated against.
type MetricType string

const (
	MetricPercentile MetricType = "p"
	MetricAverage    MetricType = "avg"
	MetricErrorRate  MetricType = "error"
)

// DefaultPercentile is used when a percentile rule leaves p_val blank.
const DefaultPercentile = "95"

// ThresholdRule fails the test when the metric is greater than Limit.
// Values are kept as typed text so half-edited rules can exist; a rule with a
// blank Limit is inactive.
type ThresholdRule struct {
	Type   MetricType `json:"type"`
	PValue string     `json:"p_val"`
	Limit  string     `json:"val"`
}

// Active reports whether the rule takes part in compilation.
func (r ThresholdRule) Active() bool {
	return strings.TrimSpace(r.Limit) != ""
}

// FaultType is the kind of fault injected by the engine.
type FaultType string

const (
	FaultLatency   FaultType = "latency"
	FaultException FaultType = "exception"
)

// ChaosConfig controls engine-side fault injection.
type ChaosConfig struct {
	Enabled          bool      `json:"enabled"`
	InjectionRatePct int       `json:"rate"`
	FaultType        FaultType `json:"type"`
}

// DefaultChaos returns chaos injection disabled at a 10% latency rate.
func DefaultChaos() ChaosConfig {
	return ChaosConfig{Enabled: false, InjectionRatePct: 10, FaultType: FaultLatency}
}

// Methods lists the HTTP methods a scenario may target.
var Methods = []string{"GET", "POST", "PUT", "DELETE"}

// DefaultHeaders returns the header mapping a fresh session starts with.
func DefaultHeaders() JSONValue {
	return ObjectValue(JSONField{Key: "Content-Type", Value: StringValue("application/json")})
}

// ScenarioConfig is the complete test plan.
// Headers is an ordered string mapping (an empty object when unset) and Body
// is any JSON value, null when unset. Editor text goes through SetHeadersText
// and SetBodyText so malformed JSON never reaches the model.
type ScenarioConfig struct {
	TargetURL      string
	HTTPMethod     string
	Headers        JSONValue
	Body           JSONValue
	Assertion      string
	ExtractionRule string
	DataSource     string
	Thresholds     []ThresholdRule
	Chaos          ChaosConfig
	Steps          []Step
}

// DefaultStep is the single step of a fresh scenario.
func DefaultStep() Step {
	return Step{Users: 10, DurationS: 30, RampS: 5, ThinkS: 0.5, JitterPct: 10}
}

// NewStep is the step appended by AddStep.
func NewStep() Step {
	return Step{Users: 50, DurationS: 30, RampS: 5, ThinkS: 0.5, JitterPct: 10}
}

// NewScenarioConfig returns the scenario a new session starts with.
func NewScenarioConfig() ScenarioConfig {
	return ScenarioConfig{
		HTTPMethod: "GET",
		Headers:    DefaultHeaders(),
		Chaos:      DefaultChaos(),
		Steps:      []Step{DefaultStep()},
	}
}

// Snapshot returns a deep copy safe to hand to a running test.
func (c ScenarioConfig) Snapshot() ScenarioConfig {
	out := c
	out.Thresholds = append([]ThresholdRule(nil), c.Thresholds...)
	out.Steps = append([]Step(nil), c.Steps...)
	return out
}

// AddStep appends a new load phase.
func (c *ScenarioConfig) AddStep() {
	c.Steps = append(c.Steps, NewStep())
}

// RemoveStep deletes the step at idx. The last remaining step is never removed.
func (c *ScenarioConfig) RemoveStep(idx int) bool {
	if len(c.Steps) <= 1 || idx < 0 || idx >= len(c.Steps) {
		return false
	}
	c.Steps = append(c.Steps[:idx:idx], c.Steps[idx+1:]...)
	return true
}

// AddRule appends an empty P95 rule.
func (c *ScenarioConfig) AddRule() {
	c.Thresholds = append(c.Thresholds, ThresholdRule{Type: MetricPercentile, PValue: DefaultPercentile})
}

// UpdateRule replaces the rule at idx.
func (c *ScenarioConfig) UpdateRule(idx int, rule ThresholdRule) bool {
	if idx < 0 || idx >= len(c.Thresholds) {
		return false
	}
	c.Thresholds[idx] = rule
	return true
}

// RemoveRule deletes the rule at idx.
func (c *ScenarioConfig) RemoveRule(idx int) bool {
	if idx < 0 || idx >= len(c.Thresholds) {
		return false
	}
	c.Thresholds = append(c.Thresholds[:idx:idx], c.Thresholds[idx+1:]...)
	return true
}

// SetMethod stores method upper-cased. An empty method falls back to GET.
func (c *ScenarioConfig) SetMethod(method string) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	c.HTTPMethod = method
}

// AdvancedOptionsInUse reports whether the scenario sets any option hidden
// behind the advanced panel, so the host can reveal it after an import.
func (c ScenarioConfig) AdvancedOptionsInUse() bool {
	return len(c.Headers.Fields()) > 0 ||
		!c.Body.IsNull() ||
		c.ExtractionRule != "" ||
		len(c.Thresholds) > 0 ||
		c.Chaos.Enabled
}

// SetHeadersText parses editor text into Headers. Blank text clears them.
// On malformed JSON the headers are left unchanged.
func (c *ScenarioConfig) SetHeadersText(text string) error {
	v, err := ParseHeaders(text)
	if err != nil {
		return types.NewInvalidJSONError("headers", err)
	}
	c.Headers = v
	return nil
}

// SetBodyText parses editor text into Body. Blank text clears it.
// On malformed JSON the body is left unchanged.
func (c *ScenarioConfig) SetBodyText(text string) error {
	v, err := ParseBody(text)
	if err != nil {
		return types.NewInvalidJSONError("body", err)
	}
	c.Body = v
	return nil
}

// HeadersText renders Headers for the editor.
func (c ScenarioConfig) HeadersText() string { return HeadersText(c.Headers) }

// BodyText renders Body for the editor.
func (c ScenarioConfig) BodyText() string { return c.Body.Text() }
