package scenario

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/stormqa/stormqa/internal/types"
)

var extractionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=\S+$`)

// Validate checks every numeric and required field before dispatch.
// All problems are reported together in a single validation error.
func (c ScenarioConfig) Validate() error {
	var issues []types.Issue
	add := func(field, format string, args ...any) {
		issues = append(issues, types.Issue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.TargetURL) == "" {
		add("url", "target URL is required")
	}
	if !validMethod(c.HTTPMethod) {
		add("method", "unsupported method %q", c.HTTPMethod)
	}

	if len(c.Steps) == 0 {
		add("steps", "at least one step is required")
	}
	for i, s := range c.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s.Users <= 0 {
			add(field+".users", "must be greater than 0")
		}
		if s.DurationS <= 0 {
			add(field+".duration", "must be greater than 0")
		}
		if s.RampS < 0 {
			add(field+".ramp", "must not be negative")
		}
		if s.ThinkS < 0 {
			add(field+".think", "must not be negative")
		}
		if s.JitterPct < 0 || s.JitterPct > 100 {
			add(field+".jitter", "must be between 0 and 100")
		}
	}

	for i, r := range c.Thresholds {
		if err := r.validate(); err != "" {
			add(fmt.Sprintf("thresholds[%d]", i), "%s", err)
		}
	}

	if c.Chaos.Enabled {
		if c.Chaos.InjectionRatePct < 1 || c.Chaos.InjectionRatePct > 100 {
			add("chaos.rate", "must be between 1 and 100")
		}
		if c.Chaos.FaultType != FaultLatency && c.Chaos.FaultType != FaultException {
			add("chaos.type", "unknown fault type %q", c.Chaos.FaultType)
		}
	}

	if c.ExtractionRule != "" && !extractionPattern.MatchString(c.ExtractionRule) {
		add("extract", "expected NAME=json.path, got %q", c.ExtractionRule)
	}

	if len(issues) > 0 {
		return types.NewValidationError("", issues...)
	}
	return nil
}

// validate returns a description of the problem, or "" for a valid or inactive rule.
func (r ThresholdRule) validate() string {
	switch r.Type {
	case MetricPercentile:
		if p := strings.TrimSpace(r.PValue); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > 99 {
				return fmt.Sprintf("percentile must be between 1 and 99, got %q", r.PValue)
			}
		}
	case MetricAverage, MetricErrorRate:
	default:
		return fmt.Sprintf("unknown metric %q", r.Type)
	}
	if !r.Active() {
		return ""
	}
	limit, err := strconv.ParseFloat(strings.TrimSpace(r.Limit), 64)
	if err != nil || math.IsNaN(limit) || math.IsInf(limit, 0) {
		return fmt.Sprintf("limit must be a number, got %q", r.Limit)
	}
	if limit < 0 {
		return "limit must not be negative"
	}
	return ""
}

// ValidateThresholds checks only the rules that compile into the expression.
// Everything it accepts parses back from the compiled form.
func (c ScenarioConfig) ValidateThresholds() error {
	var issues []types.Issue
	for i, r := range c.Thresholds {
		if !r.Active() {
			continue
		}
		if msg := r.validate(); msg != "" {
			issues = append(issues, types.Issue{Field: fmt.Sprintf("thresholds[%d]", i), Message: msg})
		}
	}
	if len(issues) > 0 {
		return types.NewValidationError("", issues...)
	}
	return nil
}

func validMethod(method string) bool {
	for _, m := range Methods {
		if m == method {
			return true
		}
	}
	return false
}

// ExportHeaders returns Headers as sent to the engine. Unset headers become
// an empty object; a mapping with non-string members is an invalid-JSON error.
func (c ScenarioConfig) ExportHeaders() (JSONValue, error) {
	if err := CheckHeaders(c.Headers); err != nil {
		return JSONValue{}, types.NewInvalidJSONError("headers", err)
	}
	if c.Headers.IsNull() {
		return ObjectValue(), nil
	}
	return c.Headers, nil
}
