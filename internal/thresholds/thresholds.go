// Package thresholds converts between threshold rule objects and the flat
// expression understood by the engine, e.g. "p95<500, avg<200, error<1".
package thresholds

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/types"
)

const separator = ", "

var percentileToken = regexp.MustCompile(`^p(\d+)$`)

// Compile renders the active rules as an expression, preserving order.
// Rules with a blank limit are skipped.
func Compile(rules []scenario.ThresholdRule) string {
	terms := make([]string, 0, len(rules))
	for _, r := range rules {
		if !r.Active() {
			continue
		}
		terms = append(terms, Token(r)+"<"+strings.TrimSpace(r.Limit))
	}
	return strings.Join(terms, separator)
}

// Token returns the metric token of a rule: p<N>, avg or error.
func Token(r scenario.ThresholdRule) string {
	if r.Type == scenario.MetricPercentile {
		p := strings.TrimSpace(r.PValue)
		if p == "" {
			p = scenario.DefaultPercentile
		}
		return "p" + p
	}
	return string(r.Type)
}

// Parse reads an expression back into rules. A blank expression yields no rules.
// On error no rules are returned, so the caller's current rules stay untouched.
func Parse(expr string) ([]scenario.ThresholdRule, error) {
	if strings.TrimSpace(expr) == "" {
		return []scenario.ThresholdRule{}, nil
	}

	terms := strings.Split(expr, ",")
	rules := make([]scenario.ThresholdRule, 0, len(terms))
	for i, term := range terms {
		rule, err := parseTerm(i, strings.TrimSpace(term))
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseTerm(index int, term string) (scenario.ThresholdRule, error) {
	parts := strings.Split(term, "<")
	if len(parts) != 2 {
		return scenario.ThresholdRule{}, types.NewMalformedThresholdError(index, term, "expected <metric><<limit>")
	}
	metric := strings.TrimSpace(parts[0])
	limit := strings.TrimSpace(parts[1])

	v, err := strconv.ParseFloat(limit, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return scenario.ThresholdRule{}, types.NewMalformedThresholdError(index, term, "limit is not a number")
	}

	switch {
	case metric == string(scenario.MetricAverage):
		return scenario.ThresholdRule{Type: scenario.MetricAverage, Limit: limit}, nil
	case metric == string(scenario.MetricErrorRate):
		return scenario.ThresholdRule{Type: scenario.MetricErrorRate, Limit: limit}, nil
	}
	if m := percentileToken.FindStringSubmatch(metric); m != nil {
		return scenario.ThresholdRule{Type: scenario.MetricPercentile, PValue: m[1], Limit: limit}, nil
	}
	return scenario.ThresholdRule{}, types.NewMalformedThresholdError(index, term, "unknown metric "+strconv.Quote(metric))
}

// Normalize returns the canonical form of an expression.
func Normalize(expr string) (string, error) {
	rules, err := Parse(expr)
	if err != nil {
		return "", err
	}
	return Compile(rules), nil
}
