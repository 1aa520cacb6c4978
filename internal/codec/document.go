// Package codec converts scenarios to and from the portable .sqa document and
// merges engine-parsed cURL commands into a scenario.
package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/thresholds"
	"github.com/stormqa/stormqa/internal/types"
)

// FileExtension is the extension of scenario documents.
const FileExtension = ".sqa"

// Document is the .sqa file layout. It is also the payload sent with start_test.
type Document struct {
	URL        string                `json:"url"`
	Method     string                `json:"method"`
	Steps      []scenario.Step       `json:"steps"`
	DataFile   string                `json:"data_file"`
	Extract    string                `json:"extract"`
	Thresholds string                `json:"thresholds"`
	Chaos      *scenario.ChaosConfig `json:"chaos,omitempty"`
	Headers    scenario.JSONValue    `json:"headers"`
	Body       scenario.JSONValue    `json:"body"`
	Assertion  string                `json:"assertion,omitempty"`
}

// HeaderMap returns the headers as a plain map.
func (d Document) HeaderMap() map[string]string {
	return scenario.HeaderMap(d.Headers)
}

// Export converts a scenario into a document. Headers that are not a string
// mapping fail with an invalid-JSON error, and threshold rules that would not
// parse back fail with a validation error, both before anything is written.
func Export(cfg scenario.ScenarioConfig) (Document, error) {
	headers, err := cfg.ExportHeaders()
	if err != nil {
		return Document{}, err
	}
	if err := cfg.ValidateThresholds(); err != nil {
		return Document{}, err
	}

	chaos := cfg.Chaos
	return Document{
		URL:        cfg.TargetURL,
		Method:     cfg.HTTPMethod,
		Steps:      append([]scenario.Step(nil), cfg.Steps...),
		DataFile:   cfg.DataSource,
		Extract:    cfg.ExtractionRule,
		Thresholds: thresholds.Compile(cfg.Thresholds),
		Chaos:      &chaos,
		Headers:    headers,
		Body:       cfg.Body,
		Assertion:  cfg.Assertion,
	}, nil
}

// Import converts a document into a scenario, filling defaults for missing
// optional fields. A malformed threshold expression aborts the import.
func Import(doc Document) (scenario.ScenarioConfig, error) {
	rules, err := thresholds.Parse(doc.Thresholds)
	if err != nil {
		return scenario.ScenarioConfig{}, err
	}

	cfg := scenario.ScenarioConfig{
		TargetURL:      doc.URL,
		Headers:        doc.Headers,
		Body:           doc.Body,
		Assertion:      doc.Assertion,
		ExtractionRule: doc.Extract,
		DataSource:     doc.DataFile,
		Thresholds:     rules,
		Chaos:          scenario.DefaultChaos(),
		Steps:          append([]scenario.Step(nil), doc.Steps...),
	}
	cfg.SetMethod(doc.Method)

	if cfg.Headers.IsNull() {
		cfg.Headers = scenario.ObjectValue()
	}
	if doc.Chaos != nil {
		cfg.Chaos = *doc.Chaos
	}
	if len(cfg.Steps) == 0 {
		cfg.Steps = []scenario.Step{scenario.DefaultStep()}
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = nil
	}
	return cfg, nil
}

// Encode renders a document as indented UTF-8 JSON.
func Encode(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// wireDocument mirrors Document but tolerates steps whose numbers were saved as strings.
type wireDocument struct {
	URL        string                `json:"url"`
	Method     string                `json:"method"`
	Steps      []wireStep            `json:"steps"`
	DataFile   string                `json:"data_file"`
	Extract    string                `json:"extract"`
	Thresholds string                `json:"thresholds"`
	Chaos      *scenario.ChaosConfig `json:"chaos"`
	Headers    scenario.JSONValue    `json:"headers"`
	Body       scenario.JSONValue    `json:"body"`
	Assertion  string                `json:"assertion"`
}

type wireStep struct {
	Users    flexNumber `json:"users"`
	Duration flexNumber `json:"duration"`
	Ramp     flexNumber `json:"ramp"`
	Think    flexNumber `json:"think"`
	Jitter   flexNumber `json:"jitter"`
}

// flexNumber accepts a JSON number, a numeric string or null.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexNumber(v)
	return nil
}

func (n flexNumber) int() int {
	return int(math.Trunc(float64(n)))
}

// Decode parses .sqa text. Unknown fields are ignored.
func Decode(data []byte) (Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var w wireDocument
	if err := json.Unmarshal(data, &w); err != nil {
		return Document{}, types.NewInvalidJSONError("document", err)
	}

	doc := Document{
		URL:        w.URL,
		Method:     w.Method,
		DataFile:   w.DataFile,
		Extract:    w.Extract,
		Thresholds: w.Thresholds,
		Chaos:      w.Chaos,
		Headers:    w.Headers,
		Body:       w.Body,
		Assertion:  w.Assertion,
	}
	if err := scenario.CheckHeaders(w.Headers); err != nil {
		return Document{}, types.NewInvalidJSONError("headers", err)
	}
	for _, s := range w.Steps {
		doc.Steps = append(doc.Steps, scenario.Step{
			Users:     s.Users.int(),
			DurationS: s.Duration.int(),
			RampS:     s.Ramp.int(),
			ThinkS:    float64(s.Think),
			JitterPct: s.Jitter.int(),
		})
	}
	return doc, nil
}
