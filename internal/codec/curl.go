package codec

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/stormqa/stormqa/internal/scenario"
	"github.com/stormqa/stormqa/internal/types"
)

// ParsedCurl is the request extracted from a cURL command by the engine.
type ParsedCurl struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// BodyValue returns the body as a JSON value. A string body holding JSON
// text is parsed, any other string is kept as a JSON string, and a null or
// missing body yields null.
func (p ParsedCurl) BodyValue() scenario.JSONValue {
	raw := bytes.TrimSpace(p.Body)
	if len(raw) == 0 || string(raw) == "null" {
		return scenario.Null()
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			v, err := scenario.ParseBody(s)
			if err != nil {
				return scenario.StringValue(s)
			}
			return v
		}
	}
	v, err := scenario.ParseJSONValue(string(raw))
	if err != nil {
		return scenario.StringValue(string(raw))
	}
	return v
}

// CurlResponse is the engine reply to parse_curl.
type CurlResponse struct {
	Status  string      `json:"status"`
	Data    *ParsedCurl `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Result returns the parsed request, or the engine's message as an engine error.
func (r CurlResponse) Result() (ParsedCurl, error) {
	if r.Status == "success" && r.Data != nil {
		return *r.Data, nil
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "could not parse cURL command"
	}
	return ParsedCurl{}, types.NewEngineError(msg)
}

// CurlImport merges a parsed cURL request into cfg. URL and method are always
// replaced; headers and body only when present and non-empty. It reports
// whether advanced options were filled in and should be revealed.
func CurlImport(cfg *scenario.ScenarioConfig, parsed ParsedCurl) bool {
	reveal := false

	cfg.TargetURL = parsed.URL
	cfg.SetMethod(parsed.Method)

	if len(parsed.Headers) > 0 {
		cfg.Headers = headerValue(parsed.Headers)
		reveal = true
	}
	if body := parsed.BodyValue(); !body.IsNull() {
		cfg.Body = body
		reveal = true
	}
	return reveal
}

func headerValue(headers map[string]string) scenario.JSONValue {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]scenario.JSONField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, scenario.JSONField{Key: k, Value: scenario.StringValue(headers[k])})
	}
	return scenario.ObjectValue(fields...)
}
