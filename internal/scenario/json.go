package scenario

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// JSONKind identifies the variant held by a JSONValue.
type JSONKind int

const (
	JSONNull JSONKind = iota
	JSONBool
	JSONNumber
	JSONString
	JSONArray
	JSONObject
)

// JSONField is one member of a JSON object. Object members keep their source order.
type JSONField struct {
	Key   string
	Value JSONValue
}

// JSONValue is an explicit JSON document tree used for headers and bodies.
// The zero value is JSON null.
type JSONValue struct {
	kind   JSONKind
	boolV  bool
	numV   json.Number
	strV   string
	items  []JSONValue
	fields []JSONField
}

// Null returns the JSON null value.
func Null() JSONValue { return JSONValue{} }

// StringValue returns a JSON string.
func StringValue(s string) JSONValue { return JSONValue{kind: JSONString, strV: s} }

// ObjectValue returns a JSON object with the given members in order.
func ObjectValue(fields ...JSONField) JSONValue {
	if fields == nil {
		fields = []JSONField{}
	}
	return JSONValue{kind: JSONObject, fields: fields}
}

// Kind returns the variant.
func (v JSONValue) Kind() JSONKind { return v.kind }

// IsNull reports whether v is JSON null.
func (v JSONValue) IsNull() bool { return v.kind == JSONNull }

// Fields returns the members of an object, or nil for any other kind.
func (v JSONValue) Fields() []JSONField { return v.fields }

// Str returns the string payload and whether v is a string.
func (v JSONValue) Str() (string, bool) { return v.strV, v.kind == JSONString }

// ParseJSONValue parses a complete JSON text. Trailing data is rejected.
func ParseJSONValue(text string) (JSONValue, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return JSONValue{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return JSONValue{}, errors.New("unexpected data after JSON value")
		}
		return JSONValue{}, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (JSONValue, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return JSONValue{}, io.ErrUnexpectedEOF
		}
		return JSONValue{}, err
	}

	switch t := tok.(type) {
	case nil:
		return JSONValue{}, nil
	case bool:
		return JSONValue{kind: JSONBool, boolV: t}, nil
	case json.Number:
		return JSONValue{kind: JSONNumber, numV: t}, nil
	case string:
		return JSONValue{kind: JSONString, strV: t}, nil
	case json.Delim:
		switch t {
		case '[':
			v := JSONValue{kind: JSONArray, items: []JSONValue{}}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return JSONValue{}, err
				}
				v.items = append(v.items, item)
			}
			if _, err := dec.Token(); err != nil {
				return JSONValue{}, err
			}
			return v, nil
		case '{':
			v := JSONValue{kind: JSONObject, fields: []JSONField{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return JSONValue{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return JSONValue{}, fmt.Errorf("object key must be a string, got %v", keyTok)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return JSONValue{}, err
				}
				v.fields = append(v.fields, JSONField{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return JSONValue{}, err
			}
			return v, nil
		}
	}
	return JSONValue{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// MarshalJSON writes v compactly, preserving object member order.
func (v JSONValue) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON parses data into v.
func (v *JSONValue) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSONValue(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v JSONValue) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case JSONNull:
		buf.WriteString("null")
	case JSONBool:
		if v.boolV {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case JSONNumber:
		buf.WriteString(v.numV.String())
	case JSONString:
		b, err := json.Marshal(v.strV)
		if err != nil {
			return err
		}
		buf.Write(b)
	case JSONArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case JSONObject:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown JSON kind %d", v.kind)
	}
	return nil
}

// Text renders v as indented JSON text, the form shown in the editor.
// Null renders as the empty string.
func (v JSONValue) Text() string {
	if v.kind == JSONNull {
		return ""
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

// ParseHeaders parses header text into an ordered string mapping.
// Blank text yields an empty mapping.
func ParseHeaders(text string) (JSONValue, error) {
	if strings.TrimSpace(text) == "" {
		return ObjectValue(), nil
	}
	v, err := ParseJSONValue(text)
	if err != nil {
		return JSONValue{}, err
	}
	if err := CheckHeaders(v); err != nil {
		return JSONValue{}, err
	}
	return v, nil
}

// CheckHeaders reports whether v is a usable header mapping: null or an
// object whose members are all strings.
func CheckHeaders(v JSONValue) error {
	switch v.kind {
	case JSONNull:
		return nil
	case JSONObject:
	default:
		return errors.New("headers must be a JSON object")
	}
	for _, f := range v.fields {
		if f.Value.kind != JSONString {
			return fmt.Errorf("header %q must be a string", f.Key)
		}
	}
	return nil
}

// ParseBody parses body text. Blank text yields null.
func ParseBody(text string) (JSONValue, error) {
	if strings.TrimSpace(text) == "" {
		return Null(), nil
	}
	return ParseJSONValue(text)
}

// HeaderMap flattens a header object into a map. Later duplicates win.
func HeaderMap(v JSONValue) map[string]string {
	out := make(map[string]string, len(v.fields))
	for _, f := range v.fields {
		if s, ok := f.Value.Str(); ok {
			out[f.Key] = s
		}
	}
	return out
}

// HeadersText renders a header object for the editor. An empty object renders as "".
func HeadersText(v JSONValue) string {
	if v.kind != JSONObject || len(v.fields) == 0 {
		return ""
	}
	return v.Text()
}
