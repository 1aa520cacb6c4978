package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a client error so callers can pick how to surface it.
type ErrorKind int

const (
	ErrKindValidation ErrorKind = iota
	ErrKindInvalidJSON
	ErrKindMalformedThreshold
	ErrKindEngine
	ErrKindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindValidation:
		return "validation_error"
	case ErrKindInvalidJSON:
		return "invalid_json"
	case ErrKindMalformedThreshold:
		return "malformed_threshold"
	case ErrKindEngine:
		return "engine_error"
	case ErrKindTransport:
		return "transport_error"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Issue is a single field-level problem found while validating a scenario.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// Error is the typed error returned by every package of the client.
type Error struct {
	Kind    ErrorKind
	Field   string
	Message string
	Issues  []Issue
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error. When issues are given and
// message is empty the issues are joined into the message.
func NewValidationError(message string, issues ...Issue) *Error {
	if message == "" && len(issues) > 0 {
		parts := make([]string, len(issues))
		for i, issue := range issues {
			parts[i] = issue.String()
		}
		message = strings.Join(parts, "; ")
	}
	return &Error{
		Kind:    ErrKindValidation,
		Message: message,
		Issues:  issues,
	}
}

// NewInvalidJSONError reports malformed JSON text in the named field.
func NewInvalidJSONError(field string, cause error) *Error {
	return &Error{
		Kind:    ErrKindInvalidJSON,
		Field:   field,
		Message: fmt.Sprintf("invalid JSON in %s", field),
		Cause:   cause,
	}
}

// NewMalformedThresholdError reports an unparsable term of a threshold expression.
func NewMalformedThresholdError(index int, term, reason string) *Error {
	return &Error{
		Kind:    ErrKindMalformedThreshold,
		Field:   fmt.Sprintf("thresholds[%d]", index),
		Message: fmt.Sprintf("malformed threshold %q: %s", term, reason),
	}
}

// NewEngineError wraps a failure reported by the load engine. The message is kept verbatim.
func NewEngineError(message string) *Error {
	return &Error{
		Kind:    ErrKindEngine,
		Message: message,
	}
}

// NewTransportError reports that a request to the engine could not be delivered.
func NewTransportError(operation string, cause error) *Error {
	return &Error{
		Kind:    ErrKindTransport,
		Field:   operation,
		Message: fmt.Sprintf("engine unavailable (%s)", operation),
		Cause:   cause,
	}
}

// AsError attempts to convert an error to an *Error.
// Returns nil if not possible.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

func isKind(err error, kind ErrorKind) bool {
	e := AsError(err)
	return e != nil && e.Kind == kind
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return isKind(err, ErrKindValidation) }

// IsInvalidJSON checks if the error is an invalid-JSON error.
func IsInvalidJSON(err error) bool { return isKind(err, ErrKindInvalidJSON) }

// IsMalformedThreshold checks if the error is a malformed-threshold error.
func IsMalformedThreshold(err error) bool { return isKind(err, ErrKindMalformedThreshold) }

// IsEngine checks if the error is an engine-reported error.
func IsEngine(err error) bool { return isKind(err, ErrKindEngine) }

// IsTransport checks if the error is a transport error.
func IsTransport(err error) bool { return isKind(err, ErrKindTransport) }

// Display converts any error into the message shown to the user.
func Display(err error) string {
	if err == nil {
		return ""
	}
	e := AsError(err)
	if e == nil {
		return "Error: " + err.Error()
	}
	switch e.Kind {
	case ErrKindValidation:
		return e.Message
	case ErrKindInvalidJSON:
		return "Invalid JSON in " + displayField(e.Field)
	case ErrKindMalformedThreshold:
		return "Error parsing file: " + e.Message
	case ErrKindEngine:
		return "Error: " + e.Message
	case ErrKindTransport:
		return "Engine unavailable: " + e.Error()
	default:
		return e.Error()
	}
}

func displayField(field string) string {
	switch field {
	case "headers":
		return "Headers"
	case "body":
		return "Body"
	case "":
		return "document"
	default:
		return field
	}
}
