package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidationErrorJoinsIssues(t *testing.T) {
	err := NewValidationError("",
		Issue{Field: "url", Message: "target URL is required"},
		Issue{Field: "steps", Message: "at least one step is required"},
	)

	assert.Equal(t, ErrKindValidation, err.Kind)
	assert.Equal(t, "url: target URL is required; steps: at least one step is required", err.Error())
	assert.Len(t, err.Issues, 2)
}

func TestNewValidationErrorKeepsMessage(t *testing.T) {
	err := NewValidationError("test already running")
	assert.Equal(t, "test already running", err.Error())
	assert.Empty(t, err.Issues)
}

func TestInvalidJSONErrorUnwraps(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewInvalidJSONError("headers", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "invalid JSON in headers: unexpected end of JSON input", err.Error())
	assert.Equal(t, "Invalid JSON in Headers", Display(err))
}

func TestKindPredicatesThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"validation", NewValidationError("x"), IsValidation},
		{"invalid json", NewInvalidJSONError("body", errors.New("x")), IsInvalidJSON},
		{"malformed threshold", NewMalformedThresholdError(0, "foo<1", "unknown metric"), IsMalformedThreshold},
		{"engine", NewEngineError("boom"), IsEngine},
		{"transport", NewTransportError("start_test", errors.New("closed")), IsTransport},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			assert.True(t, tc.is(wrapped))
			require.NotNil(t, AsError(wrapped))
		})
	}

	assert.False(t, IsValidation(errors.New("plain")))
	assert.Nil(t, AsError(errors.New("plain")))
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "", Display(nil))
	assert.Equal(t, "Error: connection reset", Display(NewEngineError("connection reset")))
	assert.Equal(t, "Error: plain", Display(errors.New("plain")))
	assert.Equal(t, "test already running", Display(NewValidationError("test already running")))
	assert.Contains(t, Display(NewMalformedThresholdError(1, "foo<1", "unknown metric")), "Error parsing file")
	assert.Contains(t, Display(NewTransportError("stop_test", errors.New("closed"))), "Engine unavailable")
}
