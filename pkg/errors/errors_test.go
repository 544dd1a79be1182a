package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorIsMatchesTypeAndCode(t *testing.T) {
	err := NewNotFittedError("generate")

	assert.True(t, stderrors.Is(err, ErrNotFitted))
	assert.False(t, stderrors.Is(err, ErrInvalidBudget))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrNotFitted))
	assert.True(t, IsNotFitted(wrapped))
}

func TestUnknownCategoryCarriesColumnAndValue(t *testing.T) {
	err := NewUnknownCategoryError("gender", "X")

	require.True(t, IsUnknownCategory(err))
	assert.Equal(t, "gender", err.Context["column"])
	assert.Equal(t, "X", err.Context["value"])
	assert.Contains(t, err.Error(), `"gender"`)
	assert.Contains(t, err.Error(), `"X"`)
	assert.Equal(t, 422, err.HTTPStatus)
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"configuration", NewConfigurationError(CodeInvalidGenerator, "bad"), IsConfigurationError},
		{"model state", NewInvalidModelStateError(CodeNonPSDCorrelation, "bad"), IsInvalidModelState},
		{"budget", NewInvalidBudgetError("bad"), IsInvalidBudget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.False(t, tt.pred(stderrors.New("plain")))
		})
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := WrapError(cause, ErrorTypeStorage, CodeStorageConnection, "failed to connect")

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, err.Retryable)
	assert.Equal(t, 503, HTTPStatus(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 500, HTTPStatus(cause))
}
