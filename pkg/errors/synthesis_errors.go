package errors

import (
	"errors"
	"fmt"
)

// Error codes for the synthesis core
const (
	CodeInvalidGenerator     = "INVALID_GENERATOR"
	CodeInvalidEpsilon       = "INVALID_EPSILON"
	CodeConflictingOverrides = "CONFLICTING_OVERRIDES"
	CodeUnknownColumn        = "UNKNOWN_COLUMN"
	CodeInvalidColumnType    = "INVALID_COLUMN_TYPE"
	CodeInvalidSampleCount   = "INVALID_SAMPLE_COUNT"
	CodeInvalidTable         = "INVALID_TABLE"
	CodeInvalidConfig        = "INVALID_CONFIG"
	CodeSchemaMismatch       = "SCHEMA_MISMATCH"

	CodeUnknownCategory = "UNKNOWN_CATEGORY"
	CodeNotFitted       = "NOT_FITTED"

	CodeNonPSDCorrelation = "NON_PSD_CORRELATION"
	CodeTrainingDiverged  = "TRAINING_DIVERGED"
	CodeDegenerateData    = "DEGENERATE_DATA"

	CodeInvalidBudget = "INVALID_BUDGET"
)

// Sentinels for errors.Is; matching compares Type and Code only
var (
	ErrNotFitted       = NewAppError(ErrorTypeState, CodeNotFitted, "model has not been fitted")
	ErrUnknownCategory = NewAppError(ErrorTypeEncoding, CodeUnknownCategory, "value outside fitted categorical domain")
	ErrNonPSD          = NewAppError(ErrorTypeModelState, CodeNonPSDCorrelation, "correlation matrix is not positive semi-definite")
	ErrDiverged        = NewAppError(ErrorTypeModelState, CodeTrainingDiverged, "training loss diverged")
	ErrInvalidBudget   = NewAppError(ErrorTypeBudget, CodeInvalidBudget, "privacy budget out of range")
)

// NewConfigurationError creates a ConfigurationError
func NewConfigurationError(code, message string) *AppError {
	return NewAppError(ErrorTypeConfiguration, code, message)
}

// NewUnknownCategoryError reports a value outside a column's fitted domain
func NewUnknownCategoryError(column, value string) *AppError {
	return NewAppError(ErrorTypeEncoding, CodeUnknownCategory,
		fmt.Sprintf("value %q is not in the fitted domain of column %q", value, column)).
		WithContext("column", column).
		WithContext("value", value)
}

// NewNotFittedError reports use of a model before fit completed
func NewNotFittedError(operation string) *AppError {
	return NewAppError(ErrorTypeState, CodeNotFitted,
		fmt.Sprintf("%s called before fit completed", operation)).
		WithContext("operation", operation)
}

// NewInvalidModelStateError reports a non-recoverable numerical degeneracy
func NewInvalidModelStateError(code, message string) *AppError {
	return NewAppError(ErrorTypeModelState, code, message)
}

// NewInvalidBudgetError reports privacy parameters out of range
func NewInvalidBudgetError(message string) *AppError {
	return NewAppError(ErrorTypeBudget, CodeInvalidBudget, message)
}

// isType walks the whole chain so a ConfigurationError caused by an
// InvalidBudgetError satisfies both predicates.
func isType(err error, errType ErrorType) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Type == errType {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool { return isType(err, ErrorTypeConfiguration) }

// IsUnknownCategory reports whether err is an UnknownCategoryError
func IsUnknownCategory(err error) bool { return isType(err, ErrorTypeEncoding) }

// IsNotFitted reports whether err is a NotFittedError
func IsNotFitted(err error) bool { return isType(err, ErrorTypeState) }

// IsInvalidModelState reports whether err is an InvalidModelStateError
func IsInvalidModelState(err error) bool { return isType(err, ErrorTypeModelState) }

// IsInvalidBudget reports whether err is an InvalidBudgetError
func IsInvalidBudget(err error) bool { return isType(err, ErrorTypeBudget) }
