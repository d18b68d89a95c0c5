package models

import (
	"errors"
	"fmt"
)

// Row-scoped failure classes. Only ErrBoundaryFetch aborts a run.
var (
	ErrMissingRequiredField        = errors.New("missing required field")
	ErrInvalidTimestamp            = errors.New("invalid timestamp")
	ErrUnknownOperator             = errors.New("unknown operator")
	ErrInvalidCoordinates          = errors.New("invalid coordinates")
	ErrOutsideCountry              = errors.New("outside country")
	ErrUnrecognizedMeasurementType = errors.New("unrecognized measurement type")
	ErrOutOfRangeValue             = errors.New("value out of range")
	ErrMissingValue                = errors.New("missing value")
	ErrStore                       = errors.New("store error")
	ErrBoundaryFetch               = errors.New("boundary fetch failed")
)

// Reason is the statistics bucket a row or fact lands in.
type Reason string

const (
	ReasonProcessed          Reason = "processed"
	ReasonIncomplete         Reason = "skipped_incomplete"
	ReasonInvalidTimestamp   Reason = "invalid_timestamp"
	ReasonUnknownOperator    Reason = "unknown_operator"
	ReasonInvalidCoordinates Reason = "invalid_coordinates"
	ReasonOutsideCountry     Reason = "outside_country"
	ReasonDatabaseError      Reason = "database_error"
	ReasonUnrecognizedType   Reason = "unrecognized_type"
	ReasonOutOfRange         Reason = "out_of_range"
	ReasonMissingValue       Reason = "missing_value"
)

// ReasonFor maps an error onto its statistics bucket.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonProcessed
	case errors.Is(err, ErrMissingRequiredField):
		return ReasonIncomplete
	case errors.Is(err, ErrInvalidTimestamp):
		return ReasonInvalidTimestamp
	case errors.Is(err, ErrUnknownOperator):
		return ReasonUnknownOperator
	case errors.Is(err, ErrInvalidCoordinates):
		return ReasonInvalidCoordinates
	case errors.Is(err, ErrOutsideCountry):
		return ReasonOutsideCountry
	case errors.Is(err, ErrUnrecognizedMeasurementType):
		return ReasonUnrecognizedType
	case errors.Is(err, ErrOutOfRangeValue):
		return ReasonOutOfRange
	case errors.Is(err, ErrMissingValue):
		return ReasonMissingValue
	default:
		return ReasonDatabaseError
	}
}

// ValidationError represents a field that failed parsing or validation.
type ValidationError struct {
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}

// RowError records why a row left the pipeline early.
type RowError struct {
	Row    int
	Reason Reason
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %v", e.Row, e.Reason, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the row could succeed. Only store
// failures qualify.
func (e *RowError) IsTransient() bool {
	return e.Reason == ReasonDatabaseError
}

// StoreError wraps a failure talking to the persistent store.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
