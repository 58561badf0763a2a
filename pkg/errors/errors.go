// Package errors provides a standardized application error type shared by
// every component of the merge engine.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"
)

// AppError represents a standardized application error.
type AppError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component"`
	Operation  string                 `json:"operation"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   Severity               `json:"severity"`
}

// Severity levels for errors.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error codes, one family per level of the error taxonomy.
const (
	// Row-level errors: recovered locally, counted, processing continues.
	CodeParseError        = "PARSE_ERROR"
	CodeValidationError   = "VALIDATION_ERROR"
	CodeDanglingReference = "DANGLING_REFERENCE"

	// Source-level errors: the source is refused, the run degrades.
	CodeSchemaError   = "SCHEMA_ERROR"
	CodeSourceIOError = "SOURCE_IO_ERROR"

	// Engine-level errors: fatal, abort the run, spill left intact.
	CodeSpillIOError  = "SPILL_IO_ERROR"
	CodeOutputIOError = "OUTPUT_IO_ERROR"
	CodeSpillRefused  = "SPILL_REFUSED"
	CodeDiskExhausted = "DISK_EXHAUSTED"
	CodeConfigInvalid = "CONFIG_INVALID"
	CodeCancelled     = "CANCELLED"
)

// New creates a new standardized error.
func New(code, component, operation, message string) *AppError {
	_, file, line, _ := runtime.Caller(1)

	return &AppError{
		Code:       code,
		Message:    message,
		Component:  component,
		Operation:  operation,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
		Severity:   SeverityMedium,
	}
}

// NewFatal creates a critical, engine-aborting error.
func NewFatal(code, component, operation, message string) *AppError {
	err := New(code, component, operation, message)
	err.Severity = SeverityCritical
	return err
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Wrap sets the underlying cause.
func (e *AppError) Wrap(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a diagnostic key/value, such as the offending file
// and line number.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsFatal reports whether the error should abort the entire run.
func (e *AppError) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// ToMap converts the error to a flat map for structured logging.
func (e *AppError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code":      e.Code,
		"error_message":   e.Message,
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_severity":  string(e.Severity),
		"error_timestamp": e.Timestamp,
	}

	if e.Cause != nil {
		result["error_cause"] = e.Cause.Error()
	}
	for k, v := range e.Metadata {
		result[fmt.Sprintf("error_meta_%s", k)] = v
	}
	return result
}

// AsAppError extracts an *AppError from err's unwrap chain, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// IsDiskFull reports whether err (or its cause chain) indicates the
// filesystem ran out of space, used to distinguish exit code 3 (disk
// space exhausted) from a generic I/O failure.
func IsDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
