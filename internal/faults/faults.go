// Package faults carries the classified failure that moves between pipeline
// stages, the retry policy, and the job store. Every stage error that should
// influence job state is wrapped in an Error; anything unclassified defaults
// to a non-retryable internal failure.
package faults

import (
	"errors"
	"fmt"

	"github.com/intakehq/docpipe/constants"
)

// Error is a classified processing failure. Code is the only part that is
// persisted on the job record; Stage and the cause stay in logs.
type Error struct {
	Code      constants.ErrorCode
	Stage     constants.Stage
	Retryable bool
	cause     error
}

// New classifies err under code and stage. Retryability defaults from the
// code's origin; use NewRetryable or NewTerminal to override.
func New(code constants.ErrorCode, stage constants.Stage, cause error) *Error {
	return &Error{
		Code:      code,
		Stage:     stage,
		Retryable: code.RetryableByOrigin(),
		cause:     cause,
	}
}

// NewRetryable classifies err as transient regardless of the code default.
func NewRetryable(code constants.ErrorCode, stage constants.Stage, cause error) *Error {
	e := New(code, stage, cause)
	e.Retryable = true
	return e
}

// NewTerminal classifies err as permanent regardless of the code default.
func NewTerminal(code constants.ErrorCode, stage constants.Stage, cause error) *Error {
	e := New(code, stage, cause)
	e.Retryable = false
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s at %s: %v", e.Code, e.Stage, e.cause)
	}
	return fmt.Sprintf("%s at %s", e.Code, e.Stage)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Code extracts the persisted error code. Unclassified errors map to
// INTERNAL_ERROR so free text never leaks into a job record.
func Code(err error) constants.ErrorCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return constants.CodeInternal
}

// Retryable reports the explicit classification. Unknown failure modes are
// not assumed transient.
func Retryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// StageOf reports the pipeline stage that raised err, INIT when unknown.
func StageOf(err error) constants.Stage {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return constants.StageInit
}
