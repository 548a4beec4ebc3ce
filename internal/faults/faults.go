// Package faults classifies pipeline failures into the kinds surfaced to
// callers and decides which of them are worth retrying.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies the stage and class of a failure
type Kind string

const (
	KindInvalidInput             Kind = "invalid_input"
	KindCloneFailed              Kind = "clone_failed"
	KindScannerInvocationFailed  Kind = "scanner_invocation_failed"
	KindScanTimedOut             Kind = "scan_timed_out"
	KindMetricsFetchFailed       Kind = "metrics_fetch_failed"
	KindAIRequestFailed          Kind = "ai_request_failed"
	KindAIResponseMalformed      Kind = "ai_response_malformed"
	KindQuestionValidationFailed Kind = "question_validation_failed"
	KindUnexpected               Kind = "unexpected"
)

// Transient reports whether failures of this kind may succeed on a later attempt.
// Content and validation failures are deterministic and never retried.
func (k Kind) Transient() bool {
	switch k {
	case KindCloneFailed, KindScannerInvocationFailed, KindScanTimedOut,
		KindMetricsFetchFailed, KindAIRequestFailed, KindUnexpected:
		return true
	default:
		return false
	}
}

// Error is a classified failure
type Error struct {
	Kind    Kind
	Details string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Details != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Details, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted description
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Details: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, details string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Details: details, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain,
// KindUnexpected when none is found.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var resp *ErrorResponse
	if errors.As(err, &resp) {
		return resp.Kind
	}
	return KindUnexpected
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Transient reports whether err is worth another attempt
func Transient(err error) bool {
	return err != nil && KindOf(err).Transient()
}

// ErrorResponse is the terminal failure value handed to callers of the
// analysis pipeline. It is never persisted as analysis state.
type ErrorResponse struct {
	Kind      Kind      `json:"kind"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Details)
}

// Response converts any error into an ErrorResponse stamped with now
func Response(err error, now time.Time) *ErrorResponse {
	var resp *ErrorResponse
	if errors.As(err, &resp) {
		return resp
	}
	return &ErrorResponse{
		Kind:      KindOf(err),
		Details:   err.Error(),
		Timestamp: now.UTC(),
	}
}
