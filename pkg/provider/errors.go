package provider

import (
	"errors"
	"fmt"

	"github.com/quantora/marketdata-client/pkg/quote"
	"github.com/quantora/marketdata-client/pkg/retry"
)

// Error is a normalized provider failure carrying its taxonomy kind.
type Error struct {
	Kind       quote.ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient builds a retryable provider error.
func Transient(message string, err error) *Error {
	return &Error{Kind: quote.KindTransient, Message: message, Err: err}
}

// Fatal builds a non-retryable provider error.
func Fatal(message string, err error) *Error {
	return &Error{Kind: quote.KindFatal, Message: message, Err: err}
}

// Classify is the retry classifier for provider failures: only
// transient errors are worth another attempt. Deadline and
// cancellation errors are fatal here because the remaining budget is
// gone either way.
func Classify(err error) retry.Class {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == quote.KindTransient {
		return retry.ClassRetryable
	}
	return retry.ClassFatal
}
