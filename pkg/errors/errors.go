package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorType classifies how a crawl failure should be handled by callers
type ErrorType string

const (
	ErrorTypeExtractionSkip         ErrorType = "extraction_skip"
	ErrorTypePageLoadTimeout        ErrorType = "page_load_timeout"
	ErrorTypeStagnantFeed           ErrorType = "stagnant_feed"
	ErrorTypeAuthenticationRequired ErrorType = "authentication_required"
	ErrorTypeChallengeDetected      ErrorType = "challenge_detected"
	ErrorTypeCancelled              ErrorType = "cancelled"
	ErrorTypeDriver                 ErrorType = "driver"
	ErrorTypeConfig                 ErrorType = "config"
	ErrorTypeUnknown                ErrorType = "unknown"
)

// Error is a classified crawl error
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same Type, so sentinel comparisons like
// errors.Is(err, &Error{Type: ErrorTypeCancelled}) work through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// New creates a classified error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap creates a classified error around a cause
func Wrap(errorType ErrorType, message string, cause error) *Error {
	return &Error{Type: errorType, Message: message, Cause: cause}
}

// IsRetryable checks if an error type should be retried. Only page load
// timeouts are; everything else either cannot improve or is terminal.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypePageLoadTimeout:
		return true
	default:
		return false
	}
}

// RequiresManualIntervention reports whether a human has to act before the
// target can be crawled again.
func RequiresManualIntervention(errorType ErrorType) bool {
	return errorType == ErrorTypeChallengeDetected
}

// IsFatal reports whether a failure should abort a multi-target run rather
// than just the current target.
func IsFatal(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeAuthenticationRequired, ErrorTypeChallengeDetected, ErrorTypeCancelled:
		return true
	default:
		return false
	}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeCancelled
	}
	return ErrorTypeUnknown
}

// Classify returns err as a classified *Error, wrapping unclassified errors.
// Context errors become ErrorTypeCancelled.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrorTypeCancelled, "crawl cancelled", err)
	}
	return Wrap(ErrorTypeUnknown, "unclassified failure", err)
}
