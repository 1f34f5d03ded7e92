// Package errs provides the structured error taxonomy shared across paygate.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error category used for routing and retry decisions.
type Code string

const (
	// CodeValidation indicates malformed or out-of-bound input. Rejected
	// synchronously, no side effects are created.
	CodeValidation Code = "validation"
	// CodeInsufficientBalance indicates a balance mutation that would make
	// the merchant balance negative.
	CodeInsufficientBalance Code = "insufficient_balance"
	// CodeConflict indicates an optimistic-concurrency write that exhausted
	// its retry budget.
	CodeConflict Code = "conflict"
	// CodeNotFound indicates a missing transaction, merchant or token,
	// including unauthorized cross-owner token access.
	CodeNotFound Code = "not_found"
	// CodeTransient indicates an infrastructure failure that may succeed on
	// retry (transport or bank unreachable, circuit breaker open).
	CodeTransient Code = "transient"
	// CodePermanent indicates an exhausted retry budget. Terminal; requires
	// an explicit operator reset.
	CodePermanent Code = "permanent"
)

// E carries a category code alongside a message and an optional cause.
type E struct {
	Code    Code
	Message string

	cause error
}

// New constructs an error with the given code and message.
func New(code Code, message string) *E {
	return &E{Code: code, Message: message}
}

// Newf constructs an error with a formatted message.
func Newf(code Code, format string, args ...any) *E {
	return &E{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(code Code, message string, cause error) *E {
	return &E{Code: code, Message: message, cause: cause}
}

func (e *E) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *E) Unwrap() error {
	return e.cause
}

// CodeOf extracts the category of err, or the empty code for plain errors.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }

// IsInsufficientBalance reports whether err is an insufficient-balance error.
func IsInsufficientBalance(err error) bool { return CodeOf(err) == CodeInsufficientBalance }

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsTransient reports whether err is a retryable infrastructure failure.
func IsTransient(err error) bool { return CodeOf(err) == CodeTransient }
