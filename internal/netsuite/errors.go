package netsuite

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionError means the ledger account is unreachable or disconnected.
// It is workspace-wide, not attributable to a single expense group.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("netsuite: connection error: %s", e.Message)
}

// LoginError means the stored token or credentials were rejected.
type LoginError struct {
	Message string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("netsuite: login error: %s", e.Message)
}

// RateLimitError is transient; the attempt stays retryable.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("netsuite: rate limited: %s", e.Message)
}

// FieldError is one structured validation failure from a bulk response.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries structured field-level errors. The payload itself
// is wrong and will not change without configuration edits, so attempts that
// hit it are not retryable.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "netsuite: validation error"
	}
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Message
	}
	return "netsuite: validation error: " + strings.Join(parts, "; ")
}

// Message returns the first field message, the piece shown to users.
func (e *ValidationError) Message() string {
	if len(e.Errors) == 0 {
		return "validation error"
	}
	return e.Errors[0].Message
}

// Fault is a generic ledger fault with a code and free-text message, the
// shape the error classifier parses.
type Fault struct {
	Code    string
	Message string
}

func (e *Fault) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCredentialError reports whether err halts the whole workspace cycle.
func IsCredentialError(err error) bool {
	var connErr *ConnectionError
	var loginErr *LoginError
	return errors.As(err, &connErr) || errors.As(err, &loginErr)
}

// IsRateLimited reports whether err is a transient rate-limit rejection.
func IsRateLimited(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr)
}
