// Package errors provides the error types shared by the scopeguard engines.
//
// Errors carry a Kind so callers can branch on the category of failure
// (configuration, timeout, malformed response, ...) without string matching.
// Two *Error values compare equal under errors.Is when their kinds match, which
// lets the package-level sentinels below act as category matchers.
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all scopeguard errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "policy.Evaluate")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindConfiguration
	KindOutOfRange
	KindRateLimit
	KindTimeout
	KindNetwork
	KindServer
	KindMalformed
	KindOverrideRejected
	KindStorage
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindConfiguration:
		return "configuration"
	case KindOutOfRange:
		return "out_of_range"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindMalformed:
		return "malformed"
	case KindOverrideRejected:
		return "override_rejected"
	case KindStorage:
		return "storage"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op then Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with additional context. The kind of a wrapped *Error is
// preserved so category checks keep working through the wrap.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: GetKind(err), Op: op, Err: err}
}

// Configf builds a configuration error for the given operation.
func Configf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsConfigurationError checks if the error is fatal run configuration.
func IsConfigurationError(err error) bool {
	return GetKind(err) == KindConfiguration
}

// IsTimeoutError checks if the error is a timeout error.
func IsTimeoutError(err error) bool {
	return GetKind(err) == KindTimeout
}

// IsNetworkError checks if the error is a network error.
func IsNetworkError(err error) bool {
	return GetKind(err) == KindNetwork
}

// IsRetryable reports whether a remote call may be attempted again within the
// same deadline. Timeouts are never retryable.
func IsRetryable(err error) bool {
	switch GetKind(err) {
	case KindRateLimit, KindServer, KindNetwork:
		return true
	default:
		return false
	}
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrConfiguration matches malformed scope, blocklist or weight configuration.
	ErrConfiguration = &Error{Kind: KindConfiguration, Message: "invalid configuration"}

	// ErrArbitrationTimeout is returned when the arbiter does not answer in time.
	ErrArbitrationTimeout = &Error{Kind: KindTimeout, Message: "arbitration timed out"}

	// ErrArbitrationTransport is returned when the arbiter cannot be reached.
	ErrArbitrationTransport = &Error{Kind: KindNetwork, Message: "arbitration transport failure"}

	// ErrArbitrationMalformed is returned when the arbiter reply fails validation.
	ErrArbitrationMalformed = &Error{Kind: KindMalformed, Message: "malformed arbitration response"}

	// ErrOverrideRejected is returned when the operator does not confirm an override.
	ErrOverrideRejected = &Error{Kind: KindOverrideRejected, Message: "manual override rejected"}

	// ErrFusionInputOutOfRange is returned when a score or confidence is outside [0,1].
	ErrFusionInputOutOfRange = &Error{Kind: KindOutOfRange, Message: "fusion input out of range"}

	// ErrRateLimited is returned when the rate limiter cannot grant a token.
	ErrRateLimited = &Error{Kind: KindRateLimit, Message: "rate limited"}
)
