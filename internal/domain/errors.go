package domain

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not in the transition table
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrUnsupportedJobType is returned when the engine has no execution path for a job type
	ErrUnsupportedJobType = errors.New("unsupported job type")

	// ErrInvalidConfiguration is returned when a job configuration fails validation
	ErrInvalidConfiguration = errors.New("invalid job configuration")

	// ErrDataSourceUnavailable is returned when input data cannot be resolved and
	// fallback to sample data is disabled
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrDeserialization is returned when a queue message body cannot be decoded
	ErrDeserialization = errors.New("message deserialization failed")

	// ErrInvalidArgument is returned for malformed caller input
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error kinds, used as dead-letter reasons and error codes
const (
	KindDeserialization = "DESERIALIZATION_FAILED"
	KindConfiguration   = "CONFIGURATION_ERROR"
	KindInvalidState    = "INVALID_STATE"
	KindInvalidArgument = "INVALID_ARGUMENT"
	KindTransient       = "TRANSIENT_ERROR"
	KindCancelled       = "CANCELLED"
	KindExecution       = "EXECUTION_FAILED"
	KindDeadLettered    = "DEAD_LETTERED"
)

// RetryableError wraps transient errors that should trigger a redelivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// NonRetryableError marks a failure that will not succeed on another attempt
type NonRetryableError struct {
	Kind string
	Err  error
}

func (e *NonRetryableError) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError creates a new non-retryable error of the given kind
func NewNonRetryableError(kind string, err error) error {
	return &NonRetryableError{Kind: kind, Err: err}
}

// IsCancellation reports whether err comes from a canceled or expired context
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable classifies err. Validation, unsupported-operation and invalid-state
// errors are not retryable; everything else is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}

	switch {
	case errors.Is(err, ErrDeserialization),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrUnsupportedJobType),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrDataSourceUnavailable),
		errors.Is(err, ErrInvalidArgument):
		return false
	}

	return true
}

// ErrorKind returns the error kind name of err
func ErrorKind(err error) string {
	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return nonRetryable.Kind
	}

	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return KindCancelled
	case errors.Is(err, ErrDeserialization):
		return KindDeserialization
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidState
	case errors.Is(err, ErrUnsupportedJobType),
		errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, ErrDataSourceUnavailable):
		return KindConfiguration
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	}

	return KindTransient
}
