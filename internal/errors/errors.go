package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Process exit codes. Every failure the operator must act on maps to 1;
// only cancellation by a signal gets its own code, following the shell
// convention of 128 + SIGINT.
const (
	ExitSuccess       = 0   // Normal completion, including budget-interrupted runs.
	ExitErrorGeneric  = 1   // Unclassified failure.
	ExitErrorConfig   = 1   // Usage error: bad argument count or value.
	ExitErrorSetup    = 1   // Channel creation/open or peer launch failed.
	ExitErrorProtocol = 1   // Malformed frame on the channel.
	ExitErrorCanceled = 130 // Interrupted by SIGINT/SIGTERM.
)

// ConfigError represents a command-line usage error, such as a missing CPU
// limit or an invalid flag value. The program prints it with the usage text
// and exits without touching the channel.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
//
// Returns:
//   - string: The error message string.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
//
// Parameters:
//   - format: A format string (see fmt.Sprintf).
//   - a: Arguments to be formatted into the string.
//
// Returns:
//   - error: A new ConfigError instance containing the formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// SetupError reports a failure while bringing the server up: creating or
// opening the channel, installing the CPU budget or launching the peer.
// Setup errors are never retried.
type SetupError struct {
	// Stage names the startup step that failed (e.g. "create channel").
	Stage string
	// Cause is the underlying error.
	Cause error
}

// Error returns "<stage>: <cause>".
func (e SetupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying cause.
func (e SetupError) Unwrap() error { return e.Cause }

// NewSetupError wraps cause as a SetupError for the given stage.
//
// Parameters:
//   - stage: The startup step that failed, such as "open channel".
//   - cause: The underlying error.
//
// Returns:
//   - error: A SetupError, or nil when cause is nil.
func NewSetupError(stage string, cause error) error {
	if cause == nil {
		return nil
	}
	return SetupError{Stage: stage, Cause: cause}
}

// CalculationError carries the failure of a single Fibonacci computation
// together with the requested index.
type CalculationError struct {
	// N is the requested Fibonacci index.
	N int64
	// Cause is the underlying error that triggered this calculation error.
	Cause error
}

// Error returns a message naming the index and the cause.
func (e CalculationError) Error() string {
	return fmt.Sprintf("fibonacci %d: %v", e.N, e.Cause)
}

// Unwrap returns the original wrapped error, allowing for error chain
// inspection (e.g., errors.Is(err, fibonacci.ErrOverflow)).
//
// Returns:
//   - error: The underlying cause of the CalculationError.
func (e CalculationError) Unwrap() error { return e.Cause }

// ValidationError represents an input validation failure. It identifies which
// field failed validation and provides a human-readable explanation.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// WrapError wraps an error with additional context using fmt.Errorf and %w.
// The original error remains reachable through errors.Is and errors.As.
//
// Parameters:
//   - err: The error to wrap. A nil err yields nil.
//   - format: A format string describing the context.
//   - args: Arguments for the format string.
//
// Returns:
//   - error: The wrapped error, or nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExitCodeFor maps an error returned by a run to a process exit code.
// Context errors take precedence, so a canceled run exits with 130 even when
// cleanup also failed.
//
// Parameters:
//   - err: The error returned by the run, possibly nil or aggregated.
//
// Returns:
//   - int: One of the Exit* constants.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if IsContextError(err) {
		return ExitErrorCanceled
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return ExitErrorConfig
	}
	var setupErr SetupError
	if errors.As(err, &setupErr) {
		return ExitErrorSetup
	}
	return ExitErrorGeneric
}
