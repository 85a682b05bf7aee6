package errors

import "github.com/pkg/errors"

// value to be used with errors.Is() to determine if an error chain contains a configuration error
var ConfigError error = errors.New("Config Error")

// value to be used with errors.Is() to determine if an error chain contains a request error
var RequestError error = errors.New("Request Error")

// value to be used with errors.Is() to determine if an error chain contains a protocol error
var ProtocolError error = errors.New("Protocol Error")

// value to be used with errors.Is() to determine if an error chain contains a session failure
var SessionFailure error = errors.New("Session Failure")

// value to be used with errors.Is() to determine if an error chain contains a channel error
var ChannelError error = errors.New("Channel Error")

// value to be used with errors.Is() to determine if an error chain contains an execution error
var ExecutionError error = errors.New("Execution Error")

// value to be used with errors.Is() to determine if an error chain contains a caller-initiated abort
var OperationAborted error = errors.New("Operation Aborted")

// Base interface for client errors
type WherobotsError interface {
	// Descriptive message describing the error
	Error() string

	// Stack trace associated with the error.  May be nil.
	StackTrace() errors.StackTrace

	// Underlying causative error. May be nil.
	Cause() error
}

// An error that is caused by an invalid request.
// Example: permission denied, or a transient transport failure that exhausted its retry budget.
type WBRequestError interface {
	WherobotsError

	IsRetryable() bool
}

// Any error that occurs after the SQL statement has been accepted (e.g. SQL syntax error).
type WBExecutionError interface {
	WherobotsError

	// Correlation id of the operation the error belongs to.
	// Appears in log messages as field executionId.
	ExecutionId() string
}
