package errors

import (
	"fmt"

	"github.com/pkg/errors"
	wberr "github.com/wherobots/wherobots-sql-go/errors"
)

// Error messages
const (
	// Configuration error messages
	ErrMissingAPIKey          = "missing api key: pass WithAPIKey or set WHEROBOTS_API_KEY"
	ErrInvalidRuntime         = "invalid runtime"
	ErrInvalidRegion          = "invalid region"
	ErrInvalidResultsFormat   = "invalid results format"
	ErrInvalidDataCompression = "invalid data compression"
	ErrInvalidGeometry        = "invalid geometry representation"
	ErrInvalidProtocolVersion = "invalid protocol version"

	// Request error messages (connection, authentication, network error)
	ErrSessionCreate = "failed to create SQL session"
	ErrSessionPoll   = "failed to fetch SQL session status"
	ErrChannelDial   = "failed to open session channel"

	// System state error messages
	ErrConnectionClosed = "connection is closed"
	ErrChannelClosed    = "channel is closed"
)

type wherobotsError struct {
	err     error
	errType string
}

var _ error = (*wherobotsError)(nil)

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newWherobotsError(msg string, err error) wherobotsError {
	// create an error with the new message
	if err == nil {
		err = errors.New(msg)
	} else {
		err = errors.WithMessage(err, msg)
	}

	// if the source error does not have a stack trace in its
	// error chain add a stack trace
	var st stackTracer
	if ok := errors.As(err, &st); !ok {
		err = errors.WithStack(err)
	}

	return wherobotsError{
		err:     err,
		errType: "unknown",
	}
}

func (e wherobotsError) Error() string {
	return fmt.Sprintf("wherobots: %s: %s", e.errType, e.err.Error())
}

func (e wherobotsError) Cause() error {
	return e.err
}

func (e wherobotsError) Unwrap() error {
	return e.err
}

func (e wherobotsError) StackTrace() errors.StackTrace {
	var st stackTracer
	if ok := errors.As(e.err, &st); ok {
		return st.StackTrace()
	}

	return nil
}

// configError covers invalid or incomplete options, surfaced before any network call
type configError struct {
	wherobotsError
}

var _ wberr.WherobotsError = (*configError)(nil)

func (e configError) Is(err error) bool {
	return err == wberr.ConfigError
}

func NewConfigError(msg string, err error) *configError {
	wbErr := newWherobotsError(msg, err)
	wbErr.errType = "config error"
	return &configError{wherobotsError: wbErr}
}

// requestError covers transport-level failures of the provisioning calls,
// e.g. permission denied, gateway errors, timeouts
type requestError struct {
	wherobotsError
	isRetryable bool
}

var _ wberr.WBRequestError = (*requestError)(nil)

func (e requestError) Is(err error) bool {
	return err == wberr.RequestError
}

func (e requestError) IsRetryable() bool {
	return e.isRetryable
}

func NewRequestError(msg string, err error, retryable bool) *requestError {
	wbErr := newWherobotsError(msg, err)
	wbErr.errType = "request error"
	return &requestError{wherobotsError: wbErr, isRetryable: retryable}
}

// protocolError signals a client/server mismatch, e.g. a response that does not
// match the expected schema. Never retried.
type protocolError struct {
	wherobotsError
}

var _ wberr.WherobotsError = (*protocolError)(nil)

func (e protocolError) Is(err error) bool {
	return err == wberr.ProtocolError
}

func NewProtocolError(msg string, err error) *protocolError {
	wbErr := newWherobotsError(msg, err)
	wbErr.errType = "protocol error"
	return &protocolError{wherobotsError: wbErr}
}

// sessionFailure is reported when the server moves a session to a terminal failure status
type sessionFailure struct {
	wherobotsError
	sessionId string
	status    string
}

var _ wberr.WherobotsError = (*sessionFailure)(nil)

func (e sessionFailure) Is(err error) bool {
	return err == wberr.SessionFailure
}

func (e sessionFailure) SessionId() string {
	return e.sessionId
}

func (e sessionFailure) Status() string {
	return e.status
}

func NewSessionFailure(sessionId, status, msg string) *sessionFailure {
	wbErr := newWherobotsError(msg, nil)
	wbErr.errType = "session failure"
	return &sessionFailure{wherobotsError: wbErr, sessionId: sessionId, status: status}
}

// channelError is fatal to the whole connection: the underlying duplex channel
// reported an error or closed unexpectedly
type channelError struct {
	wherobotsError
}

var _ wberr.WherobotsError = (*channelError)(nil)

func (e channelError) Is(err error) bool {
	return err == wberr.ChannelError
}

func NewChannelError(msg string, err error) *channelError {
	wbErr := newWherobotsError(msg, err)
	wbErr.errType = "channel error"
	return &channelError{wherobotsError: wbErr}
}

// executionError rejects a single operation, leaving concurrent operations and
// the channel itself untouched
type executionError struct {
	wherobotsError
	executionId string
}

var _ wberr.WBExecutionError = (*executionError)(nil)

func (e executionError) Is(err error) bool {
	return err == wberr.ExecutionError
}

func (e executionError) ExecutionId() string {
	return e.executionId
}

func NewExecutionError(executionId, msg string) *executionError {
	wbErr := newWherobotsError(msg, nil)
	wbErr.errType = "execution error"
	return &executionError{wherobotsError: wbErr, executionId: executionId}
}

// abortedError classifies deliberate caller cancellation, not a system failure
type abortedError struct {
	wherobotsError
}

var _ wberr.WherobotsError = (*abortedError)(nil)

func (e abortedError) Is(err error) bool {
	return err == wberr.OperationAborted
}

func NewAbortedError(msg string, err error) *abortedError {
	wbErr := newWherobotsError(msg, err)
	wbErr.errType = "aborted"
	return &abortedError{wherobotsError: wbErr}
}

// IsRetryable reports whether an error chain carries a retryable classification.
func IsRetryable(err error) bool {
	var re wberr.WBRequestError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return false
}

// wraps an error and adds trace if not already present
func WrapErr(err error, msg string) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		// wrap passed in error in a new error with the message
		return errors.WithMessage(err, msg)
	}

	// wrap passed in error in errors with the message and a stack trace
	return errors.Wrap(err, msg)
}

// adds a stack trace if not already present
func WrapErrf(err error, format string, args ...interface{}) error {
	var st stackTracer
	if ok := errors.As(err, &st); ok {
		// wrap passed in error in a new error with the formatted message
		return errors.WithMessagef(err, format, args...)
	}

	// wrap passed in error in errors with the formatted message and a stack trace
	return errors.Wrapf(err, format, args...)
}
