package transport

import "errors"

// Exit/termination reasons a handler-agnostic caller can match on with
// errors.Is. A nil reason (as recorded in Result.Reason / CommandResult)
// always means "normal".
var (
	// ErrMissingHandler is a configuration error: Start was called
	// without a Handler.
	ErrMissingHandler = errors.New("transport: opts must include a handler")

	// ErrNoSender is the reason recorded when FailOnUnsentData is set
	// and a Send action is applied with no sender installed.
	ErrNoSender = errors.New("transport: send action with no sender installed")

	// ErrSenderCrashed names an abnormal exit of the async sender. The
	// sender in this package does not detect or report such an exit, so
	// no code path in this package returns this value.
	ErrSenderCrashed = errors.New("transport: async sender crashed")

	// ErrTerminated is returned by Command when the instance terminates
	// before the call is answered.
	ErrTerminated = errors.New("transport: instance terminated before command was answered")

	// ErrClosed is returned by AddrInfo after termination.
	ErrClosed = errors.New("transport: closed")
)

// DialError classifies a failed dialer-path connect attempt, surfaced to
// the caller-supplied stream handler as {stream_error, tag, {error, reason}}.
type DialError struct {
	// Reason is one of the recognized tags: "invalid_address",
	// "econnrefused", "timeout", or "error" for anything else.
	Reason string
	Err    error
}

func (e *DialError) Error() string {
	return e.Reason + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error {
	return e.Err
}
