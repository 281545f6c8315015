package transport

import "context"

// CallerToken is an opaque handle releasing a caller parked by Command. A
// zero CallerToken is invalid; tokens are only produced by the transport
// when it invokes HandleCommand.
type CallerToken struct {
	ch chan any
}

// Result is the uniform return value of Init, HandlePacket, and HandleInfo.
// Use the Noreply/StopResult constructors rather than building one by hand.
type Result struct {
	Stop    bool
	Reason  error
	State   any
	Actions []Action
}

// Noreply builds a non-terminal Result.
func Noreply(state any, actions ...Action) Result {
	return Result{State: state, Actions: actions}
}

// StopResult builds a terminal Result. reason nil means a normal stop.
func StopResult(reason error, state any, actions ...Action) Result {
	return Result{Stop: true, Reason: reason, State: state, Actions: actions}
}

// CommandResult is HandleCommand's return value: everything Result offers,
// plus the option to reply to the caller synchronously.
type CommandResult struct {
	Result
	Replied bool
	Value   any
}

// ReplyNow builds a CommandResult that answers the caller immediately.
func ReplyNow(value any, state any, actions ...Action) CommandResult {
	return CommandResult{Result: Result{State: state, Actions: actions}, Replied: true, Value: value}
}

// NoreplyCommand parks the caller; it is released later by a Reply action
// carrying the CallerToken HandleCommand was given.
func NoreplyCommand(state any, actions ...Action) CommandResult {
	return CommandResult{Result: Result{State: state, Actions: actions}}
}

// StopCommand builds a terminal CommandResult.
func StopCommand(reason error, state any, actions ...Action) CommandResult {
	return CommandResult{Result: Result{Stop: true, Reason: reason, State: state, Actions: actions}}
}

// Handler is the pluggable upper-layer protocol module the transport
// drives. Init and HandlePacket are mandatory; HandleInfo, HandleCommand,
// and Terminate are detected via optional interfaces below and treated as
// identities when absent (warn-and-drop for info, ok-no-op for terminate,
// "commands unsupported" for HandleCommand).
type Handler interface {
	// Name identifies the handler for metadata/introspection (the
	// module_id recorded in the protocol stack).
	Name() string

	// Init is called once when the handler is installed, whether at
	// transport start or as the target of a Swap.
	Init(ctx context.Context, kind Kind, opts HandlerOpts) Result

	// HandlePacket is called once per decoded frame.
	HandlePacket(ctx context.Context, kind Kind, header []uint64, payload []byte, state any) Result
}

// InfoHandler is implemented by handlers that want delivery of
// out-of-band messages: timer expiries and transport-level notices (e.g.
// async-sender errors).
type InfoHandler interface {
	HandleInfo(ctx context.Context, kind Kind, message any, state any) Result
}

// CommandHandler is implemented by handlers that answer synchronous
// Command calls.
type CommandHandler interface {
	HandleCommand(ctx context.Context, kind Kind, cmd any, token CallerToken, state any) CommandResult
}

// Terminator is implemented by handlers that need a hook on shutdown,
// after the stop reason is known and any final actions have been applied,
// but before the socket is closed.
type Terminator interface {
	Terminate(ctx context.Context, kind Kind, reason error, state any)
}

// Timeout is the message HandleInfo receives when a Timer fires and has
// not been cancelled or replaced in the interim.
type Timeout struct {
	Key string
}

// SendError is the message HandleInfo receives when the async sender's
// SendFunc reports a non-fatal write error.
type SendError struct {
	Err error
}
