package transport

import "github.com/helium/libp2p-streams/pkg/frame"

// HandlerOpts carries arbitrary, handler-defined initialization options,
// passed to Init on the initial start and on every swap.
type HandlerOpts map[string]any

// Action is a declarative instruction returned by a handler callback and
// interpreted by the transport. The concrete types below are the complete
// set the transport understands; anything else is a programming error
// caught by a type switch default case (logged, never fatal).
type Action interface {
	isAction()
}

// Send enqueues data to the async sender. It is a no-op, with a logged
// warning, if no sender is installed (see Config.FailOnUnsentData).
type Send struct {
	Data []byte
}

// Swap replaces the running handler in place. The new handler's Init is
// invoked with the given opts; its own actions are chained immediately,
// before any subsequent action in the list that produced this Swap.
type Swap struct {
	Module Handler
	Opts   HandlerOpts
}

// SetPacketSpec installs a new framing header spec. If it differs from the
// current one, any buffered bytes are re-decoded under the new spec before
// the transport requests any further socket reads.
type SetPacketSpec struct {
	Spec frame.Spec
}

// SetActive updates the active/flow-control mode.
type SetActive struct {
	Mode Active
}

// Reply releases a caller parked behind a CallerToken (via Command) with
// val. It is the only way a noreply command result is ever resolved.
type Reply struct {
	Token CallerToken
	Value any
}

// Timer (re)arms a self-delivered {timeout, key} message after millis
// milliseconds, cancelling and replacing any timer already registered
// under key.
type Timer struct {
	Key    string
	Millis int
}

// CancelTimer cancels and removes the timer registered under Key, if any.
// It is idempotent.
type CancelTimer struct {
	Key string
}

// SendFunc performs one outbound write; async senders close over one of
// these.
type SendFunc func(data []byte) error

// SetSendFunc replaces the async sender. Any existing sender is stopped
// (without waiting for it to drain) and a fresh one spawned around fn.
type SetSendFunc struct {
	Fn SendFunc
}

// SwapKind toggles the transport's Kind between Client and Server.
type SwapKind struct{}

func (Send) isAction()          {}
func (Swap) isAction()          {}
func (SetPacketSpec) isAction() {}
func (SetActive) isAction()     {}
func (Reply) isAction()         {}
func (Timer) isAction()         {}
func (CancelTimer) isAction()   {}
func (SetSendFunc) isAction()   {}
func (SwapKind) isAction()      {}
