// Package transport implements the per-connection stream actor: a
// single-threaded cooperative state machine, one goroutine per instance,
// driven by a pluggable Handler and talking to a raw net.Conn, with a
// dedicated writer goroutine for outbound data and a small vocabulary of
// declarative actions a handler uses to drive the connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dlib/dtime"

	"github.com/helium/libp2p-streams/pkg/addr"
	"github.com/helium/libp2p-streams/pkg/frame"
	"github.com/helium/libp2p-streams/pkg/registry"
)

// ErrInvalidStartOpts is returned by Start when opts set neither or both of
// Socket and Addr.
var ErrInvalidStartOpts = errors.New("transport: opts must set exactly one of Socket or Addr")

// StreamError is delivered to a StreamErrorHandler when a dialer-path
// connect attempt fails before any Handler is ever installed.
type StreamError struct {
	Tag    string
	Reason *DialError
}

// StreamErrorHandler receives StreamError notices. The owner of a failed
// dial never otherwise learns about it: Start returns a live instance
// immediately and the dial happens in the background.
type StreamErrorHandler struct {
	Ch chan<- StreamError
}

// StartOpts configures a new transport instance. Exactly one of Socket
// (adopt/listener path) or Addr (dial path) must be set; either path works
// with either Kind.
type StartOpts struct {
	Kind        Kind
	Handler     Handler
	HandlerOpts HandlerOpts

	// Socket adopts an already-connected net.Conn (listener path).
	Socket net.Conn

	// Addr dials a /ip4/<dotted>/tcp/<port> multiaddr (dial path).
	Addr string

	// Tag and StreamHandler are only consulted on the dial path; Tag
	// identifies the attempt in the resulting StreamError.
	Tag           string
	StreamHandler *StreamErrorHandler

	// Config overrides the default tunables. Nil means DefaultConfig().
	Config *Config

	// Registry overrides the metadata registry. Nil means registry.Default().
	Registry *registry.Registry
}

// Transport is one running stream actor. All exported methods are safe to
// call from any goroutine; the instance's own state is only ever touched
// from its single actor goroutine.
type Transport struct {
	ID   registry.ID
	kind Kind

	mod      Handler
	modState any

	packetSpec frame.Spec
	specSet    bool
	active     Active
	buffer     []byte

	timers map[string]*time.Timer

	snd  *sender
	conn net.Conn
	cfg  Config
	reg  *registry.Registry

	cmdCh  chan cmdRequest
	infoCh chan any

	readReq     chan struct{}
	readRes     chan readResult
	readPending bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

type cmdRequest struct {
	cmd  any
	resp chan any
}

// commandUnsupported is the sentinel value sent back on resp when the
// current handler does not implement CommandHandler. It is distinguished
// from an ordinary reply value by type, so a handler that legitimately
// replies with an error value is never mistaken for this case.
type commandUnsupported struct {
	err error
}

type readResult struct {
	data []byte
	err  error
}

// timeoutMsg is what a fired Timer's time.AfterFunc callback actually
// delivers; it carries the *time.Timer that fired so the actor goroutine
// can tell, by pointer identity, whether it is still the timer on record
// for its key or a stale one superseded by a cancel/replace that raced
// with the fire.
type timeoutMsg struct {
	key   string
	timer *time.Timer
}

// Start creates a transport instance and begins running it in the
// background. It returns as soon as the instance exists: on the dial path,
// connect success or failure is learned asynchronously (via the instance
// itself, or via StreamHandler on failure), never by blocking Start.
func Start(ctx context.Context, opts StartOpts) (*Transport, error) {
	if opts.Handler == nil {
		return nil, ErrMissingHandler
	}
	if (opts.Socket == nil) == (opts.Addr == "") {
		return nil, ErrInvalidStartOpts
	}

	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.Default()
	}

	actorCtx, cancel := context.WithCancel(ctx)
	tr := &Transport{
		ID:      registry.NewID(),
		kind:    opts.Kind,
		mod:     opts.Handler,
		active:  ActiveFalse,
		timers:  make(map[string]*time.Timer),
		cfg:     cfg,
		reg:     reg,
		cmdCh:   make(chan cmdRequest),
		infoCh:  make(chan any, 8),
		readReq: make(chan struct{}, 1),
		readRes: make(chan readResult, 1),
		cancel:  cancel,
		doneCh:  make(chan struct{}),
	}

	if opts.Socket != nil {
		tr.conn = opts.Socket
		go tr.run(actorCtx, opts.HandlerOpts)
	} else {
		go tr.dialAndRun(actorCtx, opts.Addr, opts.HandlerOpts, opts.StreamHandler, opts.Tag)
	}
	return tr, nil
}

func (tr *Transport) dialAndRun(ctx context.Context, addrStr string, hopts HandlerOpts, sh *StreamErrorHandler, tag string) {
	a, err := addr.Parse(addrStr)
	if err != nil {
		tr.failDial(ctx, sh, tag, &DialError{Reason: "invalid_address", Err: err})
		return
	}

	dctx, dcancel := context.WithTimeout(ctx, tr.cfg.DialTimeout)
	defer dcancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp4", a.NetAddr().String())
	if err != nil {
		tr.failDial(ctx, sh, tag, classifyDialErr(err, dctx))
		return
	}

	tr.conn = conn
	tr.run(ctx, hopts)
}

func (tr *Transport) failDial(ctx context.Context, sh *StreamErrorHandler, tag string, reason *DialError) {
	tr.reg.Forget(tr.ID)
	close(tr.doneCh)
	tr.cancel()
	if sh == nil || sh.Ch == nil {
		return
	}
	select {
	case sh.Ch <- StreamError{Tag: tag, Reason: reason}:
	case <-ctx.Done():
	}
}

func classifyDialErr(err error, dctx context.Context) *DialError {
	if dctx.Err() == context.DeadlineExceeded {
		return &DialError{Reason: "timeout", Err: err}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &DialError{Reason: "econnrefused", Err: err}
	}
	return &DialError{Reason: "error", Err: err}
}

// run is the actor's message loop. It owns every field on tr from here on.
func (tr *Transport) run(ctx context.Context, hopts HandlerOpts) {
	tr.reg.SetAddrInfo(tr.ID, registry.AddrInfo{
		Local: addr.FromNetAddr(tr.conn.LocalAddr()),
		Peer:  addr.FromNetAddr(tr.conn.RemoteAddr()),
	})
	tr.reg.AppendStack(tr.ID, tr.mod.Name(), tr.kind.String())

	tr.snd = newSender(ctx, tr.conn.Write, tr.cfg.SendQueueSize, tr.infoCh)
	go tr.readPump(ctx)

	var stop bool
	var reason error

	initResult := tr.mod.Init(ctx, tr.kind, hopts)
	tr.modState = initResult.State
	if s, r := tr.applyActions(ctx, initResult.Actions); s {
		stop, reason = true, r
	} else if initResult.Stop {
		stop, reason = true, initResult.Reason
	} else {
		stop, reason = tr.drainBuffer(ctx)
	}

	for !stop {
		select {
		case <-ctx.Done():
			stop, reason = true, ctx.Err()
		case res := <-tr.readRes:
			tr.readPending = false
			if res.err != nil {
				stop, reason = true, res.err
			} else {
				tr.buffer = append(tr.buffer, res.data...)
				stop, reason = tr.drainBuffer(ctx)
			}
		case msg := <-tr.infoCh:
			stop, reason = tr.deliverInfo(ctx, msg)
		case req := <-tr.cmdCh:
			stop, reason = tr.deliverCommand(ctx, req)
		}
	}

	tr.shutdown(ctx, reason)
}

// drainBuffer decodes as many complete frames as the buffer currently
// holds, dispatching each to HandlePacket, and requests a further socket
// read once the buffer is exhausted but active still calls for one. It is
// re-entered after every event that can change packetSpec or active
// (a decoded packet's own actions, an info message, a command reply), so a
// changed spec is always replayed against already-buffered bytes before any
// new bytes are pulled off the socket.
func (tr *Transport) drainBuffer(ctx context.Context) (bool, error) {
	for {
		if !tr.specSet || tr.active == ActiveFalse {
			return false, nil
		}
		if len(tr.buffer) == 0 {
			if tr.active == ActiveTrue || tr.active == ActiveOnce {
				tr.requestRead()
			}
			return false, nil
		}

		res, ok, _, err := frame.Decode(tr.packetSpec, tr.buffer)
		if err != nil {
			return true, fmt.Errorf("transport: frame decode: %w", err)
		}
		if !ok {
			tr.requestRead()
			return false, nil
		}

		tr.buffer = res.Tail
		if tr.active == ActiveOnce {
			tr.active = ActiveFalse
		}

		result := tr.mod.HandlePacket(ctx, tr.kind, res.Header, res.Payload, tr.modState)
		tr.modState = result.State

		stopActs, reasonActs := tr.applyActions(ctx, result.Actions)
		if stopActs {
			return true, reasonActs
		}
		if result.Stop {
			return true, result.Reason
		}
	}
}

func (tr *Transport) deliverInfo(ctx context.Context, msg any) (bool, error) {
	if tm, ok := msg.(timeoutMsg); ok {
		cur, present := tr.timers[tm.key]
		if !present || cur != tm.timer {
			return false, nil
		}
		delete(tr.timers, tm.key)
		msg = Timeout{Key: tm.key}
	}

	ih, ok := tr.mod.(InfoHandler)
	if !ok {
		dlog.Warnf(ctx, "%s: unsolicited info %T dropped, %s has no HandleInfo", tr.ID, msg, tr.mod.Name())
		return false, nil
	}

	result := ih.HandleInfo(ctx, tr.kind, msg, tr.modState)
	tr.modState = result.State

	stopActs, reasonActs := tr.applyActions(ctx, result.Actions)
	if stopActs {
		return true, reasonActs
	}
	if result.Stop {
		return true, result.Reason
	}
	return tr.drainBuffer(ctx)
}

func (tr *Transport) deliverCommand(ctx context.Context, req cmdRequest) (bool, error) {
	ch, ok := tr.mod.(CommandHandler)
	if !ok {
		select {
		case req.resp <- commandUnsupported{err: fmt.Errorf("transport: %s does not support commands", tr.mod.Name())}:
		default:
		}
		return false, nil
	}

	token := CallerToken{ch: req.resp}
	result := ch.HandleCommand(ctx, tr.kind, req.cmd, token, tr.modState)
	tr.modState = result.State

	stopActs, reasonActs := tr.applyActions(ctx, result.Actions)
	if result.Replied {
		select {
		case token.ch <- result.Value:
		default:
		}
	}
	if stopActs {
		return true, reasonActs
	}
	if result.Stop {
		return true, result.Reason
	}
	return tr.drainBuffer(ctx)
}

func (tr *Transport) applyActions(ctx context.Context, actions []Action) (bool, error) {
	for _, a := range actions {
		switch act := a.(type) {
		case Send:
			if tr.snd == nil {
				if tr.cfg.FailOnUnsentData {
					return true, ErrNoSender
				}
				dlog.Warnf(ctx, "%s: send action dropped, no sender installed", tr.ID)
				continue
			}
			tr.snd.enqueue(act.Data)

		case SetPacketSpec:
			if tr.specSet && tr.packetSpec.Equal(act.Spec) {
				continue
			}
			tr.packetSpec = act.Spec
			tr.specSet = true

		case SetActive:
			tr.active = act.Mode

		case Reply:
			if act.Token.ch != nil {
				select {
				case act.Token.ch <- act.Value:
				default:
				}
			}

		case Timer:
			tr.setTimer(ctx, act.Key, act.Millis)

		case CancelTimer:
			tr.cancelTimer(act.Key)

		case SetSendFunc:
			if tr.snd != nil {
				tr.snd.stop()
			}
			tr.snd = newSender(ctx, act.Fn, tr.cfg.SendQueueSize, tr.infoCh)

		case Swap:
			tr.reg.AppendStack(tr.ID, act.Module.Name(), tr.kind.String())
			tr.mod = act.Module
			initResult := act.Module.Init(ctx, tr.kind, act.Opts)
			tr.modState = initResult.State
			if stop, reason := tr.applyActions(ctx, initResult.Actions); stop {
				return true, reason
			}
			if initResult.Stop {
				return true, initResult.Reason
			}

		case SwapKind:
			tr.kind = tr.kind.Other()
			tr.reg.RelabelKind(tr.ID, tr.kind.String())

		default:
			dlog.Warnf(ctx, "%s: unrecognized action %T ignored", tr.ID, a)
		}
	}
	return false, nil
}

func (tr *Transport) setTimer(ctx context.Context, key string, millis int) {
	if old, ok := tr.timers[key]; ok {
		old.Stop()
		delete(tr.timers, key)
	}
	var t *time.Timer
	t = time.AfterFunc(time.Duration(millis)*time.Millisecond, func() {
		select {
		case tr.infoCh <- timeoutMsg{key: key, timer: t}:
		case <-ctx.Done():
		}
	})
	tr.timers[key] = t
}

func (tr *Transport) cancelTimer(key string) {
	if t, ok := tr.timers[key]; ok {
		t.Stop()
		delete(tr.timers, key)
	}
}

func (tr *Transport) requestRead() {
	if tr.readPending {
		return
	}
	tr.readPending = true
	select {
	case tr.readReq <- struct{}{}:
	default:
	}
}

// readPump pulls bytes off the socket only when asked, implementing the
// pull-based flow-control gate: it blocks on readReq between requests so a
// quiescent (active=false) transport never issues a read at all.
func (tr *Transport) readPump(ctx context.Context) {
	buf := make([]byte, tr.cfg.ReadBufferSize)
	for {
		select {
		case <-tr.readReq:
		case <-ctx.Done():
			return
		}

		n, err := tr.conn.Read(buf)
		var res readResult
		if err != nil {
			res = readResult{err: err}
		} else {
			data := make([]byte, n)
			copy(data, buf[:n])
			res = readResult{data: data}
		}

		select {
		case tr.readRes <- res:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (tr *Transport) shutdown(ctx context.Context, reason error) {
	if tr.snd != nil {
		stopped := tr.snd.stop()
		graceElapsed := make(chan struct{})
		go func() {
			dtime.SleepWithContext(ctx, tr.cfg.StopGrace)
			close(graceElapsed)
		}()
		select {
		case <-stopped:
		case <-graceElapsed:
			dlog.Warnf(ctx, "%s: sender did not drain within %s, closing anyway", tr.ID, tr.cfg.StopGrace)
		}
	}

	if term, ok := tr.mod.(Terminator); ok {
		term.Terminate(ctx, tr.kind, reason, tr.modState)
	}

	if tr.conn != nil {
		_ = tr.conn.Close()
	}

	tr.cancel()
	tr.reg.Forget(tr.ID)
	close(tr.doneCh)
}

// Command issues a synchronous call to the running handler and waits for
// its reply. Per the handler contract, a command may be answered
// immediately or parked indefinitely behind a Reply action issued later;
// Command itself imposes no deadline of its own — pass a context with a
// deadline to bound the wait.
func Command(ctx context.Context, tr *Transport, cmd any) (any, error) {
	resp := make(chan any, 1)
	select {
	case tr.cmdCh <- cmdRequest{cmd: cmd, resp: resp}:
	case <-tr.doneCh:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case v := <-resp:
		if u, ok := v.(commandUnsupported); ok {
			return nil, u.err
		}
		return v, nil
	case <-tr.doneCh:
		return nil, ErrTerminated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddrInfo returns the instance's recorded local/peer address pair.
func (tr *Transport) AddrInfo() (registry.AddrInfo, error) {
	select {
	case <-tr.doneCh:
		return registry.AddrInfo{}, ErrClosed
	default:
	}
	return tr.reg.AddrInfo(tr.ID), nil
}

// Kill terminates the instance unconditionally, as if its context had been
// cancelled. It does not wait for shutdown to finish; use Done for that.
func (tr *Transport) Kill() {
	tr.cancel()
}

// Done reports when the instance has fully shut down: socket closed,
// Terminate hook run, registry entry forgotten.
func (tr *Transport) Done() <-chan struct{} {
	return tr.doneCh
}
