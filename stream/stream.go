// Package stream is the module's public facade: typed entry points over
// pkg/transport, with no behavior beyond argument validation and
// delegation. Most callers should only ever import this package; the
// pieces under pkg/ are composable on their own for callers who need more
// control (a custom registry, direct access to the multistream FSM, etc).
package stream

import (
	"context"
	"net"

	"github.com/helium/libp2p-streams/pkg/registry"
	"github.com/helium/libp2p-streams/pkg/transport"
)

// Opts configures one stream instance. Exactly one of Socket or Addr must
// be set, matching pkg/transport.StartOpts.
type Opts struct {
	Handler     transport.Handler
	HandlerOpts transport.HandlerOpts

	// Socket adopts an already-connected net.Conn (listener path).
	Socket net.Conn

	// Addr dials a /ip4/<dotted>/tcp/<port> multiaddr (dialer path).
	Addr string

	// Tag and StreamHandler are only consulted on the dialer path.
	Tag           string
	StreamHandler *transport.StreamErrorHandler

	Config   *transport.Config
	Registry *registry.Registry
}

// Stream is one running stream instance.
type Stream struct {
	tr *transport.Transport
}

// StartClient starts a client-role instance: a dialer (Addr set) or a
// client handshake over an adopted socket (Socket set).
func StartClient(ctx context.Context, opts Opts) (*Stream, error) {
	return start(ctx, transport.Client, opts)
}

// StartServer starts a server-role instance, normally over an adopted
// socket (the listener accept loop is out of this module's scope; the
// caller owns accepting connections and hands each one in via Socket).
// Addr is passed through like in StartClient, so a server-role instance
// set up with Addr dials instead.
func StartServer(ctx context.Context, opts Opts) (*Stream, error) {
	return start(ctx, transport.Server, opts)
}

func start(ctx context.Context, kind transport.Kind, opts Opts) (*Stream, error) {
	tr, err := transport.Start(ctx, transport.StartOpts{
		Kind:          kind,
		Handler:       opts.Handler,
		HandlerOpts:   opts.HandlerOpts,
		Socket:        opts.Socket,
		Addr:          opts.Addr,
		Tag:           opts.Tag,
		StreamHandler: opts.StreamHandler,
		Config:        opts.Config,
		Registry:      opts.Registry,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{tr: tr}, nil
}

// Command issues a synchronous call into the running handler. See
// transport.Command for the reply/timeout contract.
func Command(ctx context.Context, s *Stream, cmd any) (any, error) {
	return transport.Command(ctx, s.tr, cmd)
}

// AddrInfo returns the instance's local/peer address pair.
func (s *Stream) AddrInfo() (registry.AddrInfo, error) {
	return s.tr.AddrInfo()
}

// Done reports when the instance has fully shut down.
func (s *Stream) Done() <-chan struct{} {
	return s.tr.Done()
}

// Kill terminates the instance unconditionally.
func (s *Stream) Kill() {
	s.tr.Kill()
}
