package multistream_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/helium/libp2p-streams/pkg/line"
	"github.com/helium/libp2p-streams/pkg/multistream"
	"github.com/helium/libp2p-streams/pkg/registry"
	"github.com/helium/libp2p-streams/pkg/transport"
)

// stubHandler is a minimal transport.Handler used as a negotiation target:
// it records the opts it was Init'd with and otherwise does nothing.
type stubHandler struct {
	name   string
	initCh chan transport.HandlerOpts
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) Init(_ context.Context, _ transport.Kind, opts transport.HandlerOpts) transport.Result {
	if s.initCh != nil {
		select {
		case s.initCh <- opts:
		default:
		}
	}
	return transport.Noreply(nil)
}

func (s *stubHandler) HandlePacket(_ context.Context, _ transport.Kind, _ []uint64, _ []byte, state any) transport.Result {
	return transport.Noreply(state)
}

// rawPeer simulates the far end of the wire directly in terms of the line
// codec, bypassing the transport package entirely -- standing in for a
// peer implementation this module doesn't own.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func (p *rawPeer) fill() {
	p.t.Helper()
	tmp := make([]byte, 4096)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := p.conn.Read(tmp)
	require.NoError(p.t, err)
	p.buf = append(p.buf, tmp[:n]...)
}

func (p *rawPeer) readLine() string {
	p.t.Helper()
	for {
		ln, tail, ok, _, err := line.DecodeLine(p.buf)
		require.NoError(p.t, err)
		if ok {
			p.buf = tail
			return string(ln)
		}
		p.fill()
	}
}

func (p *rawPeer) readLines() []string {
	p.t.Helper()
	for {
		lines, tail, ok, _, err := line.DecodeLines(p.buf)
		require.NoError(p.t, err)
		if ok {
			p.buf = tail
			out := make([]string, len(lines))
			for i, l := range lines {
				out[i] = string(l)
			}
			return out
		}
		p.fill()
	}
}

func (p *rawPeer) writeLine(s string) {
	p.t.Helper()
	enc, err := line.EncodeLine([]byte(s))
	require.NoError(p.t, err)
	_, err = p.conn.Write(enc)
	require.NoError(p.t, err)
}

func testCtx(t *testing.T) context.Context {
	return dlog.NewTestContext(t, false)
}

func pipe(t *testing.T) (a, b net.Conn) {
	t.Helper()
	c1, c2, stop, err := nettest.Pipe()
	require.NoError(t, err)
	t.Cleanup(stop)
	return c1, c2
}

// A client that completes the handshake and selects a prefix the server
// recognizes gets swapped to that protocol's handler, and the "path" opt
// carries whatever followed the matched prefix.
func TestNegotiatePrefixMatch(t *testing.T) {
	ctx := testCtx(t)
	local, remote := pipe(t)
	reg := registry.New()

	echoInit := make(chan transport.HandlerOpts, 1)
	cfg := multistream.DefaultConfig(
		multistream.ProtocolHandler{Prefix: "/foo/1.0.0", Module: &stubHandler{name: "foo"}},
		multistream.ProtocolHandler{Prefix: "/echo/1.0.0", Module: &stubHandler{name: "echo", initCh: echoInit}},
	)

	tr, err := transport.Start(ctx, transport.StartOpts{
		Kind:     transport.Server,
		Handler:  multistream.New(cfg),
		Socket:   local,
		Registry: reg,
	})
	require.NoError(t, err)

	peer := &rawPeer{t: t, conn: remote}

	assert.Equal(t, multistream.ProtocolID, peer.readLine())
	peer.writeLine(multistream.ProtocolID)

	peer.writeLine("/echo/1.0.0/session-42")

	echoed := peer.readLine()
	assert.Equal(t, "/echo/1.0.0/session-42", echoed)

	select {
	case opts := <-echoInit:
		assert.Equal(t, "/session-42", opts["path"])
	case <-time.After(2 * time.Second):
		t.Fatal("echo handler was never installed")
	}

	require.Eventually(t, func() bool {
		return len(reg.Stack(tr.ID)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	stack := reg.Stack(tr.ID)
	assert.Equal(t, "multistream", stack[0].ModuleID)
	assert.Equal(t, "echo", stack[1].ModuleID)
}

// "ls" lists every configured prefix and leaves the FSM ready to
// negotiate a match on the next line.
func TestLsThenMatch(t *testing.T) {
	ctx := testCtx(t)
	local, remote := pipe(t)

	cfg := multistream.DefaultConfig(
		multistream.ProtocolHandler{Prefix: "/foo/1.0.0", Module: &stubHandler{name: "foo"}},
		multistream.ProtocolHandler{Prefix: "/echo/1.0.0", Module: &stubHandler{name: "echo"}},
	)

	_, err := transport.Start(ctx, transport.StartOpts{
		Kind:    transport.Server,
		Handler: multistream.New(cfg),
		Socket:  local,
	})
	require.NoError(t, err)

	peer := &rawPeer{t: t, conn: remote}
	assert.Equal(t, multistream.ProtocolID, peer.readLine())
	peer.writeLine(multistream.ProtocolID)

	peer.writeLine("ls")
	assert.ElementsMatch(t, []string{"/foo/1.0.0", "/echo/1.0.0"}, peer.readLines())

	peer.writeLine("/foo/1.0.0")
	assert.Equal(t, "/foo/1.0.0", peer.readLine())
}

// An unmatched prefix gets "na" and the FSM stays negotiable.
func TestNegotiateNoMatchRepliesNa(t *testing.T) {
	ctx := testCtx(t)
	local, remote := pipe(t)

	cfg := multistream.DefaultConfig(
		multistream.ProtocolHandler{Prefix: "/foo/1.0.0", Module: &stubHandler{name: "foo"}},
	)

	_, err := transport.Start(ctx, transport.StartOpts{
		Kind:    transport.Server,
		Handler: multistream.New(cfg),
		Socket:  local,
	})
	require.NoError(t, err)

	peer := &rawPeer{t: t, conn: remote}
	assert.Equal(t, multistream.ProtocolID, peer.readLine())
	peer.writeLine(multistream.ProtocolID)

	peer.writeLine("/bar/1.0.0")
	assert.Equal(t, "na", peer.readLine())

	peer.writeLine("/foo/1.0.0")
	assert.Equal(t, "/foo/1.0.0", peer.readLine())
}

// On the client side, an "na" for the only configured handler exhausts the
// list and the FSM stops normally.
func TestClientExhaustsHandlersOnNa(t *testing.T) {
	ctx := testCtx(t)
	local, remote := pipe(t)

	cfg := multistream.DefaultConfig(
		multistream.ProtocolHandler{Prefix: "/only/1.0.0", Module: &stubHandler{name: "only"}},
	)

	tr, err := transport.Start(ctx, transport.StartOpts{
		Kind:    transport.Client,
		Handler: multistream.New(cfg),
		Socket:  local,
	})
	require.NoError(t, err)

	peer := &rawPeer{t: t, conn: remote}
	assert.Equal(t, multistream.ProtocolID, peer.readLine())
	peer.writeLine(multistream.ProtocolID)

	assert.Equal(t, "/only/1.0.0", peer.readLine())
	peer.writeLine("na")

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop after exhausting handlers")
	}
}
