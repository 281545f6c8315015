// Package multistream implements the /multistream/1.0.0 protocol
// negotiator as a transport.Handler: a two-state FSM (handshake,
// negotiate) that exchanges newline-terminated protocol identifiers over
// an already-connected stream and, on a match, hands the connection off
// to the negotiated handler via a Swap action.
//
// It runs entirely inside the owning transport's single goroutine, so its
// state (fsmState) needs no synchronization of its own.
package multistream

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/helium/libp2p-streams/pkg/frame"
	"github.com/helium/libp2p-streams/pkg/line"
	"github.com/helium/libp2p-streams/pkg/transport"
)

// ProtocolID is the multistream handshake line both sides must exchange
// before negotiation begins.
const ProtocolID = "/multistream/1.0.0"

const (
	handshakeTimerKey = "handshake_timeout"
	negotiateTimerKey = "negotiate_timeout"
)

// ErrMissingHandlers is the Init failure when no protocol handlers were
// configured; negotiation has nothing to offer or accept.
var ErrMissingHandlers = errors.New("multistream: at least one handler must be configured")

// ProtocolHandler pairs a protocol identifier (its prefix on the wire)
// with the transport.Handler to Swap in when it is selected, and the opts
// to Init it with.
type ProtocolHandler struct {
	Prefix string
	Module transport.Handler
	Opts   transport.HandlerOpts
}

// Config configures one FSM instance.
type Config struct {
	Handlers []ProtocolHandler

	// HandshakeJitterMin/Max bound the client-side handshake_timeout,
	// randomized uniformly within [Min, Max]. Reference values: 15s-35s.
	HandshakeJitterMin time.Duration
	HandshakeJitterMax time.Duration

	// NegotiateTimeout bounds the whole exchange from the server's side,
	// armed at Init and cancelled only on a successful match. Reference
	// value: 30s.
	NegotiateTimeout time.Duration
}

// DefaultConfig returns the reference timeout values named in the spec.
func DefaultConfig(handlers ...ProtocolHandler) Config {
	return Config{
		Handlers:           handlers,
		HandshakeJitterMin: 15 * time.Second,
		HandshakeJitterMax: 35 * time.Second,
		NegotiateTimeout:   30 * time.Second,
	}
}

type phase int

const (
	phaseHandshake phase = iota
	phaseNegotiate
)

type fsmState struct {
	phase    phase
	selected int // client only: index into cfg.Handlers currently offered
}

// FSM is the multistream negotiator, installed as a transport.Handler.
type FSM struct {
	cfg Config
}

// New builds an FSM around cfg.
func New(cfg Config) *FSM {
	return &FSM{cfg: cfg}
}

func (f *FSM) Name() string { return "multistream" }

func (f *FSM) Init(_ context.Context, kind transport.Kind, _ transport.HandlerOpts) transport.Result {
	if len(f.cfg.Handlers) == 0 {
		return transport.StopResult(ErrMissingHandlers, nil)
	}

	st := &fsmState{phase: phaseHandshake, selected: -1}

	hello, err := line.EncodeLine([]byte(ProtocolID))
	if err != nil {
		return transport.StopResult(fmt.Errorf("multistream: encoding handshake line: %w", err), st)
	}

	actions := []transport.Action{
		transport.SetPacketSpec{Spec: frame.Spec{frame.Varint}},
		transport.SetActive{Mode: transport.ActiveOnce},
		transport.Send{Data: hello},
	}
	if kind == transport.Client {
		actions = append(actions, transport.Timer{
			Key:    handshakeTimerKey,
			Millis: jitterMillis(f.cfg.HandshakeJitterMin, f.cfg.HandshakeJitterMax),
		})
	} else {
		actions = append(actions, transport.Timer{
			Key:    negotiateTimerKey,
			Millis: int(f.cfg.NegotiateTimeout.Milliseconds()),
		})
	}
	return transport.Noreply(st, actions...)
}

func (f *FSM) HandlePacket(_ context.Context, kind transport.Kind, _ []uint64, payload []byte, state any) transport.Result {
	st := state.(*fsmState)

	content, err := decodeBareLine(payload)
	if err != nil {
		return transport.StopResult(err, st)
	}

	if st.phase == phaseHandshake {
		return f.onHandshake(kind, content, st)
	}
	return f.onNegotiate(kind, content, st)
}

func (f *FSM) HandleInfo(_ context.Context, _ transport.Kind, message any, state any) transport.Result {
	st := state.(*fsmState)
	// The transport only ever delivers a Timeout for a key still armed
	// at fire time (earlier cancels/replaces are suppressed upstream),
	// so any handshake_timeout or negotiate_timeout reaching here means
	// the corresponding exchange never completed.
	if to, ok := message.(transport.Timeout); ok {
		if to.Key == handshakeTimerKey || to.Key == negotiateTimerKey {
			return transport.StopResult(nil, st)
		}
	}
	return transport.Noreply(st)
}

func (f *FSM) onHandshake(kind transport.Kind, content []byte, st *fsmState) transport.Result {
	if string(content) != ProtocolID {
		return transport.StopResult(nil, st)
	}
	st.phase = phaseNegotiate

	if kind != transport.Client {
		return transport.Noreply(st, transport.SetActive{Mode: transport.ActiveOnce})
	}

	st.selected = 0
	prefixLine, err := line.EncodeLine([]byte(f.cfg.Handlers[0].Prefix))
	if err != nil {
		return transport.StopResult(fmt.Errorf("multistream: encoding prefix line: %w", err), st)
	}
	return transport.Noreply(st,
		transport.CancelTimer{Key: handshakeTimerKey},
		transport.Send{Data: prefixLine},
		transport.SetActive{Mode: transport.ActiveOnce},
	)
}

func (f *FSM) onNegotiate(kind transport.Kind, content []byte, st *fsmState) transport.Result {
	if kind == transport.Client {
		return f.onNegotiateClient(content, st)
	}
	return f.onNegotiateServer(content, st)
}

func (f *FSM) onNegotiateClient(content []byte, st *fsmState) transport.Result {
	text := string(content)

	if text == "na" {
		st.selected++
		if st.selected >= len(f.cfg.Handlers) {
			return transport.StopResult(nil, st)
		}
		nextLine, err := line.EncodeLine([]byte(f.cfg.Handlers[st.selected].Prefix))
		if err != nil {
			return transport.StopResult(fmt.Errorf("multistream: encoding prefix line: %w", err), st)
		}
		return transport.Noreply(st, transport.Send{Data: nextLine}, transport.SetActive{Mode: transport.ActiveOnce})
	}

	if st.selected >= 0 && st.selected < len(f.cfg.Handlers) && text == f.cfg.Handlers[st.selected].Prefix {
		ph := f.cfg.Handlers[st.selected]
		return transport.Noreply(st, transport.Swap{Module: ph.Module, Opts: ph.Opts})
	}

	return transport.StopResult(nil, st)
}

func (f *FSM) onNegotiateServer(content []byte, st *fsmState) transport.Result {
	text := string(content)

	if text == "ls" {
		prefixes := make([][]byte, len(f.cfg.Handlers))
		for i, h := range f.cfg.Handlers {
			prefixes[i] = []byte(h.Prefix)
		}
		listing, err := line.EncodeLines(prefixes)
		if err != nil {
			return transport.StopResult(fmt.Errorf("multistream: encoding ls reply: %w", err), st)
		}
		return transport.Noreply(st, transport.Send{Data: listing}, transport.SetActive{Mode: transport.ActiveOnce})
	}

	for _, h := range f.cfg.Handlers {
		if !strings.HasPrefix(text, h.Prefix) {
			continue
		}
		echo, err := line.EncodeLine(content)
		if err != nil {
			return transport.StopResult(fmt.Errorf("multistream: encoding echo line: %w", err), st)
		}
		opts := mergeOpts(h.Opts, "path", text[len(h.Prefix):])
		return transport.Noreply(st,
			transport.Send{Data: echo},
			transport.CancelTimer{Key: negotiateTimerKey},
			transport.Swap{Module: h.Module, Opts: opts},
		)
	}

	na, err := line.EncodeLine([]byte("na"))
	if err != nil {
		return transport.StopResult(fmt.Errorf("multistream: encoding na line: %w", err), st)
	}
	return transport.Noreply(st, transport.Send{Data: na}, transport.SetActive{Mode: transport.ActiveOnce})
}

// decodeBareLine strips the trailing newline from payload. Unlike
// line.DecodeLine, it does not also read a leading varint: the transport
// already stripped that outer frame (packet_spec is set to [varint])
// before handing us payload, so what line.EncodeLine wrote as "varint +
// content + \n" arrives here as just "content + \n".
func decodeBareLine(payload []byte) ([]byte, error) {
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		return nil, line.ErrInvalidLine
	}
	return payload[:len(payload)-1], nil
}

func mergeOpts(opts transport.HandlerOpts, key string, value any) transport.HandlerOpts {
	out := make(transport.HandlerOpts, len(opts)+1)
	for k, v := range opts {
		out[k] = v
	}
	out[key] = value
	return out
}

func jitterMillis(min, max time.Duration) int {
	if max <= min {
		return int(min.Milliseconds())
	}
	span := (max - min).Milliseconds()
	return int(min.Milliseconds()) + rand.Intn(int(span)+1)
}
