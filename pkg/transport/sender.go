package transport

import (
	"context"
)

// sender is the async co-process paired with each transport instance. It
// serializes outbound writes through a single goroutine so that, for any
// sequence of Send actions issued by one instance, bytes reach the socket
// in issuance order.
type sender struct {
	fn      SendFunc
	sendCh  chan []byte
	stopCh  chan struct{}
	stopped chan struct{}
	errCh   chan<- any
}

// newSender spawns the sender's goroutine and returns a handle to it. errCh
// receives a SendError (boxed as any, ready to hand to HandleInfo) for
// each failed write made before stop is signalled; errors from the writes
// that drain the queue after stop are discarded. errCh is never closed by
// the sender.
func newSender(ctx context.Context, fn SendFunc, queueSize int, errCh chan<- any) *sender {
	s := &sender{
		fn:      fn,
		sendCh:  make(chan []byte, queueSize),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		errCh:   errCh,
	}
	go s.run(ctx)
	return s
}

func (s *sender) run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case data := <-s.sendCh:
			if err := s.fn(data); err != nil {
				select {
				case s.errCh <- SendError{Err: err}:
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		case <-s.stopCh:
			// Drain whatever is already queued before acknowledging stop,
			// so a handler's final Send (issued in the same action list as
			// its stop) is flushed best-effort within the grace window.
			for {
				select {
				case data := <-s.sendCh:
					_ = s.fn(data)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// enqueue hands data to the sender. It never blocks the caller longer than
// it takes to grow into the queue; a full queue means the caller (the
// transport's single goroutine) will stall until the sender catches up,
// same as a synchronous socket write would.
func (s *sender) enqueue(data []byte) {
	select {
	case s.sendCh <- data:
	case <-s.stopCh:
	}
}

// stop signals the sender to stop and returns a channel that closes once
// it has drained its queue and exited.
func (s *sender) stop() <-chan struct{} {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return s.stopped
}
