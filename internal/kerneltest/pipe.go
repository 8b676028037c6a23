// Package kerneltest provides a scriptable fake peer and an in-memory
// transport pair for exercising the session kernel's boundary cases
// (concurrent out-of-order responses, malformed frames, mismatched-id
// responses, notification interleaving) without a real stdio/websocket/http
// transport.
package kerneltest

import (
	"context"
	"sync"

	"github.com/lattice-mcp/kernel/internal/transport"
)

// pipeTransport is one half of an in-memory duplex Transport pair: writes
// on one side land on the other's Receive, with no encoding involved.
// Delivery is FIFO per direction, implemented directly with channels.
type pipeTransport struct {
	out chan []byte
	in  <-chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Pipe returns two Transports wired to each other: messages sent on a are
// received on b and vice versa.
func Pipe() (transport.Transport, transport.Transport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	a := &pipeTransport{out: ab, in: ba, done: make(chan struct{})}
	b := &pipeTransport{out: ba, in: ab, done: make(chan struct{})}
	return a, b
}

func (t *pipeTransport) Send(ctx context.Context, msg []byte) error {
	if t.IsClosed() {
		return transport.ErrClosed
	}
	cp := append([]byte(nil), msg...)
	select {
	case t.out <- cp:
		return nil
	case <-t.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-t.in:
		if !ok {
			return nil, transport.ErrEndOfStream
		}
		return msg, nil
	case <-t.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return nil
}

func (t *pipeTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
