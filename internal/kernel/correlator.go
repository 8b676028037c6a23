package kernel

import (
	"encoding/json"
	"sync"

	"github.com/lattice-mcp/kernel/internal/protocol"
)

// awaiter is a one-shot delivery slot keyed by request id: inserted
// before send, resolved exactly once on matching response, cancellation,
// or connection close.
type awaiter struct {
	ch chan result
}

// result is what a pending request eventually resolves to: either a raw
// JSON-RPC result payload, a protocol-level *protocol.Error (which already
// satisfies the error interface), or a local transport-level error
// (ErrConnectionClosed, ErrTimeout).
type result struct {
	raw json.RawMessage
	err error
}

// correlator is the pending-request table: short critical sections only,
// never held across a transport Send. Entries are keyed by the
// id's string form since protocol.ID (a json.RawMessage) is not itself a
// valid (comparable) map key.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*awaiter
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*awaiter)}
}

// register inserts a new awaiter for id. Callers must not already hold one
// for the same id; request ids are never reused while a peer lives.
func (c *correlator) register(id protocol.ID) *awaiter {
	a := &awaiter{ch: make(chan result, 1)}
	c.mu.Lock()
	c.pending[id.String()] = a
	c.mu.Unlock()
	return a
}

// remove drops the pending entry for id without resolving it. Used when the
// caller abandons a request before its response arrives.
func (c *correlator) remove(id protocol.ID) {
	c.mu.Lock()
	delete(c.pending, id.String())
	c.mu.Unlock()
}

// deliver resolves the awaiter for id with raw/err and removes it from the
// table. It reports whether a pending entry existed; the caller is
// responsible for warning on a miss without mutating any state.
func (c *correlator) deliver(id protocol.ID, raw json.RawMessage, err error) bool {
	key := id.String()
	c.mu.Lock()
	a, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	a.ch <- result{raw: raw, err: err}
	return true
}

// drain resolves every still-pending awaiter with err and empties the
// table. Called once on peer close.
func (c *correlator) drain(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*awaiter)
	c.mu.Unlock()

	for _, a := range pending {
		a.ch <- result{err: err}
	}
}

// len reports the number of pending entries; used only by tests.
func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
